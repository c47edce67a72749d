package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// ErrIdleTimeout is the cause recorded on conversations closed by the idle watchdog.
var ErrIdleTimeout = errors.New("conversation idle for too long")

// ErrIllegalTransition is returned when a conversation would leave a terminal status.
var ErrIllegalTransition = errors.New("illegal conversation status transition")

// ChannelSendError is an outbound action that could not be delivered after every retry.
type ChannelSendError struct {
	ConversationID string
	NodeID         string
	Action         models.ActionKind
	Attempts       int
	Err            error
}

func (e *ChannelSendError) Error() string {
	return fmt.Sprintf("sending %s for conversation %s failed after %d attempts: %v", e.Action, e.ConversationID, e.Attempts, e.Err)
}

func (e *ChannelSendError) Unwrap() error {
	return e.Err
}

// Config tunes the runner. Zero values take the defaults.
type Config struct {
	// MaxHops bounds node executions per event. Flows may lower it.
	MaxHops int
	// IdleTimeout is how long a suspended conversation may wait before the watchdog closes it.
	IdleTimeout time.Duration
	// SendRetries is how many times a failed outbound action is retried. Negative disables retries.
	SendRetries int
	// SendBackoff is the first retry interval; later ones grow exponentially.
	SendBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxHops:     50,
		IdleTimeout: 24 * time.Hour,
		SendRetries: 3,
		SendBackoff: 200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxHops <= 0 {
		c.MaxHops = d.MaxHops
	}

	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}

	switch {
	case c.SendRetries == 0:
		c.SendRetries = d.SendRetries
	case c.SendRetries < 0:
		c.SendRetries = 0
	}

	if c.SendBackoff <= 0 {
		c.SendBackoff = d.SendBackoff
	}

	return c
}
