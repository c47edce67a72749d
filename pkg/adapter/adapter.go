// Package adapter is the boundary between the engine and the channels it talks to.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
)

var ErrNoAdapter = errors.New("no adapter registered for channel")

// Capabilities describes what a channel can do.
type Capabilities struct {
	Voice bool
	Media bool
	DTMF  bool
}

// ChannelAdapter delivers outbound actions to one channel type.
type ChannelAdapter interface {
	Send(ctx context.Context, conversation *models.Conversation, action models.Action) error
	Capabilities() Capabilities
}

// Registry maps channel types to adapters.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	adapters map[models.ChannelType]ChannelAdapter
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "adapter_registry"),
		adapters: make(map[models.ChannelType]ChannelAdapter),
	}
}

// Register adds or replaces the adapter of a channel type.
func (r *Registry) Register(channel models.ChannelType, a ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[channel] = a
	r.logger.Debug("channel adapter registered", "channel_type", channel, "voice", a.Capabilities().Voice)
}

func (r *Registry) Get(channel models.ChannelType) (ChannelAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoAdapter, channel)
	}

	return a, nil
}

// Channels lists the registered channel types.
func (r *Registry) Channels() []models.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ChannelType, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Send routes action to the adapter of the conversation's channel.
// Voice-only actions on a channel without voice are refused.
func (r *Registry) Send(ctx context.Context, conversation *models.Conversation, action models.Action) error {
	a, err := r.Get(conversation.ChannelType)
	if err != nil {
		return err
	}

	if requiresVoice(action.Kind) && !a.Capabilities().Voice {
		return &UnsupportedActionError{Channel: conversation.ChannelType, Kind: action.Kind}
	}

	return a.Send(ctx, conversation, action)
}

// UnsupportedActionError is returned for an action the channel cannot perform.
type UnsupportedActionError struct {
	Channel models.ChannelType
	Kind    models.ActionKind
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("channel %s cannot perform %s", e.Channel, e.Kind)
}

// IsPermanent reports whether retrying the send can never succeed.
func IsPermanent(err error) bool {
	var unsupported *UnsupportedActionError

	return errors.Is(err, ErrNoAdapter) || errors.As(err, &unsupported)
}

func requiresVoice(kind models.ActionKind) bool {
	switch kind {
	case models.ActionDial, models.ActionQueue, models.ActionVoicemail, models.ActionRecord,
		models.ActionAnswer, models.ActionHangup, models.ActionPlayback, models.ActionDTMFPrompt:
		return true
	default:
		return false
	}
}
