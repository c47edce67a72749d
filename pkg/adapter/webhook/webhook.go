// Package webhook delivers outbound actions to a channel gateway over HTTP.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

// Payload is the JSON body posted for each action.
type Payload struct {
	ConversationID string             `json:"conversation_id"`
	FlowID         string             `json:"flow_id"`
	ChannelID      string             `json:"channel_id"`
	ChannelType    models.ChannelType `json:"channel_type"`
	ExternalUserID string             `json:"external_user_id"`
	Action         models.Action      `json:"action"`
}

type Config struct {
	URL          string
	Headers      map[string]string
	Timeout      time.Duration
	Capabilities adapter.Capabilities
}

type Adapter struct {
	logger *slog.Logger
	config Config
	client *resty.Client
}

func New(logger *slog.Logger, config Config) *Adapter {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(config.Headers)

	return &Adapter{
		logger: logger.With("module", "webhook_adapter", "url", config.URL),
		config: config,
		client: client,
	}
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return a.config.Capabilities
}

func (a *Adapter) Send(ctx context.Context, conversation *models.Conversation, action models.Action) error {
	body := Payload{
		ConversationID: conversation.ID,
		FlowID:         conversation.FlowID,
		ChannelID:      conversation.ChannelID,
		ChannelType:    conversation.ChannelType,
		ExternalUserID: conversation.ExternalUserID,
		Action:         action,
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(a.config.URL)
	if err != nil {
		return fmt.Errorf("posting action to gateway: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("gateway responded %s", resp.Status())
	}

	a.logger.DebugContext(ctx, "action delivered", "conversation_id", conversation.ID, "kind", action.Kind)

	return nil
}
