package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
)

// InboundHandler is called for every inbound event read from the bus.
type InboundHandler func(ctx context.Context, event *models.InboundEvent) error

// InboundBus moves inbound channel events between the gateway edge and the engine.
type InboundBus interface {
	PublishInbound(ctx context.Context, event *models.InboundEvent) error
	HandleInbound(handler InboundHandler)
	SubscribeInbound(ctx context.Context) error
	Close() error
}

type watermillInboundBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   []InboundHandler
	logger     *slog.Logger
}

func NewInboundBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) InboundBus {
	return &watermillInboundBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make([]InboundHandler, 0),
		logger:     logger.With("module", "inbound_bus"),
	}
}

// PublishInbound publishes event keyed by its ordering key so one user's events stay in one partition.
func (b *watermillInboundBus) PublishInbound(ctx context.Context, event *models.InboundEvent) error {
	if err := events.Validate(event); err != nil {
		return err
	}

	payload, err := json.Marshal(events.NewInboundReceived(event))
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, events.Key(event))
	msg.Metadata.Set(events.EventTypeMetadataKey, string(events.InboundReceivedEvent))

	b.logger.DebugContext(ctx, "publishing inbound event", "event_id", event.ID, "kind", event.Kind, "topic", events.InboundTopic)

	return b.publisher.Publish(events.InboundTopic, msg)
}

func (b *watermillInboundBus) HandleInbound(handler InboundHandler) {
	b.handlers = append(b.handlers, handler)
}

func (b *watermillInboundBus) SubscribeInbound(ctx context.Context) error {
	if len(b.handlers) == 0 {
		b.logger.Warn("no handlers registered for inbound events")

		return nil
	}

	messages, err := b.subscriber.Subscribe(ctx, events.InboundTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var received events.InboundReceived
			if err := json.Unmarshal(msg.Payload, &received); err != nil {
				b.logger.Error("failed to decode inbound event", "error", err, "message_id", msg.UUID)
				msg.Nack()

				continue
			}

			ok := true

			for _, handler := range b.handlers {
				if err := handler(ctx, &received.Event); err != nil {
					b.logger.Error("inbound handler failed", "error", err, "event_id", received.Event.ID)
					ok = false
				}
			}

			if ok {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

func (b *watermillInboundBus) Close() error {
	var publisherErr, subscriberErr error

	if b.publisher != nil {
		publisherErr = b.publisher.Close()
	}

	if b.subscriber != nil {
		subscriberErr = b.subscriber.Close()
	}

	if publisherErr != nil {
		return publisherErr
	}

	return subscriberErr
}
