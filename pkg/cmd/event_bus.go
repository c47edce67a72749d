package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/convoflow/pkg/channels/gochannel"
	"github.com/dukex/convoflow/pkg/channels/kafka"
	"github.com/dukex/convoflow/pkg/eventbus"
)

// NewEventBus builds the lifecycle event bus and the inbound bus on one
// provider: "gochannel", "kafka" or "none". With "none" both are nil and
// inbound events go straight to the engine.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, eventbus.InboundBus, error) {
	wlogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "none":
		return nil, nil, nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wlogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), eventbus.NewInboundBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wlogger, "convoflow", brokers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		inboundPub, inboundSub, err := kafka.CreateChannel(wlogger, "convoflow-inbound", brokers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka inbound pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), eventbus.NewInboundBus(inboundPub, inboundSub, logger), nil
	default:
		return nil, nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}
