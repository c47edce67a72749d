package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/adapter/recorder"
	"github.com/dukex/convoflow/pkg/adapter/webhook"
	"github.com/dukex/convoflow/pkg/models"
)

var allChannels = []models.ChannelType{
	models.ChannelVoice,
	models.ChannelWhatsApp,
	models.ChannelWebchat,
	models.ChannelSMS,
	models.ChannelTelegram,
}

// NewChannelRegistry builds the channel adapters described by the channels
// file. Without a file every channel gets a recorder, which suits dry runs.
func NewChannelRegistry(logger *slog.Logger, configPath string) (*adapter.Registry, error) {
	registry := adapter.NewRegistry(logger)

	if configPath == "" {
		for _, ct := range allChannels {
			registry.Register(ct, recorder.New(adapter.ChannelConfig{Type: ct, Media: true}.Capabilities()))
		}

		logger.Warn("No channels config given, outbound actions are only recorded in memory")

		return registry, nil
	}

	cfg, err := adapter.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	for _, ch := range cfg.Channels {
		switch ch.Kind {
		case "webhook":
			registry.Register(ch.Type, webhook.New(logger, webhook.Config{
				URL:          ch.URL,
				Headers:      ch.Headers,
				Timeout:      ch.Timeout,
				Capabilities: ch.Capabilities(),
			}))
		case "recorder":
			registry.Register(ch.Type, recorder.New(ch.Capabilities()))
		default:
			return nil, fmt.Errorf("%w: channel kind %q", ErrUnsupportedProvider, ch.Kind)
		}
	}

	return registry, nil
}
