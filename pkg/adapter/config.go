package adapter

import (
	"fmt"
	"os"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the channels file, for example:
//
//	channels:
//	  - type: whatsapp
//	    kind: webhook
//	    url: https://gateway.internal/whatsapp
//	    headers: {Authorization: "Bearer ..."}
//	    timeout: 5s
//	  - type: voice
//	    kind: recorder
//	    voice: true
type Config struct {
	Channels []ChannelConfig `yaml:"channels" validate:"dive"`
}

type ChannelConfig struct {
	Type    models.ChannelType `yaml:"type"    validate:"required,oneof=voice whatsapp webchat sms telegram"`
	Kind    string             `yaml:"kind"    validate:"required,oneof=webhook recorder"`
	URL     string             `yaml:"url"     validate:"required_if=Kind webhook"`
	Headers map[string]string  `yaml:"headers"`
	Timeout time.Duration      `yaml:"timeout"`
	Voice   bool               `yaml:"voice"`
	Media   bool               `yaml:"media"`
}

// Capabilities of the configured channel. The voice channel always has voice.
func (c ChannelConfig) Capabilities() Capabilities {
	voice := c.Voice || c.Type.IsVoice()

	return Capabilities{Voice: voice, Media: c.Media, DTMF: voice}
}

// LoadConfig reads and validates a channels file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading channels config: %w", err)
	}

	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing channels config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid channels config: %w", err)
	}

	return &cfg, nil
}
