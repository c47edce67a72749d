package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/adapter/recorder"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Send(t *testing.T) {
	reg := adapter.NewRegistry(log.Discard())
	chat := recorder.New(adapter.Capabilities{Media: true})
	voice := recorder.New(adapter.Capabilities{Voice: true, DTMF: true})

	reg.Register(models.ChannelWhatsApp, chat)
	reg.Register(models.ChannelVoice, voice)

	assert.Equal(t, []models.ChannelType{models.ChannelVoice, models.ChannelWhatsApp}, reg.Channels())

	ctx := context.Background()
	wa := &models.Conversation{ID: "c1", ChannelType: models.ChannelWhatsApp}

	require.NoError(t, reg.Send(ctx, wa, models.Action{Kind: models.ActionText, Text: "hi"}))
	assert.Equal(t, []string{"hi"}, chat.Texts("c1"))

	err := reg.Send(ctx, wa, models.Action{Kind: models.ActionDial})
	var unsupported *adapter.UnsupportedActionError
	require.ErrorAs(t, err, &unsupported)
	assert.True(t, adapter.IsPermanent(err))

	call := &models.Conversation{ID: "c2", ChannelType: models.ChannelVoice}
	require.NoError(t, reg.Send(ctx, call, models.Action{Kind: models.ActionDial}))
	assert.Len(t, voice.Sent(), 1)

	err = reg.Send(ctx, &models.Conversation{ChannelType: models.ChannelSMS}, models.Action{Kind: models.ActionText})
	require.ErrorIs(t, err, adapter.ErrNoAdapter)
	assert.True(t, adapter.IsPermanent(err))
}

func TestParseConfig(t *testing.T) {
	cfg, err := adapter.ParseConfig([]byte(`
channels:
  - type: whatsapp
    kind: webhook
    url: https://gateway.test/whatsapp
    headers:
      Authorization: Bearer abc
    timeout: 5s
  - type: voice
    kind: recorder
`))
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 2)

	assert.Equal(t, 5*time.Second, cfg.Channels[0].Timeout)
	assert.Equal(t, "Bearer abc", cfg.Channels[0].Headers["Authorization"])
	assert.False(t, cfg.Channels[0].Capabilities().Voice)
	assert.True(t, cfg.Channels[1].Capabilities().Voice)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing url":  "channels:\n  - type: sms\n    kind: webhook\n",
		"unknown kind": "channels:\n  - type: sms\n    kind: carrier-pigeon\n",
		"unknown type": "channels:\n  - type: fax\n    kind: recorder\n",
		"not yaml":     "channels: [",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := adapter.ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}
