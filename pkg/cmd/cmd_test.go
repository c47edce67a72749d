package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/convoflow/pkg/adapter/recorder"
	"github.com/dukex/convoflow/pkg/adapter/webhook"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		provider string
		rest     string
	}{
		{"./data", "file", "./data"},
		{"file:///var/lib/convoflow", "file", "/var/lib/convoflow"},
		{"memory://", "memory", ""},
		{"postgres://u:p@db/convoflow", "postgres", "u:p@db/convoflow"},
		{"mongodb://db", "mongodb", "db"},
	}

	for _, tt := range tests {
		provider, rest := parsePersistenceProvider(tt.url)
		assert.Equal(t, tt.provider, provider, tt.url)
		assert.Equal(t, tt.rest, rest, tt.url)
	}
}

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()

	p, err := NewPersistence(ctx, log.Discard(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, p)

	p, err = NewPersistence(ctx, log.Discard(), t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	_, err = NewPersistence(ctx, log.Discard(), "mongodb://db")
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewTimerStore(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()

	store, err := NewTimerStore(ctx, "", p)
	require.NoError(t, err)
	assert.Same(t, p, store)

	_, err = NewTimerStore(ctx, "etcd://somewhere", p)
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewFlowRepository(t *testing.T) {
	p := memory.NewPersistence()

	assert.Same(t, p, NewFlowRepository(p, ""))
	assert.IsType(t, &file.Persistence{}, NewFlowRepository(p, t.TempDir()))
}

func TestNewEventBus(t *testing.T) {
	bus, inbound, err := NewEventBus("none", nil, log.Discard())
	require.NoError(t, err)
	assert.Nil(t, bus)
	assert.Nil(t, inbound)

	bus, inbound, err = NewEventBus("gochannel", nil, log.Discard())
	require.NoError(t, err)
	assert.NotNil(t, bus)
	assert.NotNil(t, inbound)

	_, _, err = NewEventBus("kafka", nil, log.Discard())
	require.Error(t, err)

	_, _, err = NewEventBus("nats", nil, log.Discard())
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewChannelRegistry(t *testing.T) {
	registry, err := NewChannelRegistry(log.Discard(), "")
	require.NoError(t, err)
	assert.Len(t, registry.Channels(), 5)

	voice, err := registry.Get(models.ChannelVoice)
	require.NoError(t, err)
	assert.True(t, voice.Capabilities().Voice)

	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channels:
  - type: whatsapp
    kind: webhook
    url: http://gateway.local/whatsapp
    timeout: 3s
  - type: voice
    kind: recorder
`), 0o600))

	registry, err = NewChannelRegistry(log.Discard(), path)
	require.NoError(t, err)

	wa, err := registry.Get(models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.IsType(t, &webhook.Adapter{}, wa)

	voice, err = registry.Get(models.ChannelVoice)
	require.NoError(t, err)
	assert.IsType(t, &recorder.Recorder{}, voice)

	_, err = registry.Get(models.ChannelSMS)
	assert.Error(t, err)
}
