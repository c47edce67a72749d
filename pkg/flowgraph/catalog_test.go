package flowgraph

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCatalog_ReloadKeepsOldVersions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveFlow(ctx, chatFlow()))

	catalog := NewCatalog(store, testLogger())

	v1, err := catalog.Active(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version())

	next := chatFlow()
	next.Version = 2
	next.Nodes[0].Data = map[string]any{"text": "Hello"}
	require.NoError(t, store.SaveFlow(ctx, next))

	// still cached until an operator reload
	same, err := catalog.Active(ctx, "greeting")
	require.NoError(t, err)
	assert.Same(t, v1, same)

	v2, err := catalog.Reload(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version())

	active, err := catalog.Active(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version())

	old, err := catalog.Version(ctx, "greeting", 1)
	require.NoError(t, err)
	assert.Same(t, v1, old)

	hi, _ := old.Node("hi")
	assert.Equal(t, "Hi", hi.Data["text"])
}

func TestCatalog_VersionLoadsFromRepository(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	require.NoError(t, store.SaveFlow(ctx, chatFlow()))

	catalog := NewCatalog(store, testLogger())

	g, err := catalog.Version(ctx, "greeting", 1)
	require.NoError(t, err)
	assert.Equal(t, "greeting", g.ID())

	_, err = catalog.Version(ctx, "greeting", 7)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestCatalog_RejectsInvalidFlow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	broken := chatFlow()
	broken.Edges[0].Target = "ghost"
	require.NoError(t, store.SaveFlow(ctx, broken))

	catalog := NewCatalog(store, testLogger())

	_, err := catalog.Active(ctx, "greeting")
	assert.True(t, IsGraphIntegrityError(err))

	_, _, err = catalog.Match(ctx, &models.InboundEvent{ChannelType: models.ChannelWhatsApp, Text: "hi"})
	assert.ErrorIs(t, err, ErrNoMatchingTrigger)
}

func TestCatalog_Match(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveFlow(ctx, chatFlow()))

	voice := &models.Flow{
		ID:      "ivr",
		Name:    "IVR",
		Type:    models.FlowTypeIVR,
		Version: 1,
		Active:  true,
		Nodes:   []*models.Node{{ID: "answer", Type: models.NodeTypeAnswer}},
		Triggers: []*models.Trigger{{
			ID:            "did",
			Type:          models.TriggerTypeInbound,
			ChannelType:   models.ChannelVoice,
			Configuration: map[string]any{"to": "+551130000000"},
		}},
	}
	require.NoError(t, store.SaveFlow(ctx, voice))

	inactive := chatFlow()
	inactive.ID = "aaa-inactive"
	inactive.Active = false
	require.NoError(t, store.SaveFlow(ctx, inactive))

	catalog := NewCatalog(store, testLogger())

	g, trigger, err := catalog.Match(ctx, &models.InboundEvent{ChannelType: models.ChannelWhatsApp, Text: " AGE "})
	require.NoError(t, err)
	assert.Equal(t, "greeting", g.ID())
	assert.Equal(t, "t2", trigger.ID)

	g, trigger, err = catalog.Match(ctx, &models.InboundEvent{ChannelType: models.ChannelWhatsApp, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", g.ID())
	assert.Equal(t, "t1", trigger.ID)

	g, _, err = catalog.Match(ctx, &models.InboundEvent{ChannelType: models.ChannelVoice, To: "+551130000000"})
	require.NoError(t, err)
	assert.Equal(t, "ivr", g.ID())

	_, _, err = catalog.Match(ctx, &models.InboundEvent{ChannelType: models.ChannelVoice, To: "+551139999999"})
	assert.ErrorIs(t, err, ErrNoMatchingTrigger)

	_, _, err = catalog.Match(ctx, &models.InboundEvent{ChannelType: models.ChannelSMS})
	assert.ErrorIs(t, err, ErrNoMatchingTrigger)
}

func TestCatalog_LoadRepositoryFailure(t *testing.T) {
	repo := &mocks.MockFlowRepository{}
	repo.On("Flows", mock.Anything).Return(nil, errors.New("connection refused"))

	catalog := NewCatalog(repo, testLogger())

	err := catalog.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	repo.AssertExpectations(t)
}
