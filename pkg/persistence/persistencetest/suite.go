// Package persistencetest holds behavior tests shared by every persistence backend.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Flow returns a minimal valid flow for store tests.
func Flow(id string, version int) *models.Flow {
	return &models.Flow{
		ID:      id,
		Name:    "Flow " + id,
		Type:    models.FlowTypeChatbot,
		Version: version,
		Active:  true,
		Nodes: []*models.Node{
			{ID: "hello", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hi"}},
			{ID: "bye", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{{ID: "e1", Source: "hello", Target: "bye"}},
		Triggers: []*models.Trigger{{
			ID:          "t1",
			FlowID:      id,
			Type:        models.TriggerTypeInbound,
			ChannelType: models.ChannelWhatsApp,
		}},
	}
}

// Conversation returns an active conversation for store tests.
func Conversation(flowID, channelID, userID string) *models.Conversation {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Conversation{
		ID:             uuid.NewString(),
		FlowID:         flowID,
		FlowVersion:    1,
		ChannelID:      channelID,
		ChannelType:    models.ChannelWhatsApp,
		ExternalUserID: userID,
		CurrentNodeID:  "hello",
		WaitingFor:     models.WaitingForInput,
		Status:         models.ConversationStatusActive,
		Variables:      map[string]string{"name": "Maria"},
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// RunFlowRepository checks versioned flow storage.
func RunFlowRepository(t *testing.T, repo persistence.FlowRepository) {
	t.Helper()

	ctx := context.Background()

	t.Run("versions are kept", func(t *testing.T) {
		require.NoError(t, repo.SaveFlow(ctx, Flow("support", 1)))

		v2 := Flow("support", 0)
		v2.Name = "Support v2"
		require.NoError(t, repo.SaveFlow(ctx, v2))
		assert.Equal(t, 2, v2.Version)

		latest, err := repo.FlowByID(ctx, "support")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, "Support v2", latest.Name)

		first, err := repo.FlowVersion(ctx, "support", 1)
		require.NoError(t, err)
		assert.Equal(t, "Flow support", first.Name)
		require.Len(t, first.Nodes, 2)
		assert.Equal(t, "Hi", first.Nodes[0].Data["text"])
	})

	t.Run("saving an existing version fails", func(t *testing.T) {
		err := repo.SaveFlow(ctx, Flow("support", 1))
		assert.ErrorIs(t, err, persistence.ErrFlowVersionExists)
	})

	t.Run("missing flow", func(t *testing.T) {
		_, err := repo.FlowByID(ctx, "nope")
		assert.True(t, persistence.IsFlowNotFound(err))

		_, err = repo.FlowVersion(ctx, "support", 99)
		assert.True(t, persistence.IsFlowNotFound(err))
	})

	t.Run("list returns latest versions", func(t *testing.T) {
		require.NoError(t, repo.SaveFlow(ctx, Flow("sales", 1)))

		flows, err := repo.Flows(ctx)
		require.NoError(t, err)

		versions := map[string]int{}
		for _, f := range flows {
			versions[f.ID] = f.Version
		}

		assert.Equal(t, map[string]int{"sales": 1, "support": 2}, versions)
	})
}

// RunConversationStore checks conversation state and transcript storage.
func RunConversationStore(t *testing.T, store persistence.ConversationStore) {
	t.Helper()

	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		conv := Conversation("support", "wa-1", "+5511999")
		conv.MarkProcessed("evt-1")

		require.NoError(t, store.SaveConversation(ctx, conv))

		loaded, err := store.LoadConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.CurrentNodeID, loaded.CurrentNodeID)
		assert.Equal(t, conv.Variables, loaded.Variables)
		assert.True(t, loaded.HasProcessed("evt-1"))
		assert.Equal(t, models.WaitingForInput, loaded.WaitingFor)

		conv.Variables["age"] = "20"
		conv.CurrentNodeID = "bye"
		require.NoError(t, store.SaveConversation(ctx, conv))

		loaded, err = store.LoadConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "bye", loaded.CurrentNodeID)
		assert.Equal(t, "20", loaded.Variables["age"])
	})

	t.Run("missing conversation", func(t *testing.T) {
		_, err := store.LoadConversation(ctx, uuid.NewString())
		assert.True(t, persistence.IsConversationNotFound(err))
	})

	t.Run("find active conversation", func(t *testing.T) {
		active := Conversation("support", "wa-2", "+5511888")
		ended := Conversation("support", "wa-2", "+5511777")
		ended.Status = models.ConversationStatusEnded

		require.NoError(t, store.SaveConversation(ctx, active))
		require.NoError(t, store.SaveConversation(ctx, ended))

		found, err := store.FindActiveConversation(ctx, "", "wa-2", "+5511888")
		require.NoError(t, err)
		assert.Equal(t, active.ID, found.ID)

		found, err = store.FindActiveConversation(ctx, "support", "wa-2", "+5511888")
		require.NoError(t, err)
		assert.Equal(t, active.ID, found.ID)

		_, err = store.FindActiveConversation(ctx, "sales", "wa-2", "+5511888")
		assert.True(t, persistence.IsConversationNotFound(err))

		_, err = store.FindActiveConversation(ctx, "", "wa-2", "+5511777")
		assert.True(t, persistence.IsConversationNotFound(err))
	})

	t.Run("latest conversation includes ended ones", func(t *testing.T) {
		older := Conversation("support", "wa-5", "u1")
		older.StartedAt = older.StartedAt.Add(-time.Hour)
		newer := Conversation("support", "wa-5", "u1")
		newer.Status = models.ConversationStatusEnded
		newer.ProcessedEvents = []string{"wa-final"}

		require.NoError(t, store.SaveConversation(ctx, older))
		require.NoError(t, store.SaveConversation(ctx, newer))

		latest, err := store.LatestConversation(ctx, "wa-5", "u1")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)
		assert.True(t, latest.HasProcessed("wa-final"))

		_, err = store.LatestConversation(ctx, "wa-5", "nobody")
		assert.True(t, persistence.IsConversationNotFound(err))
	})

	t.Run("active conversations by idle deadline", func(t *testing.T) {
		past := time.Now().Add(-time.Hour).UTC()
		future := time.Now().Add(time.Hour).UTC()

		stale := Conversation("idle-flow", "wa-3", "u1")
		stale.IdleDeadline = &past
		fresh := Conversation("idle-flow", "wa-3", "u2")
		fresh.IdleDeadline = &future

		require.NoError(t, store.SaveConversation(ctx, stale))
		require.NoError(t, store.SaveConversation(ctx, fresh))

		now := time.Now().UTC()
		found, err := store.ActiveConversations(ctx, persistence.ConversationFilter{FlowID: "idle-flow", IdleBefore: &now})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, stale.ID, found[0].ID)

		all, err := store.ActiveConversations(ctx, persistence.ConversationFilter{FlowID: "idle-flow"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("messages keep append order", func(t *testing.T) {
		conv := Conversation("support", "wa-4", "u1")
		require.NoError(t, store.SaveConversation(ctx, conv))

		for i, content := range []string{"Hi", "Maria", "Hello Maria"} {
			direction := models.DirectionOut
			if i == 1 {
				direction = models.DirectionIn
			}

			require.NoError(t, store.AppendMessage(ctx, &models.Message{
				ID:             uuid.NewString(),
				ConversationID: conv.ID,
				NodeID:         "n",
				Direction:      direction,
				Content:        content,
				Timestamp:      time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
			}))
		}

		messages, err := store.Messages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, "Hi", messages[0].Content)
		assert.Equal(t, models.DirectionIn, messages[1].Direction)
		assert.Equal(t, "Hello Maria", messages[2].Content)
	})
}

// RunTimerStore checks durable timer storage.
func RunTimerStore(t *testing.T, store persistence.TimerStore) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.SaveTimer(ctx, &models.Timer{ConversationID: "c2", Token: "t2", DueAt: now.Add(2 * time.Minute)}))
	require.NoError(t, store.SaveTimer(ctx, &models.Timer{ConversationID: "c1", Token: "t1", DueAt: now.Add(time.Minute)}))

	timers, err := store.Timers(ctx)
	require.NoError(t, err)
	require.Len(t, timers, 2)
	assert.Equal(t, "c1", timers[0].ConversationID)
	assert.Equal(t, "t1", timers[0].Token)
	assert.True(t, timers[0].DueAt.Equal(now.Add(time.Minute)))

	// one timer per conversation
	require.NoError(t, store.SaveTimer(ctx, &models.Timer{ConversationID: "c1", Token: "t3", DueAt: now.Add(3 * time.Minute)}))

	timers, err = store.Timers(ctx)
	require.NoError(t, err)
	require.Len(t, timers, 2)
	assert.Equal(t, "c2", timers[0].ConversationID)
	assert.Equal(t, "t3", timers[1].Token)

	require.NoError(t, store.DeleteTimer(ctx, "c1"))
	require.NoError(t, store.DeleteTimer(ctx, "c1"))

	timers, err = store.Timers(ctx)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, "c2", timers[0].ConversationID)
}
