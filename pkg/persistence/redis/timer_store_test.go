package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/persistencetest"
	timerstore "github.com/dukex/convoflow/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTimerStore(t *testing.T) (*miniredis.Miniredis, *timerstore.TimerStore) {
	t.Helper()

	mr := miniredis.RunT(t)

	store, err := timerstore.NewTimerStore(context.Background(), "redis://"+mr.Addr(), "test:")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	return mr, store
}

func TestTimerStore(t *testing.T) {
	_, store := setupTimerStore(t)

	persistencetest.RunTimerStore(t, store)
}

func TestTimerStore_KeyLayout(t *testing.T) {
	mr, store := setupTimerStore(t)
	ctx := context.Background()

	due := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	require.NoError(t, store.SaveTimer(ctx, &models.Timer{ConversationID: "conv-1", Token: "tok", DueAt: due}))

	score, err := mr.ZScore("test:timers:due", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, float64(due.UnixMilli()), score)
	assert.Equal(t, "tok", mr.HGet("test:timers:token", "conv-1"))

	assert.NoError(t, store.HealthCheck(ctx))
}

func TestNewTimerStore_InvalidURL(t *testing.T) {
	_, err := timerstore.NewTimerStore(context.Background(), "http://nope", "")
	assert.Error(t, err)
}
