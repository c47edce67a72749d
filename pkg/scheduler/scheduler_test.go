package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	timerstore "github.com/dukex/convoflow/pkg/persistence/redis"
	"github.com/dukex/convoflow/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	events []*models.InboundEvent
}

func (r *recordingSubmitter) Submit(_ context.Context, event *models.InboundEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recordingSubmitter) received() []*models.InboundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.InboundEvent, len(r.events))
	copy(out, r.events)

	return out
}

func (r *recordingSubmitter) count() int {
	return len(r.received())
}

func start(t *testing.T, s *scheduler.Scheduler, sub scheduler.Submitter) {
	t.Helper()

	require.NoError(t, s.Start(context.Background(), sub))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
}

func TestScheduler_FiresOnceWhenDue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	sub := &recordingSubmitter{}

	s := scheduler.New(store, store, log.Discard())
	start(t, s, sub)

	require.NoError(t, s.Schedule(ctx, "c1", "tok", time.Now().Add(100*time.Millisecond)))
	assert.Equal(t, 1, s.Pending())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, sub.count(), "fired early")

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	events := sub.received()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventKindTimer, events[0].Kind)
	assert.Equal(t, "c1", events[0].ConversationID)
	assert.Equal(t, "tok", events[0].Token)
	assert.Equal(t, "timer:c1:tok", events[0].ID)

	stored, err := store.Timers(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, s.Pending())
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	sub := &recordingSubmitter{}

	s := scheduler.New(store, store, log.Discard())
	start(t, s, sub)

	require.NoError(t, s.Schedule(ctx, "c1", "old", time.Now().Add(20*time.Millisecond)))
	require.NoError(t, s.Schedule(ctx, "c1", "new", time.Now().Add(40*time.Millisecond)))

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	events := sub.received()
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Token)
}

func TestScheduler_Cancel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	sub := &recordingSubmitter{}

	s := scheduler.New(store, store, log.Discard())
	start(t, s, sub)

	require.NoError(t, s.Schedule(ctx, "c1", "tok", time.Now().Add(30*time.Millisecond)))
	require.NoError(t, s.Cancel(ctx, "c1"))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, sub.count())

	stored, err := store.Timers(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestScheduler_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	timers, err := timerstore.NewTimerStore(ctx, "redis://"+mr.Addr(), "test:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = timers.Close(ctx) })

	conversations := memory.NewPersistence()
	sub := &recordingSubmitter{}

	first := scheduler.New(timers, conversations, log.Discard())
	require.NoError(t, first.Start(ctx, sub))
	require.NoError(t, first.Schedule(ctx, "c1", "tok", time.Now().Add(150*time.Millisecond)))
	require.NoError(t, first.Stop(ctx))

	second := scheduler.New(timers, conversations, log.Discard())
	start(t, second, sub)

	assert.Equal(t, 1, second.Pending())
	assert.Zero(t, sub.count())

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sub.count())
}

func TestScheduler_RecoverFromConversationState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	sub := &recordingSubmitter{}

	past := time.Now().Add(-time.Second)

	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{
		ID: "timer-wait", Status: models.ConversationStatusActive,
		WaitingFor: models.WaitingForTimer, WaitToken: "t1", ResumeAt: &past,
	}))
	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{
		ID: "api-wait", Status: models.ConversationStatusActive,
		WaitingFor: models.WaitingForAPI, WaitToken: "t2",
	}))

	s := scheduler.New(store, store, log.Discard())
	start(t, s, sub)

	require.Eventually(t, func() bool { return sub.count() == 2 }, time.Second, 5*time.Millisecond)

	kinds := map[string]models.EventKind{}
	for _, e := range sub.received() {
		kinds[e.ConversationID] = e.Kind
	}

	assert.Equal(t, models.EventKindTimer, kinds["timer-wait"])
	assert.Equal(t, models.EventKindRecover, kinds["api-wait"])
}

func TestScheduler_SweepIdle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	sub := &recordingSubmitter{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	expired := now.Add(-time.Minute)
	later := now.Add(time.Hour)

	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{
		ID: "idle", Status: models.ConversationStatusActive, WaitingFor: models.WaitingForInput, IdleDeadline: &expired,
	}))
	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{
		ID: "busy", Status: models.ConversationStatusActive, WaitingFor: models.WaitingForInput, IdleDeadline: &later,
	}))

	s := scheduler.New(store, store, log.Discard(), scheduler.WithClock(func() time.Time { return now }))
	start(t, s, sub)

	s.SweepIdle(ctx)

	events := sub.received()
	require.Len(t, events, 1)
	assert.Equal(t, "idle", events[0].ConversationID)
	assert.Equal(t, models.EventKindIdleTimeout, events[0].Kind)
}

func TestScheduler_InvalidSweepSpec(t *testing.T) {
	store := memory.NewPersistence()

	s := scheduler.New(store, store, log.Discard(), scheduler.WithIdleSweep("every minute"))

	assert.Error(t, s.Start(context.Background(), &recordingSubmitter{}))
}

func TestScheduler_ScheduleStoreFailure(t *testing.T) {
	ctx := context.Background()
	timers := &mocks.MockTimerStore{}
	timers.On("Timers", mock.Anything).Return([]*models.Timer{}, nil)
	timers.On("SaveTimer", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	store := memory.NewPersistence()
	sub := &recordingSubmitter{}

	s := scheduler.New(timers, store, log.Discard())
	start(t, s, sub)

	err := s.Schedule(ctx, "c1", "tok", time.Now().Add(10*time.Millisecond))
	require.Error(t, err)
	assert.Zero(t, s.Pending())

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, sub.count())

	timers.AssertExpectations(t)
}
