package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/adapter/recorder"
	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/metrics"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type scheduledTimer struct {
	token string
	dueAt time.Time
}

type fakeScheduler struct {
	mu        sync.Mutex
	timers    map[string]scheduledTimer
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{timers: make(map[string]scheduledTimer)}
}

func (s *fakeScheduler) Schedule(_ context.Context, conversationID, token string, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers[conversationID] = scheduledTimer{token: token, dueAt: dueAt}

	return nil
}

func (s *fakeScheduler) Cancel(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.timers, conversationID)
	s.cancelled = append(s.cancelled, conversationID)

	return nil
}

func (s *fakeScheduler) timer(conversationID string) (scheduledTimer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[conversationID]

	return t, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetType())
	}

	return out
}

func (p *recordingPublisher) last(t events.EventType) eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].GetType() == t {
			return p.events[i]
		}
	}

	return nil
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Persistence
	runner    *Runner
	chat      *recorder.Recorder
	voice     *recorder.Recorder
	scheduler *fakeScheduler
	publisher *recordingPublisher
	clock     *fakeClock
	seq       int
}

func newEnv(t *testing.T, cfg Config, flows ...*models.Flow) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := log.Discard()
	store := memory.NewPersistence()

	for _, f := range flows {
		require.NoError(t, store.SaveFlow(ctx, f))
	}

	executor, err := nodes.NewExecutor(logger)
	require.NoError(t, err)

	catalog := flowgraph.NewCatalog(store, logger,
		flowgraph.WithNodeValidator(executor), flowgraph.WithConditionChecker(condition.New(logger)))
	require.NoError(t, catalog.Load(ctx))

	chat := recorder.New(adapter.Capabilities{Media: true})
	voice := recorder.New(adapter.Capabilities{Voice: true, DTMF: true})

	adapters := adapter.NewRegistry(logger)
	adapters.Register(models.ChannelWhatsApp, chat)
	adapters.Register(models.ChannelVoice, voice)

	env := &testEnv{
		t:         t,
		ctx:       ctx,
		store:     store,
		chat:      chat,
		voice:     voice,
		scheduler: newFakeScheduler(),
		publisher: &recordingPublisher{},
		clock:     &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	if cfg.SendBackoff == 0 {
		cfg.SendBackoff = time.Millisecond
	}

	env.runner, err = NewRunner(cfg, Dependencies{
		Catalog:       catalog,
		Conversations: store,
		Executor:      executor,
		Sender:        adapters,
		Scheduler:     env.scheduler,
		Publisher:     env.publisher,
		Metrics:       metrics.New(prometheus.NewRegistry()),
		Logger:        logger,
		Clock:         env.clock.Now,
	})
	require.NoError(t, err)

	return env
}

// say submits a chat message from user u1 and waits for the engine to settle.
func (e *testEnv) say(text string) {
	e.t.Helper()

	e.seq++
	e.submit(&models.InboundEvent{
		ID:             fmt.Sprintf("wa-%d", e.seq),
		Kind:           models.EventKindMessage,
		ChannelID:      "wa-1",
		ChannelType:    models.ChannelWhatsApp,
		ExternalUserID: "u1",
		Text:           text,
	})
}

func (e *testEnv) submit(event *models.InboundEvent) {
	e.runner.Submit(e.ctx, event)
	e.runner.Wait()
}

// conversation loads the most recently started conversation.
func (e *testEnv) conversation() *models.Conversation {
	e.t.Helper()

	started, ok := e.publisher.last(events.ConversationStartedEvent).(events.ConversationStarted)
	require.True(e.t, ok, "no conversation started")

	conv, err := e.store.LoadConversation(e.ctx, started.ConversationID)
	require.NoError(e.t, err)

	return conv
}

func (e *testEnv) texts() []string {
	return e.chat.Texts(e.conversation().ID)
}

func inboundTrigger(channel models.ChannelType) []*models.Trigger {
	return []*models.Trigger{{ID: "t-" + string(channel), Type: models.TriggerTypeInbound, ChannelType: channel}}
}

func greetingFlow() *models.Flow {
	return &models.Flow{
		ID: "greeting", Name: "Greeting", Type: models.FlowTypeChatbot, Version: 1, Active: true,
		Triggers: inboundTrigger(models.ChannelWhatsApp),
		Nodes: []*models.Node{
			{ID: "hi", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hi"}},
			{ID: "ask", Type: models.NodeTypeInput, Data: map[string]any{"prompt": "What is your name?", "variable": "name"}},
			{ID: "hello", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hello {{name}}"}},
			{ID: "bye", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "hi", Target: "ask"},
			{Source: "ask", Target: "hello"},
			{Source: "hello", Target: "bye"},
		},
	}
}

func menuFlow() *models.Flow {
	return &models.Flow{
		ID: "menu", Name: "Menu", Type: models.FlowTypeChatbot, Version: 1, Active: true,
		Triggers: inboundTrigger(models.ChannelWhatsApp),
		Nodes: []*models.Node{
			{ID: "choose", Type: models.NodeTypeMenu, Data: map[string]any{
				"prompt":          "Choose",
				"invalid_message": "Sorry?",
				"options": []any{
					map[string]any{"key": "1", "label": "sales"},
					map[string]any{"key": "2", "label": "support"},
				},
			}},
			{ID: "route", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Routing to {{menuSelection}}"}},
		},
		Edges: []*models.Edge{{Source: "choose", Target: "route"}},
	}
}

func waitFlow() *models.Flow {
	return &models.Flow{
		ID: "wait", Name: "Wait", Type: models.FlowTypeChatbot, Version: 1, Active: true,
		Triggers: inboundTrigger(models.ChannelWhatsApp),
		Nodes: []*models.Node{
			{ID: "hold", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hold on"}},
			{ID: "pause", Type: models.NodeTypeWait, Data: map[string]any{"duration": 5}},
			{ID: "done", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Done"}},
		},
		Edges: []*models.Edge{
			{Source: "hold", Target: "pause"},
			{Source: "pause", Target: "done"},
		},
	}
}

func count(items []string, want string) int {
	n := 0

	for _, s := range items {
		if s == want {
			n++
		}
	}

	return n
}
