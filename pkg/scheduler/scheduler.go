// Package scheduler wakes suspended conversations: it fires wait-node timers,
// re-drives API calls interrupted by a restart and closes idle conversations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultIdleSweep = "@every 1m"

// Submitter receives the synthetic events produced by the scheduler.
type Submitter interface {
	Submit(ctx context.Context, event *models.InboundEvent)
}

type Option func(*Scheduler)

// WithIdleSweep sets the cron spec of the idle watchdog.
func WithIdleSweep(spec string) Option {
	return func(s *Scheduler) { s.idleSweep = spec }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler keeps one armed timer per waiting conversation. Timers are saved
// in the TimerStore before they are armed, so Start can re-arm them after a restart.
type Scheduler struct {
	timers        persistence.TimerStore
	conversations persistence.ConversationStore
	logger        *slog.Logger
	idleSweep     string
	now           func() time.Time

	mu        sync.Mutex
	armed     map[string]*armedTimer
	submitter Submitter
	ctx       context.Context
	cron      *cron.Cron
	started   bool
}

type armedTimer struct {
	token string
	timer *time.Timer
}

func New(timers persistence.TimerStore, conversations persistence.ConversationStore, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		timers:        timers,
		conversations: conversations,
		logger:        logger.With("module", "scheduler"),
		idleSweep:     DefaultIdleSweep,
		now:           time.Now,
		armed:         make(map[string]*armedTimer),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start recovers pending work and begins firing timers into submitter.
func (s *Scheduler) Start(ctx context.Context, submitter Submitter) error {
	s.mu.Lock()

	if s.started {
		s.mu.Unlock()

		return nil
	}

	if _, err := cron.ParseStandard(s.idleSweep); err != nil {
		s.mu.Unlock()

		return fmt.Errorf("invalid idle sweep spec %q: %w", s.idleSweep, err)
	}

	s.submitter = submitter
	s.ctx = context.WithoutCancel(ctx)
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.idleSweep, func() { s.SweepIdle(s.ctx) }); err != nil {
		s.mu.Unlock()

		return fmt.Errorf("failed to add idle sweep: %w", err)
	}

	s.started = true
	s.mu.Unlock()

	if err := s.Recover(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "idle_sweep", s.idleSweep)

	return nil
}

// Stop disarms every timer. Stored timers survive and are re-armed by the next Start.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()

		return nil
	}

	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.armed {
		a.timer.Stop()
		delete(s.armed, id)
	}

	s.started = false
	s.logger.Info("Scheduler stopped")

	return nil
}

// Schedule stores a wake-up for conversationID and arms it.
// A conversation has at most one timer; scheduling replaces the previous one.
func (s *Scheduler) Schedule(ctx context.Context, conversationID, token string, dueAt time.Time) error {
	if err := s.timers.SaveTimer(ctx, &models.Timer{ConversationID: conversationID, Token: token, DueAt: dueAt}); err != nil {
		return fmt.Errorf("saving timer: %w", err)
	}

	s.arm(conversationID, token, dueAt)

	return nil
}

// Cancel disarms and forgets the timer of conversationID.
func (s *Scheduler) Cancel(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if a, ok := s.armed[conversationID]; ok {
		a.timer.Stop()
		delete(s.armed, conversationID)
	}
	s.mu.Unlock()

	return s.timers.DeleteTimer(ctx, conversationID)
}

// Pending reports how many timers are armed in this process.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.armed)
}

func (s *Scheduler) arm(conversationID, token string, dueAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	if a, ok := s.armed[conversationID]; ok {
		a.timer.Stop()
	}

	delay := max(dueAt.Sub(s.now()), 0)

	s.armed[conversationID] = &armedTimer{
		token: token,
		timer: time.AfterFunc(delay, func() { s.fire(conversationID, token) }),
	}
}

// fire hands the wake-up to the engine. The stored timer is removed first:
// a crash in between leaves the conversation itself waiting, and Recover
// re-arms it from there.
func (s *Scheduler) fire(conversationID, token string) {
	s.mu.Lock()

	a, ok := s.armed[conversationID]
	if !ok || a.token != token || !s.started {
		s.mu.Unlock()

		return
	}

	delete(s.armed, conversationID)
	ctx, submitter := s.ctx, s.submitter
	s.mu.Unlock()

	if err := s.timers.DeleteTimer(ctx, conversationID); err != nil {
		s.logger.Warn("Failed to delete fired timer", "conversation_id", conversationID, "error", err)
	}

	s.logger.Debug("Timer fired", "conversation_id", conversationID)

	submitter.Submit(ctx, &models.InboundEvent{
		ID:             "timer:" + conversationID + ":" + token,
		Kind:           models.EventKindTimer,
		ConversationID: conversationID,
		Token:          token,
	})
}

// Recover re-arms stored timers, re-arms timer waits whose stored timer was
// lost, and asks conversations stuck on an API call to re-issue it.
func (s *Scheduler) Recover(ctx context.Context) error {
	stored, err := s.timers.Timers(ctx)
	if err != nil {
		return fmt.Errorf("loading timers: %w", err)
	}

	known := make(map[string]bool, len(stored))

	for _, t := range stored {
		known[t.ConversationID] = true
		s.arm(t.ConversationID, t.Token, t.DueAt)
	}

	waiting, err := s.conversations.ActiveConversations(ctx, persistence.ConversationFilter{WaitingFor: models.WaitingForTimer})
	if err != nil {
		return fmt.Errorf("loading timer waits: %w", err)
	}

	for _, c := range waiting {
		if known[c.ID] || c.ResumeAt == nil {
			continue
		}

		if err := s.Schedule(ctx, c.ID, c.WaitToken, *c.ResumeAt); err != nil {
			return err
		}
	}

	calls, err := s.conversations.ActiveConversations(ctx, persistence.ConversationFilter{WaitingFor: models.WaitingForAPI})
	if err != nil {
		return fmt.Errorf("loading api waits: %w", err)
	}

	s.mu.Lock()
	submitter := s.submitter
	s.mu.Unlock()

	if submitter == nil && len(calls) > 0 {
		return errors.New("scheduler: recover needs a started scheduler")
	}

	for _, c := range calls {
		submitter.Submit(ctx, &models.InboundEvent{
			ID:             "recover:" + c.ID + ":" + c.WaitToken,
			Kind:           models.EventKindRecover,
			ConversationID: c.ID,
		})
	}

	s.logger.Info("Scheduler recovered pending work",
		"stored_timers", len(stored), "timer_waits", len(waiting), "api_waits", len(calls))

	return nil
}

// SweepIdle submits an idle_timeout event for every conversation past its idle deadline.
func (s *Scheduler) SweepIdle(ctx context.Context) {
	now := s.now()

	idle, err := s.conversations.ActiveConversations(ctx, persistence.ConversationFilter{IdleBefore: &now})
	if err != nil {
		s.logger.Error("Failed to load idle conversations", "error", err)

		return
	}

	s.mu.Lock()
	submitter := s.submitter
	s.mu.Unlock()

	if submitter == nil {
		return
	}

	for _, c := range idle {
		deadline := ""
		if c.IdleDeadline != nil {
			deadline = strconv.FormatInt(c.IdleDeadline.UnixMilli(), 10)
		}

		submitter.Submit(ctx, &models.InboundEvent{
			ID:             "idle:" + c.ID + ":" + deadline,
			Kind:           models.EventKindIdleTimeout,
			ConversationID: c.ID,
		})
	}

	if len(idle) > 0 {
		s.logger.Info("Idle conversations closed", "count", len(idle))
	}
}
