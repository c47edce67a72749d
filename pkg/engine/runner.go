// Package engine drives one state machine per conversation: it routes inbound
// events, walks the flow graph node by node and persists state whenever a
// conversation suspends or terminates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/metrics"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sender delivers an outbound action to the conversation's channel.
type Sender interface {
	Send(ctx context.Context, conversation *models.Conversation, action models.Action) error
}

// Scheduler keeps durable wake-ups for conversations waiting on a timer.
type Scheduler interface {
	Schedule(ctx context.Context, conversationID, token string, dueAt time.Time) error
	Cancel(ctx context.Context, conversationID string) error
}

// Dependencies are the collaborators of a Runner. Conditions, Publisher,
// Tracer, Metrics and Clock are optional.
type Dependencies struct {
	Catalog       *flowgraph.Catalog
	Conversations persistence.ConversationStore
	Executor      *nodes.Executor
	Conditions    nodes.ConditionEvaluator
	Sender        Sender
	Scheduler     Scheduler
	Publisher     eventbus.EventPublisher
	Tracer        trace.Tracer
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Clock         func() time.Time
}

type Runner struct {
	cfg        Config
	catalog    *flowgraph.Catalog
	store      persistence.ConversationStore
	executor   *nodes.Executor
	conditions nodes.ConditionEvaluator
	sender     Sender
	scheduler  Scheduler
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	wg     sync.WaitGroup
	inbox  *serialQueue
	outbox *serialQueue
	locks  *keyedLocks
}

func NewRunner(cfg Config, deps Dependencies) (*Runner, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case deps.Conversations == nil:
		return nil, errors.New("engine: conversation store is required")
	case deps.Executor == nil:
		return nil, errors.New("engine: node executor is required")
	case deps.Sender == nil:
		return nil, errors.New("engine: sender is required")
	case deps.Scheduler == nil:
		return nil, errors.New("engine: scheduler is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "conversation_runner")

	r := &Runner{
		cfg:        cfg.withDefaults(),
		catalog:    deps.Catalog,
		store:      deps.Conversations,
		executor:   deps.Executor,
		conditions: deps.Conditions,
		sender:     deps.Sender,
		scheduler:  deps.Scheduler,
		publisher:  deps.Publisher,
		tracer:     deps.Tracer,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        deps.Clock,
		locks:      newKeyedLocks(),
	}

	if r.conditions == nil {
		r.conditions = condition.New(logger)
	}

	if r.tracer == nil {
		r.tracer = otelhelper.Noop()
	}

	if r.now == nil {
		r.now = time.Now
	}

	r.inbox = newSerialQueue(logger, &r.wg)
	r.outbox = newSerialQueue(logger, &r.wg)

	return r, nil
}

// Submit queues event for asynchronous handling. Events sharing a routing key
// (a channel user, or a conversation id) are handled one after another in
// submission order.
func (r *Runner) Submit(ctx context.Context, event *models.InboundEvent) {
	r.stamp(event)

	ctx = context.WithoutCancel(ctx)

	r.inbox.push(events.Key(event), func() {
		if _, err := r.HandleInbound(ctx, event); err != nil {
			r.logger.WarnContext(ctx, "inbound event not handled", "event_id", event.ID, "kind", event.Kind, "error", err)
		}
	})
}

// Wait blocks until every queued event, outbound action and in-flight API call is done.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) stamp(event *models.InboundEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = r.now()
	}
}

// HandleInbound resumes the active conversation of the event's user, or
// starts a new one when a trigger accepts the event.
func (r *Runner) HandleInbound(ctx context.Context, event *models.InboundEvent) (*models.Conversation, error) {
	r.stamp(event)

	if err := events.Validate(event); err != nil {
		return nil, err
	}

	if event.ConversationID != "" {
		return r.Resume(ctx, event.ConversationID, event)
	}

	unlock := r.locks.lock(events.Key(event))
	defer unlock()

	conv, err := r.store.FindActiveConversation(ctx, "", event.ChannelID, event.ExternalUserID)

	switch {
	case err == nil:
		return r.Resume(ctx, conv.ID, event)
	case !persistence.IsConversationNotFound(err):
		return nil, fmt.Errorf("finding active conversation: %w", err)
	}

	// A redelivered event that ended the previous conversation must not start a new one.
	latest, err := r.store.LatestConversation(ctx, event.ChannelID, event.ExternalUserID)

	switch {
	case err == nil && latest.HasProcessed(event.ID):
		r.ignore(ctx, event, "duplicate")

		return latest, nil
	case err != nil && !persistence.IsConversationNotFound(err):
		return nil, fmt.Errorf("finding latest conversation: %w", err)
	}

	if event.Kind.IsChannelTerminal() || event.Kind.IsSynthetic() {
		r.ignore(ctx, event, "no_conversation")

		return nil, nil
	}

	graph, trigger, err := r.catalog.Match(ctx, event)
	if err != nil {
		r.ignore(ctx, event, "no_trigger")

		return nil, err
	}

	return r.start(ctx, graph, trigger, event)
}

// Start creates a conversation for the trigger's flow and runs it until it first suspends or terminates.
func (r *Runner) Start(ctx context.Context, trigger *models.Trigger, event *models.InboundEvent) (*models.Conversation, error) {
	r.stamp(event)

	if trigger.FlowID == "" {
		return nil, fmt.Errorf("trigger %s has no flow", trigger.ID)
	}

	graph, err := r.catalog.Active(ctx, trigger.FlowID)
	if err != nil {
		return nil, err
	}

	return r.start(ctx, graph, trigger, event)
}

func (r *Runner) start(ctx context.Context, graph *flowgraph.Graph, trigger *models.Trigger, event *models.InboundEvent) (*models.Conversation, error) {
	now := r.now()

	session := make(map[string]string)

	for _, v := range graph.Flow().Variables {
		if v.Scope == models.VariableScopeSession {
			session[v.Name] = v.Default
		}
	}

	channelType := event.ChannelType
	if channelType == "" {
		channelType = trigger.ChannelType
	}

	conv := &models.Conversation{
		ID:             uuid.NewString(),
		FlowID:         graph.ID(),
		FlowVersion:    graph.Version(),
		ChannelID:      event.ChannelID,
		ChannelType:    channelType,
		ExternalUserID: event.ExternalUserID,
		CurrentNodeID:  graph.EntryNodeForTrigger(trigger).ID,
		WaitingFor:     models.WaitingForNone,
		Status:         models.ConversationStatusActive,
		Variables:      session,
		StartedAt:      now,
		UpdatedAt:      now,
	}

	unlock := r.locks.lock(conv.ID)
	defer unlock()

	conv.MarkProcessed(event.ID)
	r.recordInbound(ctx, conv, event)

	r.logger.InfoContext(ctx, "conversation started",
		"conversation_id", conv.ID, "flow_id", conv.FlowID, "flow_version", conv.FlowVersion,
		"trigger_id", trigger.ID, "channel_type", conv.ChannelType)
	r.metrics.ConversationStarted(conv.FlowID, string(conv.ChannelType))
	r.publish(ctx, conv, events.ConversationStarted{
		BaseEvent:      events.NewBaseEvent(events.ConversationStartedEvent, conv.ID, conv.FlowID),
		FlowVersion:    conv.FlowVersion,
		TriggerID:      trigger.ID,
		ChannelID:      conv.ChannelID,
		ChannelType:    conv.ChannelType,
		ExternalUserID: conv.ExternalUserID,
	})

	return conv, r.run(ctx, conv, graph, nil)
}

// Resume applies event to a conversation. Duplicate, stale and late events are ignored.
func (r *Runner) Resume(ctx context.Context, id string, event *models.InboundEvent) (*models.Conversation, error) {
	r.stamp(event)

	unlock := r.locks.lock(id)
	defer unlock()

	conv, err := r.store.LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case conv.Status.IsTerminal():
		r.ignore(ctx, event, "terminal")

		return conv, nil
	case conv.HasProcessed(event.ID):
		r.ignore(ctx, event, "duplicate")

		return conv, nil
	case !r.accepts(conv, event):
		r.ignore(ctx, event, "stale")

		return conv, nil
	}

	conv.MarkProcessed(event.ID)
	r.recordInbound(ctx, conv, event)

	graph, err := r.catalog.Version(ctx, conv.FlowID, conv.FlowVersion)
	if err != nil {
		return conv, r.finish(ctx, conv, nil, nodes.Fail(models.EndReasonInvalidGraph, err))
	}

	switch event.Kind {
	case models.EventKindHangup:
		return conv, r.finish(ctx, conv, graph, nodes.End(models.EndReasonHangup))
	case models.EventKindClose:
		return conv, r.finish(ctx, conv, graph, nodes.End(models.EndReasonChannelClosed))
	case models.EventKindIdleTimeout:
		return conv, r.finish(ctx, conv, graph, nodes.Fail(models.EndReasonIdleTimeout, ErrIdleTimeout))
	case models.EventKindSendFailed:
		cause := &ChannelSendError{
			ConversationID: conv.ID,
			NodeID:         stringPayload(event, "node_id"),
			Action:         models.ActionKind(stringPayload(event, "action")),
			Err:            errors.New(stringPayload(event, "error")),
		}
		r.alert(ctx, conv, models.EndReasonSendFailure, cause.NodeID, cause.Err)

		return conv, r.finish(ctx, conv, graph, nodes.Fail(models.EndReasonSendFailure, cause))
	}

	return conv, r.run(ctx, conv, graph, event)
}

// accepts filters events that no longer match what the conversation waits on.
func (r *Runner) accepts(conv *models.Conversation, event *models.InboundEvent) bool {
	switch event.Kind {
	case models.EventKindTimer:
		return conv.WaitingFor == models.WaitingForTimer && event.Token == conv.WaitToken
	case models.EventKindAPIResult:
		return conv.WaitingFor == models.WaitingForAPI && event.Token == conv.WaitToken
	case models.EventKindRecover:
		return conv.WaitingFor == models.WaitingForAPI
	case models.EventKindIdleTimeout:
		return conv.IdleDeadline != nil && !conv.IdleDeadline.After(r.now())
	default:
		return true
	}
}

func (r *Runner) ignore(ctx context.Context, event *models.InboundEvent, reason string) {
	r.logger.DebugContext(ctx, "event ignored", "event_id", event.ID, "kind", event.Kind, "reason", reason)
	r.metrics.EventIgnored(reason)
}

func (r *Runner) publish(ctx context.Context, conv *models.Conversation, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, conv.ID, event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish event", "type", event.GetType(), "conversation_id", conv.ID, "error", err)
	}
}

func (r *Runner) alert(ctx context.Context, conv *models.Conversation, reason, nodeID string, cause error) {
	r.logger.ErrorContext(ctx, "operator attention needed", "conversation_id", conv.ID, "reason", reason, "node_id", nodeID, "error", cause)

	alert := events.OperatorAlert{
		BaseEvent: events.NewBaseEvent(events.OperatorAlertEvent, conv.ID, conv.FlowID),
		Reason:    reason,
		NodeID:    nodeID,
	}

	if cause != nil {
		alert.Error = cause.Error()
	}

	r.publish(ctx, conv, alert)
}

func (r *Runner) recordInbound(ctx context.Context, conv *models.Conversation, event *models.InboundEvent) {
	if event.Kind != models.EventKindMessage && event.Kind != models.EventKindDTMF {
		return
	}

	r.appendMessage(ctx, &models.Message{
		ConversationID: conv.ID,
		NodeID:         conv.CurrentNodeID,
		Direction:      models.DirectionIn,
		Content:        event.Text,
		MediaURL:       event.MediaURL,
		Metadata:       map[string]any{"event_id": event.ID, "kind": string(event.Kind)},
		Timestamp:      event.ReceivedAt,
	})
}

func (r *Runner) appendMessage(ctx context.Context, msg *models.Message) {
	msg.ID = uuid.NewString()

	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.logger.WarnContext(ctx, "failed to append message", "conversation_id", msg.ConversationID, "error", err)
	}
}

func (r *Runner) spanAttributes(conv *models.Conversation) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otelhelper.ConversationIDKey, conv.ID),
		attribute.String(otelhelper.FlowIDKey, conv.FlowID),
		attribute.Int(otelhelper.FlowVersionKey, conv.FlowVersion),
		attribute.String(otelhelper.ChannelTypeKey, string(conv.ChannelType)),
	}
}

func stringPayload(event *models.InboundEvent, key string) string {
	s, _ := event.Payload[key].(string)

	return s
}
