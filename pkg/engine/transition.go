package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/scope"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// run executes nodes from the conversation's current node until one suspends
// or terminates. event is handed to the first node only.
func (r *Runner) run(ctx context.Context, conv *models.Conversation, graph *flowgraph.Graph, event *models.InboundEvent) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "conversation.transition", r.spanAttributes(conv)...)
	defer span.End()

	if event != nil {
		span.SetAttributes(
			attribute.String(otelhelper.EventIDKey, event.ID),
			attribute.String(otelhelper.EventKindKey, string(event.Kind)),
		)
	}

	sc := scope.New(graph.Defaults(), conv.Variables)
	attempts := conv.Attempts
	maxHops := r.maxHops(graph)

	for hop := 0; ; hop++ {
		if hop >= maxHops {
			err := fmt.Errorf("more than %d nodes executed for one event, last node %s", maxHops, conv.CurrentNodeID)

			return r.finish(ctx, conv, graph, nodes.Fail(models.EndReasonHopLimit, err))
		}

		node, ok := graph.Node(conv.CurrentNodeID)
		if !ok {
			err := fmt.Errorf("node %s not found in flow %s@v%d", conv.CurrentNodeID, graph.ID(), graph.Version())

			return r.finish(ctx, conv, graph, nodes.Fail(models.EndReasonInvalidGraph, err))
		}

		d := r.execute(ctx, conv, graph, sc, node, event, attempts)
		conv.Variables = sc.Session()
		event, attempts = nil, 0

		switch d.Kind {
		case nodes.DirectiveContinue:
			if d.FlowID != "" {
				target, err := r.jump(ctx, conv, d)
				if err != nil {
					return r.finish(ctx, conv, graph, nodes.Fail(models.EndReasonInvalidGraph, err))
				}

				graph = target
				sc = scope.New(graph.Defaults(), sc.Session())
				maxHops = min(maxHops, r.maxHops(graph))
			}

			next := d.Next
			if next == "" {
				next = graph.EntryNode().ID
			}

			conv.CurrentNodeID = next
			conv.WaitingFor = models.WaitingForNone
			conv.WaitToken = ""
			conv.ResumeAt = nil
			conv.Attempts = 0
		case nodes.DirectiveSuspend:
			return r.suspend(ctx, conv, d)
		default:
			return r.finish(ctx, conv, graph, d)
		}
	}
}

func (r *Runner) maxHops(graph *flowgraph.Graph) int {
	if h := graph.MaxHops(); h > 0 && h < r.cfg.MaxHops {
		return h
	}

	return r.cfg.MaxHops
}

func (r *Runner) execute(
	ctx context.Context,
	conv *models.Conversation,
	graph *flowgraph.Graph,
	sc *scope.Scope,
	node *models.Node,
	event *models.InboundEvent,
	attempts int,
) nodes.Directive {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "node.execute",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	start := time.Now()
	outbox := &conversationOutbox{runner: r, conversation: conv}

	d := r.executor.Execute(ctx, &nodes.Request{
		Conversation: conv,
		Node:         node,
		Graph:        graph,
		Scope:        sc,
		Conditions:   r.conditions,
		Outbox:       outbox,
		Event:        event,
		Attempts:     attempts,
		Logger:       r.logger.With("conversation_id", conv.ID, "node_id", node.ID),
	})

	span.SetAttributes(attribute.String(otelhelper.DirectiveKey, d.Kind.String()))

	if d.Err != nil {
		otelhelper.SetError(span, d.Err)
	}

	r.metrics.NodeExecuted(string(node.Type), d.Kind.String(), time.Since(start))

	// Visits that sent nothing still leave a trace in the transcript.
	if outbox.sent == 0 {
		r.appendMessage(ctx, &models.Message{
			ConversationID: conv.ID,
			NodeID:         node.ID,
			Direction:      models.DirectionOut,
			Metadata:       map[string]any{"kind": "visit", "node_type": string(node.Type), "directive": d.Kind.String()},
			Timestamp:      r.now(),
		})
	}

	return d
}

// jump moves the conversation onto the active version of another flow.
func (r *Runner) jump(ctx context.Context, conv *models.Conversation, d nodes.Directive) (*flowgraph.Graph, error) {
	target, err := r.catalog.Active(ctx, d.FlowID)
	if err != nil {
		return nil, fmt.Errorf("goto flow %s: %w", d.FlowID, err)
	}

	if d.Next != "" {
		if _, ok := target.Node(d.Next); !ok {
			return nil, fmt.Errorf("goto flow %s: node %s not found", d.FlowID, d.Next)
		}
	}

	r.logger.InfoContext(ctx, "conversation moved to another flow",
		"conversation_id", conv.ID, "from_flow", conv.FlowID, "to_flow", target.ID(), "to_version", target.Version())

	conv.FlowID = target.ID()
	conv.FlowVersion = target.Version()

	return target, nil
}

func (r *Runner) suspend(ctx context.Context, conv *models.Conversation, d nodes.Directive) error {
	now := r.now()
	idle := now.Add(r.cfg.IdleTimeout)
	conv.IdleDeadline = &idle

	if d.Keep {
		conv.Attempts = d.Attempts

		return r.save(ctx, conv)
	}

	conv.WaitingFor = d.WaitingFor
	conv.WaitToken = uuid.NewString()
	conv.Attempts = d.Attempts
	conv.ResumeAt = nil

	if d.Duration > 0 {
		at := now.Add(d.Duration)
		conv.ResumeAt = &at
	}

	if err := r.save(ctx, conv); err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "conversation suspended",
		"conversation_id", conv.ID, "node_id", conv.CurrentNodeID, "waiting_for", conv.WaitingFor)

	switch conv.WaitingFor {
	case models.WaitingForTimer:
		if err := r.scheduler.Schedule(ctx, conv.ID, conv.WaitToken, *conv.ResumeAt); err != nil {
			return fmt.Errorf("scheduling timer: %w", err)
		}
	case models.WaitingForAPI:
		r.callAPI(ctx, conv.Clone(), d.Call)
	}

	return nil
}

// callAPI runs call off the conversation's worker and feeds the result back as an api_result event.
func (r *Runner) callAPI(ctx context.Context, conv *models.Conversation, call *nodes.APICall) {
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		start := time.Now()
		result := r.executor.APIClient().Do(ctx, call)
		r.metrics.APIRequest(result.Success(), time.Since(start))

		r.Submit(ctx, &models.InboundEvent{
			ID:             "api:" + conv.ID + ":" + conv.WaitToken,
			Kind:           models.EventKindAPIResult,
			ConversationID: conv.ID,
			Token:          conv.WaitToken,
			Payload:        result.Payload(),
		})
	}()
}

func (r *Runner) finish(ctx context.Context, conv *models.Conversation, graph *flowgraph.Graph, d nodes.Directive) error {
	if !conv.Status.CanTransition(d.Status) {
		return fmt.Errorf("%w: %s -> %s for conversation %s", ErrIllegalTransition, conv.Status, d.Status, conv.ID)
	}

	if conv.WaitingFor == models.WaitingForTimer {
		if err := r.scheduler.Cancel(ctx, conv.ID); err != nil {
			r.logger.WarnContext(ctx, "failed to cancel timer", "conversation_id", conv.ID, "error", err)
		}
	}

	now := r.now()

	conv.Status = d.Status
	conv.EndReason = d.Reason
	conv.EndedAt = &now
	conv.WaitingFor = models.WaitingForNone
	conv.WaitToken = ""
	conv.ResumeAt = nil
	conv.IdleDeadline = nil
	conv.Attempts = 0

	if err := r.save(ctx, conv); err != nil {
		return err
	}

	duration := now.Sub(conv.StartedAt).Milliseconds()
	r.metrics.ConversationEnded(conv.FlowID, string(conv.Status), conv.EndReason)

	if conv.Status == models.ConversationStatusFailed {
		r.logger.WarnContext(ctx, "conversation failed",
			"conversation_id", conv.ID, "node_id", conv.CurrentNodeID, "reason", conv.EndReason, "error", d.Err)

		failed := events.ConversationFailed{
			BaseEvent:  events.NewBaseEvent(events.ConversationFailedEvent, conv.ID, conv.FlowID),
			Reason:     conv.EndReason,
			NodeID:     conv.CurrentNodeID,
			DurationMs: duration,
		}

		if d.Err != nil {
			failed.Error = d.Err.Error()
		}

		r.publish(ctx, conv, failed)

		if conv.EndReason == models.EndReasonHopLimit || conv.EndReason == models.EndReasonInvalidGraph {
			r.alert(ctx, conv, conv.EndReason, conv.CurrentNodeID, d.Err)
		}

		return nil
	}

	r.logger.InfoContext(ctx, "conversation ended", "conversation_id", conv.ID, "node_id", conv.CurrentNodeID, "reason", conv.EndReason)
	r.publish(ctx, conv, events.ConversationEnded{
		BaseEvent:  events.NewBaseEvent(events.ConversationEndedEvent, conv.ID, conv.FlowID),
		Reason:     conv.EndReason,
		NodeID:     conv.CurrentNodeID,
		DurationMs: duration,
	})

	if d.Transcript || (graph != nil && graph.Flow().Settings.PersistTranscript) {
		r.publishTranscript(ctx, conv)
	}

	return nil
}

func (r *Runner) publishTranscript(ctx context.Context, conv *models.Conversation) {
	if r.publisher == nil {
		return
	}

	messages, err := r.store.Messages(ctx, conv.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load transcript", "conversation_id", conv.ID, "error", err)

		return
	}

	r.publish(ctx, conv, events.ConversationTranscript{
		BaseEvent: events.NewBaseEvent(events.ConversationTranscriptEvent, conv.ID, conv.FlowID),
		Messages:  messages,
	})
}

func (r *Runner) save(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = r.now()

	if err := r.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.ID, err)
	}

	return nil
}
