package engine

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/google/uuid"
)

// conversationOutbox is the nodes.Outbox of one conversation.
type conversationOutbox struct {
	runner       *Runner
	conversation *models.Conversation
	sent         int
}

func (o *conversationOutbox) Send(ctx context.Context, action models.Action) {
	o.sent++
	o.runner.send(ctx, o.conversation, action)
}

// send records action in the transcript and queues its delivery. Deliveries of
// one conversation happen one at a time, in order.
func (r *Runner) send(ctx context.Context, conv *models.Conversation, action models.Action) {
	r.appendMessage(ctx, &models.Message{
		ConversationID: conv.ID,
		NodeID:         action.NodeID,
		Direction:      models.DirectionOut,
		Content:        action.Text,
		MediaURL:       action.MediaURL,
		Metadata:       map[string]any{"kind": string(action.Kind)},
		Timestamp:      r.now(),
	})

	snapshot := conv.Clone()
	ctx = context.WithoutCancel(ctx)

	r.outbox.push(conv.ID, func() {
		r.deliver(ctx, snapshot, action)
	})
}

func (r *Runner) deliver(ctx context.Context, conv *models.Conversation, action models.Action) {
	attempts := 0

	operation := func() error {
		attempts++

		err := r.sender.Send(ctx, conv, action)
		if err != nil && adapter.IsPermanent(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.SendBackoff

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.SendRetries)), ctx))
	r.metrics.ActionSent(string(conv.ChannelType), err)

	if err != nil {
		sendErr := &ChannelSendError{ConversationID: conv.ID, NodeID: action.NodeID, Action: action.Kind, Attempts: attempts, Err: err}
		r.logger.ErrorContext(ctx, "outbound action dropped", "conversation_id", conv.ID, "error", sendErr)

		r.Submit(ctx, &models.InboundEvent{
			ID:             "send_failed:" + conv.ID + ":" + uuid.NewString(),
			Kind:           models.EventKindSendFailed,
			ConversationID: conv.ID,
			Payload: map[string]any{
				"node_id": action.NodeID,
				"action":  string(action.Kind),
				"error":   sendErr.Error(),
			},
		})

		return
	}

	r.publish(ctx, conv, events.MessageSent{
		BaseEvent:   events.NewBaseEvent(events.MessageSentEvent, conv.ID, conv.FlowID),
		ChannelType: conv.ChannelType,
		Action:      action,
		Attempts:    attempts,
	})
}
