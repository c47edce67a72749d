package events

import (
	"errors"

	"github.com/dukex/convoflow/pkg/models"
)

// ErrInvalidEventData is returned when an inbound event cannot be routed.
var ErrInvalidEventData = errors.New("invalid event data")

// InboundReceived wraps a channel event travelling through the inbound topic.
type InboundReceived struct {
	BaseEvent

	Event models.InboundEvent `json:"event"`
}

func (e InboundReceived) GetType() EventType {
	return InboundReceivedEvent
}

// NewInboundReceived wraps event, keyed for partitioning by its routing key.
func NewInboundReceived(event *models.InboundEvent) *InboundReceived {
	base := NewBaseEvent(InboundReceivedEvent, event.ConversationID, "")

	return &InboundReceived{BaseEvent: base, Event: *event}
}

// Key orders events of one user on one channel, or of one conversation for synthetic events.
func Key(event *models.InboundEvent) string {
	if event.ConversationID != "" {
		return "conversation:" + event.ConversationID
	}

	return "channel:" + event.ChannelID + ":" + event.ExternalUserID
}

// Validate checks the event can be routed to a conversation or a trigger.
func Validate(event *models.InboundEvent) error {
	if event.Kind == "" {
		return errors.Join(ErrInvalidEventData, errors.New("kind is required"))
	}

	if event.ConversationID != "" {
		return nil
	}

	if event.ChannelID == "" || event.ExternalUserID == "" {
		return errors.Join(ErrInvalidEventData, errors.New("channel_id and external_user_id are required"))
	}

	return nil
}
