// Package events defines the conversation lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const Topic = "convoflow.events"         // lifecycle notifications
const InboundTopic = "convoflow.inbound" // inbound channel events waiting to be handled

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InboundReceivedEvent        EventType = "inbound.received"
	ConversationStartedEvent    EventType = "conversation.started"
	ConversationEndedEvent      EventType = "conversation.ended"
	ConversationFailedEvent     EventType = "conversation.failed"
	MessageSentEvent            EventType = "message.sent"
	OperatorAlertEvent          EventType = "operator.alert"
	ConversationTranscriptEvent EventType = "conversation.transcript"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id,omitempty"`
	FlowID         string         `json:"flow_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ConversationStarted is published once a trigger matched and the conversation exists.
type ConversationStarted struct {
	BaseEvent

	FlowVersion    int                `json:"flow_version"`
	TriggerID      string             `json:"trigger_id"`
	ChannelID      string             `json:"channel_id"`
	ChannelType    models.ChannelType `json:"channel_type"`
	ExternalUserID string             `json:"external_user_id"`
}

func (e ConversationStarted) GetType() EventType {
	return ConversationStartedEvent
}

type ConversationEnded struct {
	BaseEvent

	Reason     string `json:"reason"`
	NodeID     string `json:"node_id"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ConversationEnded) GetType() EventType {
	return ConversationEndedEvent
}

type ConversationFailed struct {
	BaseEvent

	Reason     string `json:"reason"`
	NodeID     string `json:"node_id"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ConversationFailed) GetType() EventType {
	return ConversationFailedEvent
}

// MessageSent is published after a channel adapter accepted an action.
type MessageSent struct {
	BaseEvent

	ChannelType models.ChannelType `json:"channel_type"`
	Action      models.Action      `json:"action"`
	Attempts    int                `json:"attempts"`
}

func (e MessageSent) GetType() EventType {
	return MessageSentEvent
}

// OperatorAlert asks a human to look at a conversation.
type OperatorAlert struct {
	BaseEvent

	Reason string `json:"reason"`
	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (e OperatorAlert) GetType() EventType {
	return OperatorAlertEvent
}

// ConversationTranscript carries the full transcript of an ended conversation.
type ConversationTranscript struct {
	BaseEvent

	Messages []*models.Message `json:"messages"`
}

func (e ConversationTranscript) GetType() EventType {
	return ConversationTranscriptEvent
}

func NewBaseEvent(eventType EventType, conversationID, flowID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
		FlowID:         flowID,
		Metadata:       make(map[string]any),
	}
}

// New returns an empty event value for a type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case InboundReceivedEvent:
		return &InboundReceived{}, true
	case ConversationStartedEvent:
		return &ConversationStarted{}, true
	case ConversationEndedEvent:
		return &ConversationEnded{}, true
	case ConversationFailedEvent:
		return &ConversationFailed{}, true
	case MessageSentEvent:
		return &MessageSent{}, true
	case OperatorAlertEvent:
		return &OperatorAlert{}, true
	case ConversationTranscriptEvent:
		return &ConversationTranscript{}, true
	default:
		return nil, false
	}
}
