package models

import (
	"slices"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusEnded  ConversationStatus = "ended"
	ConversationStatusFailed ConversationStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationStatusEnded || s == ConversationStatusFailed
}

// CanTransition reports whether moving from s to next is legal.
// Only active conversations move; terminal ones are frozen.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	if s != ConversationStatusActive {
		return false
	}

	switch next {
	case ConversationStatusActive, ConversationStatusEnded, ConversationStatusFailed:
		return true
	default:
		return false
	}
}

// WaitingFor names what a suspended conversation waits on.
type WaitingFor string

const (
	WaitingForNone  WaitingFor = "none"
	WaitingForInput WaitingFor = "input"
	WaitingForAPI   WaitingFor = "api"
	WaitingForTimer WaitingFor = "timer"
)

// End reasons recorded on terminated conversations.
const (
	EndReasonCompleted     = "completed"
	EndReasonHangup        = "hangup"
	EndReasonChannelClosed = "channel_closed"
	EndReasonIdleTimeout   = "idle_timeout"
	EndReasonHopLimit      = "hop_limit"
	EndReasonNoRoute       = "no_matching_edge"
	EndReasonInputRetries  = "input_retries_exhausted"
	EndReasonAPIFailure    = "api_request_failed"
	EndReasonSendFailure   = "channel_send_failed"
	EndReasonInvalidGraph  = "invalid_graph"
)

// maxProcessedEvents bounds the dedup window kept on a conversation.
const maxProcessedEvents = 32

// Conversation is one running instance of a flow for one user on one channel.
type Conversation struct {
	ID              string             `json:"id"`
	FlowID          string             `json:"flow_id"`
	FlowVersion     int                `json:"flow_version"`
	ChannelID       string             `json:"channel_id"`
	ChannelType     ChannelType        `json:"channel_type"`
	ExternalUserID  string             `json:"external_user_id"`
	CurrentNodeID   string             `json:"current_node_id"`
	WaitingFor      WaitingFor         `json:"waiting_for"`
	WaitToken       string             `json:"wait_token,omitempty"`
	ResumeAt        *time.Time         `json:"resume_at,omitempty"`
	Attempts        int                `json:"attempts"`
	Status          ConversationStatus `json:"status"`
	EndReason       string             `json:"end_reason,omitempty"`
	Variables       map[string]string  `json:"variables"`
	ProcessedEvents []string           `json:"processed_events,omitempty"`
	IdleDeadline    *time.Time         `json:"idle_deadline,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
}

// HasProcessed reports whether the inbound event id was already applied.
func (c *Conversation) HasProcessed(eventID string) bool {
	return eventID != "" && slices.Contains(c.ProcessedEvents, eventID)
}

// MarkProcessed records eventID, keeping only the most recent ids.
func (c *Conversation) MarkProcessed(eventID string) {
	if eventID == "" || c.HasProcessed(eventID) {
		return
	}

	c.ProcessedEvents = append(c.ProcessedEvents, eventID)
	if len(c.ProcessedEvents) > maxProcessedEvents {
		c.ProcessedEvents = c.ProcessedEvents[len(c.ProcessedEvents)-maxProcessedEvents:]
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Conversation) Clone() *Conversation {
	cp := *c

	cp.Variables = make(map[string]string, len(c.Variables))
	for k, v := range c.Variables {
		cp.Variables[k] = v
	}

	cp.ProcessedEvents = slices.Clone(c.ProcessedEvents)

	if c.ResumeAt != nil {
		t := *c.ResumeAt
		cp.ResumeAt = &t
	}

	if c.IdleDeadline != nil {
		t := *c.IdleDeadline
		cp.IdleDeadline = &t
	}

	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}

	return &cp
}

// Direction of a message relative to the engine.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one entry of a conversation transcript.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	NodeID         string         `json:"node_id"`
	Direction      Direction      `json:"direction"`
	Content        string         `json:"content"`
	MediaURL       string         `json:"media_url,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
