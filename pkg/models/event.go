package models

import "time"

// EventKind classifies inbound and synthetic events.
type EventKind string

const (
	EventKindMessage     EventKind = "message"
	EventKindDTMF        EventKind = "dtmf"
	EventKindCallStart   EventKind = "call_start"
	EventKindHangup      EventKind = "hangup"
	EventKindClose       EventKind = "close"
	EventKindTimer       EventKind = "timer"
	EventKindIdleTimeout EventKind = "idle_timeout"
	EventKindAPIResult   EventKind = "api_result"
	EventKindSendFailed  EventKind = "send_failed"
	EventKindRecover     EventKind = "recover"
)

// IsChannelTerminal reports whether the channel leg is gone.
func (k EventKind) IsChannelTerminal() bool {
	return k == EventKindHangup || k == EventKindClose
}

// IsSynthetic reports whether the engine itself produced the event.
func (k EventKind) IsSynthetic() bool {
	switch k {
	case EventKindTimer, EventKindIdleTimeout, EventKindAPIResult, EventKindSendFailed, EventKindRecover:
		return true
	default:
		return false
	}
}

// InboundEvent is what a channel adapter or the scheduler feeds into the engine.
// Synthetic events carry ConversationID; channel events carry ChannelID and ExternalUserID.
type InboundEvent struct {
	ID             string         `json:"id"`
	Kind           EventKind      `json:"kind"`
	ChannelID      string         `json:"channel_id,omitempty"`
	ChannelType    ChannelType    `json:"channel_type,omitempty"`
	ExternalUserID string         `json:"external_user_id,omitempty"`
	To             string         `json:"to,omitempty"`
	Text           string         `json:"text,omitempty"`
	MediaURL       string         `json:"media_url,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Token          string         `json:"token,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// Value returns the user-provided value of the event.
func (e *InboundEvent) Value() string {
	if e == nil {
		return ""
	}

	return e.Text
}

// ActionKind is the outbound operation requested from a channel adapter.
type ActionKind string

const (
	ActionText       ActionKind = "text"
	ActionMedia      ActionKind = "media"
	ActionDTMFPrompt ActionKind = "dtmf_prompt"
	ActionPlayback   ActionKind = "playback"
	ActionTTS        ActionKind = "tts"
	ActionDial       ActionKind = "dial"
	ActionQueue      ActionKind = "queue"
	ActionVoicemail  ActionKind = "voicemail"
	ActionRecord     ActionKind = "record"
	ActionAnswer     ActionKind = "answer"
	ActionHangup     ActionKind = "hangup"
)

// Action is an outbound instruction for a channel adapter.
type Action struct {
	Kind     ActionKind     `json:"kind"`
	NodeID   string         `json:"node_id,omitempty"`
	Text     string         `json:"text,omitempty"`
	MediaURL string         `json:"media_url,omitempty"`
	Options  []string       `json:"options,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Timer is a durable wake-up request for a suspended conversation.
type Timer struct {
	ConversationID string    `json:"conversation_id"`
	Token          string    `json:"token"`
	DueAt          time.Time `json:"due_at"`
}
