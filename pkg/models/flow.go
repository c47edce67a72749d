// Package models defines the core domain models for graph-driven conversations.
package models

import "time"

// FlowType describes what kind of channel experience a flow was built for.
type FlowType string

const (
	FlowTypeIVR     FlowType = "ivr"
	FlowTypeChatbot FlowType = "chatbot"
	FlowTypeHybrid  FlowType = "hybrid"
)

// ChannelType identifies the transport a conversation runs on.
type ChannelType string

const (
	ChannelVoice    ChannelType = "voice"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelWebchat  ChannelType = "webchat"
	ChannelSMS      ChannelType = "sms"
	ChannelTelegram ChannelType = "telegram"
)

// IsVoice reports whether the channel carries a call leg.
func (c ChannelType) IsVoice() bool {
	return c == ChannelVoice
}

// Flow is an immutable, versioned conversation graph. Edits are saved as a new
// version and only apply to conversations started afterwards.
type Flow struct {
	ID          string         `json:"id"                      yaml:"id"                      validate:"required"`
	Name        string         `json:"name"                    yaml:"name"                    validate:"required,min=1"`
	Type        FlowType       `json:"type"                    yaml:"type"                    validate:"omitempty,oneof=ivr chatbot hybrid"`
	Version     int            `json:"version"                 yaml:"version"                 validate:"gte=1"`
	Active      bool           `json:"active"                  yaml:"active"`
	EntryNodeID string         `json:"entry_node_id,omitempty" yaml:"entry_node_id,omitempty"`
	Nodes       []*Node        `json:"nodes"                   yaml:"nodes"                   validate:"required,min=1,dive"`
	Edges       []*Edge        `json:"edges"                   yaml:"edges"                   validate:"dive"`
	Triggers    []*Trigger     `json:"triggers,omitempty"      yaml:"triggers,omitempty"      validate:"dive"`
	Variables   []*Variable    `json:"variables,omitempty"     yaml:"variables,omitempty"     validate:"dive"`
	Settings    FlowSettings   `json:"settings"                yaml:"settings"`
	Metadata    map[string]any `json:"metadata,omitempty"      yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"              yaml:"created_at,omitempty"`
}

// FlowSettings holds per-flow engine knobs.
type FlowSettings struct {
	PersistTranscript bool `json:"persist_transcript" yaml:"persist_transcript"`
	MaxHops           int  `json:"max_hops,omitempty" yaml:"max_hops,omitempty" validate:"gte=0"`
}

// VariableScope is the tier a declared variable lives in.
type VariableScope string

const (
	VariableScopeGlobal  VariableScope = "global"
	VariableScopeFlow    VariableScope = "flow"
	VariableScopeSession VariableScope = "session"
)

// Variable declares a named value and its default.
type Variable struct {
	Name    string        `json:"name"    yaml:"name"    validate:"required"`
	Default string        `json:"default" yaml:"default"`
	Scope   VariableScope `json:"scope"   yaml:"scope"   validate:"omitempty,oneof=global flow session"`
}

// TriggerType controls how an inbound event is matched to a flow.
type TriggerType string

const (
	// TriggerTypeInbound matches any first contact on the channel.
	TriggerTypeInbound TriggerType = "inbound"
	// TriggerTypeKeyword matches first contacts whose text equals one of the configured keywords.
	TriggerTypeKeyword TriggerType = "keyword"
)

// Trigger starts a flow when an inbound event on a channel matches it.
type Trigger struct {
	ID            string         `json:"id"                      yaml:"id"            validate:"required"`
	FlowID        string         `json:"flow_id"                 yaml:"flow_id"`
	Type          TriggerType    `json:"type"                    yaml:"type"          validate:"required,oneof=inbound keyword"`
	ChannelType   ChannelType    `json:"channel_type"            yaml:"channel_type"  validate:"required,oneof=voice whatsapp webchat sms telegram"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// ConfigString returns a string configuration entry or "".
func (t *Trigger) ConfigString(key string) string {
	if t.Configuration == nil {
		return ""
	}

	s, _ := t.Configuration[key].(string)

	return s
}

// ConfigStrings returns a list configuration entry. Both []string and []any are accepted.
func (t *Trigger) ConfigStrings(key string) []string {
	if t.Configuration == nil {
		return nil
	}

	switch v := t.Configuration[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
