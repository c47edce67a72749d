package models

// NodeType is the tag used to dispatch a node to its handler.
type NodeType string

const (
	NodeTypeMessage    NodeType = "message"
	NodeTypePlayback   NodeType = "playback"
	NodeTypeTTS        NodeType = "tts"
	NodeTypeMedia      NodeType = "media"
	NodeTypeInput      NodeType = "input"
	NodeTypeCondition  NodeType = "condition"
	NodeTypeGotoIf     NodeType = "gotoif"
	NodeTypeAPIRequest NodeType = "api_request"
	NodeTypeMenu       NodeType = "menu"
	NodeTypeWait       NodeType = "wait"
	NodeTypeDial       NodeType = "dial"
	NodeTypeQueue      NodeType = "queue"
	NodeTypeVoicemail  NodeType = "voicemail"
	NodeTypeAnswer     NodeType = "answer"
	NodeTypeHangup     NodeType = "hangup"
	NodeTypeRecord     NodeType = "record"
	NodeTypeGoto       NodeType = "goto"
	NodeTypeEnd        NodeType = "end"
)

// IsVoiceOnly reports whether the node kind can only run on a voice channel.
func (t NodeType) IsVoiceOnly() bool {
	switch t {
	case NodeTypeDial, NodeTypeQueue, NodeTypeVoicemail, NodeTypeAnswer, NodeTypeHangup, NodeTypeRecord:
		return true
	default:
		return false
	}
}

// Well-known edge source handles.
const (
	HandleDefault  = "default"
	HandleSuccess  = "success"
	HandleError    = "error"
	HandleFallback = "fallback"
)

// Node is one typed unit of behavior inside a flow.
type Node struct {
	ID       string         `json:"id"                 yaml:"id"                 validate:"required"`
	Type     NodeType       `json:"type"               yaml:"type"               validate:"required"`
	Name     string         `json:"name"               yaml:"name"`
	Data     map[string]any `json:"data"               yaml:"data"`
	Channels []ChannelType  `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// SupportsChannel reports whether the node may run on the given channel.
// An empty channel list means every channel.
func (n *Node) SupportsChannel(channel ChannelType) bool {
	if len(n.Channels) == 0 {
		return true
	}

	for _, c := range n.Channels {
		if c == channel {
			return true
		}
	}

	return false
}

// Edge connects two nodes of the same flow.
type Edge struct {
	ID           string `json:"id,omitempty"            yaml:"id,omitempty"`
	Source       string `json:"source"                  yaml:"source"                  validate:"required"`
	Target       string `json:"target"                  yaml:"target"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"     yaml:"condition,omitempty"`
	Label        string `json:"label,omitempty"         yaml:"label,omitempty"`
}

// IsUnconditional reports whether the edge carries no condition.
func (e *Edge) IsUnconditional() bool {
	return e.Condition == ""
}

// HasHandle matches the edge by source handle, falling back to its label.
func (e *Edge) HasHandle(handle string) bool {
	return e.SourceHandle == handle || (e.SourceHandle == "" && e.Label == handle)
}
