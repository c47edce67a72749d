// Package recorder is a channel adapter that keeps sent actions in memory.
// It backs tests and dry runs of flows.
package recorder

import (
	"context"
	"sync"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/models"
)

// Sent is one delivered action.
type Sent struct {
	ConversationID string
	ChannelType    models.ChannelType
	Action         models.Action
}

type Recorder struct {
	capabilities adapter.Capabilities

	mu   sync.Mutex
	sent []Sent
	// fail, when set, decides whether a send fails.
	fail func(models.Action) error
}

func New(capabilities adapter.Capabilities) *Recorder {
	return &Recorder{capabilities: capabilities}
}

// FailWith makes every following send return the result of fn.
func (r *Recorder) FailWith(fn func(models.Action) error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fail = fn
}

func (r *Recorder) Capabilities() adapter.Capabilities {
	return r.capabilities
}

func (r *Recorder) Send(_ context.Context, conversation *models.Conversation, action models.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(action); err != nil {
			return err
		}
	}

	r.sent = append(r.sent, Sent{ConversationID: conversation.ID, ChannelType: conversation.ChannelType, Action: action})

	return nil
}

// Sent returns a copy of everything delivered so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Sent, len(r.sent))
	copy(out, r.sent)

	return out
}

// Texts returns the text of every action sent to a conversation, in order.
func (r *Recorder) Texts(conversationID string) []string {
	out := make([]string, 0)

	for _, s := range r.Sent() {
		if s.ConversationID == conversationID && s.Action.Text != "" {
			out = append(out, s.Action.Text)
		}
	}

	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = nil
}
