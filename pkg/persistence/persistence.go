// Package persistence provides the storage boundary for flows, conversations and timers.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// Persistence is a backend able to serve every repository the engine needs.
type Persistence interface {
	FlowRepository() FlowRepository
	ConversationStore() ConversationStore
	TimerStore() TimerStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores immutable, versioned flows.
type FlowRepository interface {
	// Flows returns the latest version of every flow.
	Flows(ctx context.Context) ([]*models.Flow, error)
	// FlowByID returns the latest version of a flow.
	FlowByID(ctx context.Context, id string) (*models.Flow, error)
	// FlowVersion returns one specific version of a flow.
	FlowVersion(ctx context.Context, id string, version int) (*models.Flow, error)
	// SaveFlow stores flow as a new version. Version 0 means latest + 1.
	SaveFlow(ctx context.Context, flow *models.Flow) error
}

// ConversationFilter narrows ActiveConversations.
type ConversationFilter struct {
	FlowID     string
	WaitingFor models.WaitingFor
	// IdleBefore selects conversations whose idle deadline is not after this instant.
	IdleBefore *time.Time
	Limit      int
}

// ConversationStore persists conversation state and transcripts.
type ConversationStore interface {
	LoadConversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveConversation(ctx context.Context, conversation *models.Conversation) error
	// FindActiveConversation returns the active conversation of a user on a
	// channel. An empty flowID matches any flow.
	FindActiveConversation(ctx context.Context, flowID, channelID, externalUserID string) (*models.Conversation, error)
	// LatestConversation returns the most recently started conversation of a
	// user on a channel, whatever its status.
	LatestConversation(ctx context.Context, channelID, externalUserID string) (*models.Conversation, error)
	ActiveConversations(ctx context.Context, filter ConversationFilter) ([]*models.Conversation, error)

	AppendMessage(ctx context.Context, message *models.Message) error
	Messages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// TimerStore keeps pending wake-ups durable across restarts.
// There is at most one timer per conversation.
type TimerStore interface {
	SaveTimer(ctx context.Context, timer *models.Timer) error
	DeleteTimer(ctx context.Context, conversationID string) error
	Timers(ctx context.Context) ([]*models.Timer, error)
}
