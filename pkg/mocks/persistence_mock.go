package mocks

import (
	"context"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockFlowRepository is a mock implementation of persistence.FlowRepository interface.
type MockFlowRepository struct {
	mock.Mock
}

func (m *MockFlowRepository) Flows(ctx context.Context) ([]*models.Flow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) FlowByID(ctx context.Context, id string) (*models.Flow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) FlowVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) SaveFlow(ctx context.Context, flow *models.Flow) error {
	args := m.Called(ctx, flow)

	return args.Error(0)
}

// MockConversationStore is a mock implementation of persistence.ConversationStore interface.
type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) LoadConversation(ctx context.Context, id string) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationStore) SaveConversation(ctx context.Context, conversation *models.Conversation) error {
	args := m.Called(ctx, conversation)

	return args.Error(0)
}

func (m *MockConversationStore) FindActiveConversation(ctx context.Context, flowID, channelID, externalUserID string) (*models.Conversation, error) {
	args := m.Called(ctx, flowID, channelID, externalUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationStore) LatestConversation(ctx context.Context, channelID, externalUserID string) (*models.Conversation, error) {
	args := m.Called(ctx, channelID, externalUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationStore) ActiveConversations(ctx context.Context, filter persistence.ConversationFilter) ([]*models.Conversation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Conversation), args.Error(1)
}

func (m *MockConversationStore) AppendMessage(ctx context.Context, message *models.Message) error {
	args := m.Called(ctx, message)

	return args.Error(0)
}

func (m *MockConversationStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Message), args.Error(1)
}

// MockTimerStore is a mock implementation of persistence.TimerStore interface.
type MockTimerStore struct {
	mock.Mock
}

func (m *MockTimerStore) SaveTimer(ctx context.Context, timer *models.Timer) error {
	args := m.Called(ctx, timer)

	return args.Error(0)
}

func (m *MockTimerStore) DeleteTimer(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)

	return args.Error(0)
}

func (m *MockTimerStore) Timers(ctx context.Context) ([]*models.Timer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Timer), args.Error(1)
}
