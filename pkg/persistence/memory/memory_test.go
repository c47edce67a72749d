package memory_test

import (
	"context"
	"testing"

	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowRepository(t *testing.T) {
	persistencetest.RunFlowRepository(t, memory.NewPersistence())
}

func TestConversationStore(t *testing.T) {
	persistencetest.RunConversationStore(t, memory.NewPersistence())
}

func TestTimerStore(t *testing.T) {
	persistencetest.RunTimerStore(t, memory.NewPersistence())
}

func TestConversationsAreCopied(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()

	conv := persistencetest.Conversation("support", "wa", "u")
	require.NoError(t, p.SaveConversation(ctx, conv))

	conv.Variables["name"] = "changed"

	loaded, err := p.LoadConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maria", loaded.Variables["name"])
}
