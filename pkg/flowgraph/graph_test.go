package flowgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func chatFlow() *models.Flow {
	return &models.Flow{
		ID:      "greeting",
		Name:    "Greeting",
		Type:    models.FlowTypeChatbot,
		Version: 1,
		Active:  true,
		Nodes: []*models.Node{
			{ID: "hi", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hi"}},
			{ID: "ask", Type: models.NodeTypeInput, Data: map[string]any{"prompt": "Name?", "variable": "name"}},
			{ID: "route", Type: models.NodeTypeCondition},
			{ID: "adult", Type: models.NodeTypeEnd},
			{ID: "minor", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "hi", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "route"},
			{ID: "e3", Source: "route", Target: "adult", Condition: "{{age}} >= 18"},
			{ID: "e4", Source: "route", Target: "minor"},
		},
		Triggers: []*models.Trigger{
			{ID: "t1", Type: models.TriggerTypeInbound, ChannelType: models.ChannelWhatsApp},
			{ID: "t2", Type: models.TriggerTypeKeyword, ChannelType: models.ChannelWhatsApp, Configuration: map[string]any{
				"keywords":      []any{"age"},
				"entry_node_id": "route",
			}},
		},
		Variables: []*models.Variable{
			{Name: "company", Default: "Acme", Scope: models.VariableScopeFlow},
			{Name: "tmp", Default: "x", Scope: models.VariableScopeSession},
		},
	}
}

func TestNew_BuildsArena(t *testing.T) {
	g, err := New(chatFlow())
	require.NoError(t, err)

	node, ok := g.Node("ask")
	require.True(t, ok)
	assert.Equal(t, models.NodeTypeInput, node.Type)

	_, ok = g.Node("nope")
	assert.False(t, ok)

	edges := g.OutgoingEdges("route")
	require.Len(t, edges, 2)
	assert.Equal(t, "e3", edges[0].ID)
	assert.Equal(t, "e4", edges[1].ID)

	assert.Empty(t, g.OutgoingEdges("adult"))
	assert.Nil(t, g.OutgoingEdges("nope"))

	assert.Equal(t, "hi", g.EntryNode().ID)
	assert.Equal(t, "Acme", g.Defaults()["company"])
	assert.NotContains(t, g.Defaults(), "tmp")
}

func TestEntryNodeForTrigger(t *testing.T) {
	flow := chatFlow()
	g, err := New(flow)
	require.NoError(t, err)

	assert.Equal(t, "hi", g.EntryNodeForTrigger(flow.Triggers[0]).ID)
	assert.Equal(t, "route", g.EntryNodeForTrigger(flow.Triggers[1]).ID)
	assert.Equal(t, "hi", g.EntryNodeForTrigger(nil).ID)

	flow = chatFlow()
	flow.EntryNodeID = "ask"
	g, err = New(flow)
	require.NoError(t, err)
	assert.Equal(t, "ask", g.EntryNodeForTrigger(flow.Triggers[0]).ID)
}

func TestNew_IntegrityProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *models.Flow)
		want   string
	}{
		{
			name:   "dangling target",
			mutate: func(f *models.Flow) { f.Edges[0].Target = "ghost" },
			want:   `target node "ghost" does not exist`,
		},
		{
			name:   "dangling source",
			mutate: func(f *models.Flow) { f.Edges[0].Source = "ghost" },
			want:   `source node "ghost" does not exist`,
		},
		{
			name:   "duplicate node",
			mutate: func(f *models.Flow) { f.Nodes[1].ID = "hi" },
			want:   `duplicate node id "hi"`,
		},
		{
			name:   "missing entry",
			mutate: func(f *models.Flow) { f.EntryNodeID = "ghost" },
			want:   `entry node "ghost" does not exist`,
		},
		{
			name: "default edge not last",
			mutate: func(f *models.Flow) {
				f.Edges[2], f.Edges[3] = f.Edges[3], f.Edges[2]
			},
			want: "default edge e4 must be the last outgoing edge",
		},
		{
			name: "voice node on whatsapp",
			mutate: func(f *models.Flow) {
				f.Type = models.FlowTypeHybrid
				f.Nodes = append(f.Nodes, &models.Node{ID: "dial", Type: models.NodeTypeDial})
			},
			want: "dial requires a voice channel",
		},
		{
			name: "voice node in chatbot",
			mutate: func(f *models.Flow) {
				f.Triggers = nil
				f.Nodes = append(f.Nodes, &models.Node{ID: "hang", Type: models.NodeTypeHangup})
			},
			want: "hangup cannot be used in a chatbot flow",
		},
		{
			name: "goto to missing node",
			mutate: func(f *models.Flow) {
				f.Nodes = append(f.Nodes, &models.Node{ID: "jump", Type: models.NodeTypeGoto, Data: map[string]any{"target": "ghost"}})
			},
			want: `goto target "ghost" does not exist`,
		},
		{
			name:   "struct validation",
			mutate: func(f *models.Flow) { f.Version = 0 },
			want:   "Version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := chatFlow()
			tt.mutate(flow)

			_, err := New(flow)

			var integrity *GraphIntegrityError
			require.ErrorAs(t, err, &integrity)
			assert.True(t, IsGraphIntegrityError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNew_VoiceNodeAllowedOnVoiceFlows(t *testing.T) {
	flow := chatFlow()
	flow.Type = models.FlowTypeIVR
	flow.Triggers = []*models.Trigger{{ID: "call", Type: models.TriggerTypeInbound, ChannelType: models.ChannelVoice}}
	flow.Nodes = append(flow.Nodes, &models.Node{ID: "dial", Type: models.NodeTypeDial})

	_, err := New(flow)
	assert.NoError(t, err)

	flow.Type = models.FlowTypeHybrid
	flow.Triggers = append(flow.Triggers, &models.Trigger{ID: "wa", Type: models.TriggerTypeInbound, ChannelType: models.ChannelWhatsApp})
	flow.Nodes[len(flow.Nodes)-1].Channels = []models.ChannelType{models.ChannelVoice}

	_, err = New(flow)
	assert.NoError(t, err)
}

type rejectAll struct{}

func (rejectAll) ValidateNode(node *models.Node) error {
	if node.Type == models.NodeTypeInput {
		return errors.New("prompt is required")
	}

	return nil
}

func TestNew_UsesNodeValidator(t *testing.T) {
	_, err := New(chatFlow(), WithNodeValidator(rejectAll{}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "node ask: prompt is required")
}

func TestNew_ChecksConditions(t *testing.T) {
	checker := condition.New(log.Discard())

	_, err := New(chatFlow(), WithConditionChecker(checker))
	require.NoError(t, err)

	flow := chatFlow()
	flow.Edges[2].Condition = `{{age}} in [18, 19]`
	flow.Nodes = append(flow.Nodes, &models.Node{ID: "jump", Type: models.NodeTypeGotoIf, Data: map[string]any{"condition": "len({{name}}) > 0"}})

	_, err = New(flow, WithConditionChecker(checker))

	var integrity *GraphIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Contains(t, err.Error(), "edge e3: condition syntax error")
	assert.Contains(t, err.Error(), "node jump: condition syntax error")
}

func TestNew_GotoIfWithOwnConditionUsesEdgeOrder(t *testing.T) {
	flow := chatFlow()
	flow.Nodes[2] = &models.Node{ID: "route", Type: models.NodeTypeGotoIf, Data: map[string]any{"condition": "{{age}} >= 18"}}
	flow.Edges[2].Condition = ""

	_, err := New(flow)
	require.NoError(t, err)

	flow.Nodes[2].Data = nil

	_, err = New(flow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be the last outgoing edge")
}

func TestNew_EveryEdgeResolves(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "nodes")

		flow := &models.Flow{ID: "f", Name: "f", Version: 1}
		for i := range n {
			flow.Nodes = append(flow.Nodes, &models.Node{ID: fmt.Sprintf("n%d", i), Type: models.NodeTypeMessage})
		}

		dangling := false
		edges := rapid.IntRange(0, 12).Draw(t, "edges")

		for i := range edges {
			src := rapid.IntRange(0, n-1).Draw(t, fmt.Sprintf("src%d", i))
			dst := rapid.IntRange(0, n+1).Draw(t, fmt.Sprintf("dst%d", i))

			if dst >= n {
				dangling = true
			}

			flow.Edges = append(flow.Edges, &models.Edge{Source: fmt.Sprintf("n%d", src), Target: fmt.Sprintf("n%d", dst)})
		}

		g, err := New(flow)
		if dangling {
			assert.True(t, IsGraphIntegrityError(err))

			return
		}

		require.NoError(t, err)

		for _, node := range flow.Nodes {
			for _, e := range g.OutgoingEdges(node.ID) {
				_, ok := g.Node(e.Target)
				assert.True(t, ok, "edge target %s must resolve", e.Target)
			}
		}
	})
}
