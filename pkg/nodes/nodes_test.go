package nodes

import (
	"context"
	"testing"

	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutbox struct {
	actions []models.Action
}

func (o *recordingOutbox) Send(_ context.Context, action models.Action) {
	o.actions = append(o.actions, action)
}

func (o *recordingOutbox) texts() []string {
	out := make([]string, 0, len(o.actions))
	for _, a := range o.actions {
		out = append(out, a.Text)
	}

	return out
}

type harness struct {
	t        *testing.T
	executor *Executor
	graph    *flowgraph.Graph
	scope    *scope.Scope
	outbox   *recordingOutbox
	conv     *models.Conversation
	eval     *condition.Evaluator
}

func newHarness(t *testing.T, flow *models.Flow, opts ...Option) *harness {
	t.Helper()

	logger := log.Discard()

	executor, err := NewExecutor(logger, opts...)
	require.NoError(t, err)

	graph, err := flowgraph.New(flow, flowgraph.WithNodeValidator(executor))
	require.NoError(t, err)

	channel := models.ChannelWhatsApp
	if flow.Type == models.FlowTypeIVR {
		channel = models.ChannelVoice
	}

	return &harness{
		t:        t,
		executor: executor,
		graph:    graph,
		scope:    scope.New(graph.Defaults(), nil),
		outbox:   &recordingOutbox{},
		conv:     &models.Conversation{ID: "c1", FlowID: flow.ID, ChannelType: channel},
		eval:     condition.New(logger),
	}
}

func (h *harness) run(nodeID string, event *models.InboundEvent, attempts int) Directive {
	h.t.Helper()

	node, ok := h.graph.Node(nodeID)
	require.True(h.t, ok, "node %s", nodeID)

	return h.executor.Execute(context.Background(), &Request{
		Conversation: h.conv,
		Node:         node,
		Graph:        h.graph,
		Scope:        h.scope,
		Conditions:   h.eval,
		Outbox:       h.outbox,
		Event:        event,
		Attempts:     attempts,
		Logger:       log.Discard(),
	})
}

func message(text string) *models.InboundEvent {
	return &models.InboundEvent{ID: "ev-" + text, Kind: models.EventKindMessage, Text: text}
}

func greetingFlow() *models.Flow {
	return &models.Flow{
		ID: "greeting", Name: "Greeting", Type: models.FlowTypeChatbot, Version: 1, Active: true,
		Nodes: []*models.Node{
			{ID: "hi", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hi"}},
			{ID: "ask", Type: models.NodeTypeInput, Data: map[string]any{"prompt": "What is your name?", "variable": "name"}},
			{ID: "hello", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Hello {{name}}"}},
			{ID: "bye", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "hi", Target: "ask"},
			{Source: "ask", Target: "hello"},
			{Source: "hello", Target: "bye"},
		},
	}
}

func TestExecutor_GreetingWalk(t *testing.T) {
	h := newHarness(t, greetingFlow())

	d := h.run("hi", nil, 0)
	assert.Equal(t, Continue("ask"), d)

	d = h.run("ask", nil, 0)
	assert.Equal(t, DirectiveSuspend, d.Kind)
	assert.Equal(t, models.WaitingForInput, d.WaitingFor)

	d = h.run("ask", message("Maria"), 0)
	assert.Equal(t, Continue("hello"), d)
	assert.Equal(t, "Maria", h.scope.Get("name"))

	d = h.run("hello", nil, 0)
	assert.Equal(t, Continue("bye"), d)

	d = h.run("bye", nil, 0)
	assert.Equal(t, DirectiveTerminate, d.Kind)
	assert.Equal(t, models.ConversationStatusEnded, d.Status)
	assert.Equal(t, models.EndReasonCompleted, d.Reason)

	assert.Equal(t, []string{"Hi", "What is your name?", "Hello Maria"}, h.outbox.texts())
	for _, a := range h.outbox.actions {
		assert.NotEmpty(t, a.NodeID)
	}
}

func TestExecutor_DeadEndCompletes(t *testing.T) {
	flow := greetingFlow()
	flow.Edges = flow.Edges[:2]

	h := newHarness(t, flow)

	d := h.run("hello", nil, 0)
	assert.Equal(t, End(models.EndReasonCompleted), d)
}

func TestExecutor_ConditionRouting(t *testing.T) {
	flow := &models.Flow{
		ID: "age", Name: "Age", Version: 1,
		Nodes: []*models.Node{
			{ID: "route", Type: models.NodeTypeCondition},
			{ID: "adult", Type: models.NodeTypeEnd},
			{ID: "minor", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "route", Target: "adult", Condition: "{{age}} >= 18"},
			{Source: "route", Target: "minor"},
		},
	}

	tests := []struct {
		age  string
		want string
	}{
		{age: "17", want: "minor"},
		{age: "18", want: "adult"},
		{age: "42", want: "adult"},
		{age: "abc", want: "minor"},
	}

	for _, tt := range tests {
		t.Run(tt.age, func(t *testing.T) {
			h := newHarness(t, flow)
			h.scope.Set("age", tt.age)

			assert.Equal(t, Continue(tt.want), h.run("route", nil, 0))
			assert.Empty(t, h.outbox.actions)
		})
	}
}

func TestExecutor_ConditionAllFalse(t *testing.T) {
	flow := &models.Flow{
		ID: "age", Name: "Age", Version: 1,
		Nodes: []*models.Node{
			{ID: "route", Type: models.NodeTypeCondition},
			{ID: "adult", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "route", Target: "adult", Condition: "{{age}} >= 18"},
		},
	}

	h := newHarness(t, flow)
	h.scope.Set("age", "3")

	d := h.run("route", nil, 0)
	assert.Equal(t, DirectiveTerminate, d.Kind)
	assert.Equal(t, models.ConversationStatusFailed, d.Status)
	assert.ErrorIs(t, d.Err, ErrConditionAllFalse)
}

func TestExecutor_GotoIfHandles(t *testing.T) {
	flow := &models.Flow{
		ID: "vip", Name: "VIP", Version: 1,
		Nodes: []*models.Node{
			{ID: "check", Type: models.NodeTypeGotoIf, Data: map[string]any{"condition": "{{tier}} == 'gold'"}},
			{ID: "vip", Type: models.NodeTypeEnd},
			{ID: "regular", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "check", Target: "vip", SourceHandle: "true"},
			{Source: "check", Target: "regular", SourceHandle: "false"},
		},
	}

	h := newHarness(t, flow)

	h.scope.Set("tier", "gold")
	assert.Equal(t, Continue("vip"), h.run("check", nil, 0))

	h.scope.Set("tier", "silver")
	assert.Equal(t, Continue("regular"), h.run("check", nil, 0))
}

func TestExecutor_GotoIfEdgeOrder(t *testing.T) {
	flow := &models.Flow{
		ID: "vip", Name: "VIP", Version: 1,
		Nodes: []*models.Node{
			{ID: "check", Type: models.NodeTypeGotoIf, Data: map[string]any{"condition": "{{tier}} == 'gold'"}},
			{ID: "vip", Type: models.NodeTypeEnd},
			{ID: "regular", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "check", Target: "vip"},
			{Source: "check", Target: "regular"},
		},
	}

	h := newHarness(t, flow)

	h.scope.Set("tier", "gold")
	assert.Equal(t, Continue("vip"), h.run("check", nil, 0))

	h.scope.Set("tier", "silver")
	assert.Equal(t, Continue("regular"), h.run("check", nil, 0))
}

func TestExecutor_SkipsNodeOnUnsupportedChannel(t *testing.T) {
	flow := greetingFlow()
	flow.Nodes[0].Channels = []models.ChannelType{models.ChannelWebchat}

	h := newHarness(t, flow)

	assert.Equal(t, Continue("ask"), h.run("hi", nil, 0))
	assert.Empty(t, h.outbox.actions)
}

type panicky struct{}

func (panicky) Type() models.NodeType { return models.NodeTypeMessage }

func (panicky) Schema() map[string]any { return map[string]any{"type": "object"} }

func (panicky) Execute(context.Context, *Request) Directive { panic("boom") }

func TestExecutor_RecoversPanics(t *testing.T) {
	h := newHarness(t, greetingFlow())
	require.NoError(t, h.executor.Register(panicky{}))

	d := h.run("hi", nil, 0)
	assert.Equal(t, DirectiveTerminate, d.Kind)
	assert.Equal(t, models.ConversationStatusFailed, d.Status)
	assert.Error(t, d.Err)
}

func TestExecutor_ValidateNode(t *testing.T) {
	executor, err := NewExecutor(log.Discard())
	require.NoError(t, err)

	tests := []struct {
		name    string
		node    *models.Node
		wantErr bool
	}{
		{name: "message", node: &models.Node{ID: "n", Type: models.NodeTypeMessage, Data: map[string]any{"text": "hi"}}},
		{name: "message without text", node: &models.Node{ID: "n", Type: models.NodeTypeMessage}, wantErr: true},
		{name: "unknown kind", node: &models.Node{ID: "n", Type: "teleport"}, wantErr: true},
		{name: "input bad validation", node: &models.Node{ID: "n", Type: models.NodeTypeInput, Data: map[string]any{"variable": "x", "validation": "zip"}}, wantErr: true},
		{name: "input yaml int retries", node: &models.Node{ID: "n", Type: models.NodeTypeInput, Data: map[string]any{"variable": "x", "max_retries": 2}}},
		{name: "menu", node: &models.Node{ID: "n", Type: models.NodeTypeMenu, Data: map[string]any{"options": []any{map[string]any{"key": 1, "label": "a"}}}}},
		{name: "menu without options", node: &models.Node{ID: "n", Type: models.NodeTypeMenu, Data: map[string]any{"options": []any{}}}, wantErr: true},
		{name: "api without url", node: &models.Node{ID: "n", Type: models.NodeTypeAPIRequest, Data: map[string]any{"method": "GET"}}, wantErr: true},
		{name: "dial without destination", node: &models.Node{ID: "n", Type: models.NodeTypeDial}, wantErr: true},
		{name: "goto", node: &models.Node{ID: "n", Type: models.NodeTypeGoto, Data: map[string]any{"flow_id": "other"}}},
		{name: "goto without target", node: &models.Node{ID: "n", Type: models.NodeTypeGoto}, wantErr: true},
		{name: "wait negative", node: &models.Node{ID: "n", Type: models.NodeTypeWait, Data: map[string]any{"duration": -1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.ValidateNode(tt.node)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecutor_TypesCoverEveryKind(t *testing.T) {
	executor, err := NewExecutor(log.Discard())
	require.NoError(t, err)

	assert.Len(t, executor.Types(), 18)

	_, ok := executor.Schema(models.NodeTypeAPIRequest)
	assert.True(t, ok)
}
