package nodes

import (
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supportMenu() *models.Flow {
	return &models.Flow{
		ID: "support", Name: "Support", Version: 1,
		Nodes: []*models.Node{
			{ID: "menu", Type: models.NodeTypeMenu, Data: map[string]any{
				"prompt": "How can we help?",
				"options": []any{
					map[string]any{"key": "1", "label": "sales"},
					map[string]any{"key": "2", "label": "support"},
				},
			}},
			{ID: "next", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Routing to {{menuSelection}}"}},
			{ID: "tech", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "menu", Target: "tech", SourceHandle: "2"},
			{Source: "menu", Target: "next"},
		},
	}
}

func TestMenu_RepromptsThenSelects(t *testing.T) {
	h := newHarness(t, supportMenu())

	d := h.run("menu", nil, 0)
	assert.Equal(t, WaitForInput(0), d)
	require.Len(t, h.outbox.actions, 1)
	assert.Equal(t, "How can we help?", h.outbox.actions[0].Text)
	assert.Equal(t, []string{"1. sales", "2. support"}, h.outbox.actions[0].Options)

	d = h.run("menu", message("9"), 0)
	assert.Equal(t, WaitForInput(1), d)
	require.Len(t, h.outbox.actions, 2)
	assert.Equal(t, h.outbox.actions[0], h.outbox.actions[1])
	assert.Empty(t, h.scope.Get("menuSelection"))

	d = h.run("menu", message("1"), 1)
	assert.Equal(t, Continue("next"), d)
	assert.Equal(t, "sales", h.scope.Get("menuSelection"))
}

func TestMenu_OptionHandleEdge(t *testing.T) {
	h := newHarness(t, supportMenu())

	d := h.run("menu", message("Support"), 0)
	assert.Equal(t, Continue("tech"), d)
	assert.Equal(t, "support", h.scope.Get("menuSelection"))
}

func TestMenu_CustomVariableAndValue(t *testing.T) {
	flow := supportMenu()
	flow.Nodes[0].Data["variable"] = "department"
	flow.Nodes[0].Data["options"] = []map[string]any{{"key": 1, "label": "Sales", "value": "dept-sales"}}

	h := newHarness(t, flow)

	d := h.run("menu", message("1"), 0)
	assert.Equal(t, Continue("next"), d)
	assert.Equal(t, "dept-sales", h.scope.Get("department"))
}

func TestMenu_ExhaustedRetriesFail(t *testing.T) {
	flow := supportMenu()
	flow.Nodes[0].Data["max_retries"] = 0

	h := newHarness(t, flow)

	d := h.run("menu", message("9"), 0)
	assert.Equal(t, DirectiveTerminate, d.Kind)
	assert.Equal(t, models.EndReasonInputRetries, d.Reason)
}

func TestMenu_RemovedOptionEdgeIsNotDefault(t *testing.T) {
	flow := supportMenu()
	flow.Nodes[0].Data["options"] = []any{map[string]any{"key": "1", "label": "sales"}}
	flow.Edges = []*models.Edge{{Source: "menu", Target: "tech", SourceHandle: "2"}}

	h := newHarness(t, flow)

	d := h.run("menu", message("1"), 0)
	assert.Equal(t, End(models.EndReasonCompleted), d)
	assert.Equal(t, "sales", h.scope.Get("menuSelection"))
}

func TestMenu_ExecutorDefaultMaxRetries(t *testing.T) {
	h := newHarness(t, supportMenu(), WithDefaultMaxRetries(1))

	d := h.run("menu", message("9"), 0)
	assert.Equal(t, WaitForInput(1), d)

	d = h.run("menu", message("9"), 1)
	assert.Equal(t, DirectiveTerminate, d.Kind)
	assert.Equal(t, models.EndReasonInputRetries, d.Reason)
}
