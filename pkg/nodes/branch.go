package nodes

import (
	"context"

	"github.com/dukex/convoflow/pkg/models"
)

const (
	handleTrue  = "true"
	handleFalse = "false"
)

// conditionHandler routes on edge conditions. gotoif may also carry its own
// condition and route through "true"/"false" handles. Without handles the
// first plain edge is the true branch and the second the false branch.
type conditionHandler struct {
	kind models.NodeType
}

func (h *conditionHandler) Type() models.NodeType { return h.kind }

func (h *conditionHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{"type": "string"},
		},
	}
}

func (h *conditionHandler) Execute(ctx context.Context, req *Request) Directive {
	if expr := dataString(req.Node, "condition"); h.kind == models.NodeTypeGotoIf && expr != "" {
		handle := handleFalse
		if req.Conditions.Evaluate(ctx, expr, req.Scope) {
			handle = handleTrue
		}

		if e := req.selectEdge(ctx, byHandle(handle)); e != nil {
			return Continue(e.Target)
		}

		if !hasBranchHandles(req) {
			plain := branchEdges(req)

			pos := 1
			if handle == handleTrue {
				pos = 0
			}

			if pos < len(plain) {
				return Continue(plain[pos].Target)
			}
		}
	}

	if e := req.selectEdge(ctx, defaultRoute(handleTrue, handleFalse)); e != nil {
		return Continue(e.Target)
	}

	req.Logger.WarnContext(ctx, "no condition matched", "node_id", req.Node.ID)

	return Fail(models.EndReasonNoRoute, ErrConditionAllFalse)
}

func hasBranchHandles(req *Request) bool {
	for _, e := range req.Graph.OutgoingEdges(req.Node.ID) {
		if e.HasHandle(handleTrue) || e.HasHandle(handleFalse) {
			return true
		}
	}

	return false
}

func branchEdges(req *Request) []*models.Edge {
	route := defaultRoute()
	out := make([]*models.Edge, 0, 2)

	for _, e := range req.Graph.OutgoingEdges(req.Node.ID) {
		if route(e) {
			out = append(out, e)
		}
	}

	return out
}
