package nodes

import (
	"context"

	"github.com/dukex/convoflow/pkg/models"
)

type gotoHandler struct{}

func (h *gotoHandler) Type() models.NodeType { return models.NodeTypeGoto }

func (h *gotoHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target":  map[string]any{"type": "string"},
			"flow_id": map[string]any{"type": "string"},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"target"}},
			map[string]any{"required": []any{"flow_id"}},
		},
	}
}

func (h *gotoHandler) Execute(_ context.Context, req *Request) Directive {
	target := dataString(req.Node, "target")

	if flowID := dataString(req.Node, "flow_id"); flowID != "" && flowID != req.Graph.ID() {
		return ContinueInFlow(flowID, target)
	}

	return Continue(target)
}

type endHandler struct{}

func (h *endHandler) Type() models.NodeType { return models.NodeTypeEnd }

func (h *endHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	}
}

func (h *endHandler) Execute(ctx context.Context, req *Request) Directive {
	if msg := dataString(req.Node, "message"); msg != "" {
		req.send(ctx, models.Action{Kind: models.ActionText, Text: req.Scope.Render(msg)})
	}

	d := End(models.EndReasonCompleted)
	d.Transcript = req.Graph.Flow().Settings.PersistTranscript

	return d
}
