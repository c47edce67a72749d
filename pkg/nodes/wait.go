package nodes

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

type waitHandler struct{}

func (h *waitHandler) Type() models.NodeType { return models.NodeTypeWait }

func (h *waitHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{"type": "number", "minimum": 0},
		},
		"required": []any{"duration"},
	}
}

func (h *waitHandler) Execute(ctx context.Context, req *Request) Directive {
	if req.Resuming() {
		if req.Event.Kind != models.EventKindTimer {
			return Stay(models.WaitingForTimer, req.Attempts)
		}

		return req.Next(ctx)
	}

	d := time.Duration(dataFloat(req.Node, "duration", 0) * float64(time.Second))
	if d <= 0 {
		return req.Next(ctx)
	}

	return WaitForTimer(d)
}
