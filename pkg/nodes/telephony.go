package nodes

import (
	"context"

	"github.com/dukex/convoflow/pkg/models"
)

// telephonyHandler hands a call-control action to the channel and continues.
type telephonyHandler struct {
	kind     models.NodeType
	action   models.ActionKind
	required []string
}

func (h *telephonyHandler) Type() models.NodeType { return h.kind }

func (h *telephonyHandler) Schema() map[string]any {
	props := make(map[string]any, len(h.required))
	required := make([]any, 0, len(h.required))

	for _, name := range h.required {
		props[name] = map[string]any{"type": "string", "minLength": 1}
		required = append(required, name)
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func (h *telephonyHandler) Execute(ctx context.Context, req *Request) Directive {
	req.send(ctx, models.Action{Kind: h.action, Data: req.renderData()})

	return req.Next(ctx)
}

type hangupHandler struct{}

func (h *hangupHandler) Type() models.NodeType { return models.NodeTypeHangup }

func (h *hangupHandler) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (h *hangupHandler) Execute(ctx context.Context, req *Request) Directive {
	req.send(ctx, models.Action{Kind: models.ActionHangup, Data: req.renderData()})

	return End(models.EndReasonHangup)
}
