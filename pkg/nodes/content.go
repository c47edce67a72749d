package nodes

import (
	"context"

	"github.com/dukex/convoflow/pkg/models"
)

// contentHandler sends rendered content and moves on.
type contentHandler struct {
	kind models.NodeType
}

func (h *contentHandler) Type() models.NodeType { return h.kind }

func (h *contentHandler) Schema() map[string]any {
	props := map[string]any{
		"text":    map[string]any{"type": "string"},
		"url":     map[string]any{"type": "string"},
		"caption": map[string]any{"type": "string"},
		"voice":   map[string]any{"type": "string"},
	}

	var required []any

	switch h.kind {
	case models.NodeTypeMessage, models.NodeTypeTTS:
		required = []any{"text"}
	case models.NodeTypeMedia:
		required = []any{"url"}
	case models.NodeTypePlayback:
		return map[string]any{
			"type":       "object",
			"properties": props,
			"anyOf": []any{
				map[string]any{"required": []any{"url"}},
				map[string]any{"required": []any{"text"}},
			},
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (h *contentHandler) Execute(ctx context.Context, req *Request) Directive {
	text := req.Scope.Render(dataString(req.Node, "text"))
	url := req.Scope.Render(dataString(req.Node, "url"))

	action := models.Action{Text: text, MediaURL: url}

	switch h.kind {
	case models.NodeTypeMessage:
		action.Kind = models.ActionText
	case models.NodeTypeMedia:
		action.Kind = models.ActionMedia
		if caption := dataString(req.Node, "caption"); caption != "" {
			action.Text = req.Scope.Render(caption)
		}
	case models.NodeTypePlayback:
		action.Kind = models.ActionPlayback
	case models.NodeTypeTTS:
		action.Kind = models.ActionTTS
		if voice := dataString(req.Node, "voice"); voice != "" {
			action.Data = map[string]any{"voice": voice}
		}
	}

	req.send(ctx, action)

	return req.Next(ctx)
}
