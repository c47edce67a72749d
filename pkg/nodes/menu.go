package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
)

const defaultMenuVariable = "menuSelection"

// MenuOption is one choice of a menu node.
type MenuOption struct {
	Key   string
	Label string
	Value string
}

// Matches reports whether answer selects the option by key or label.
func (o MenuOption) Matches(answer string) bool {
	answer = strings.TrimSpace(answer)

	return strings.EqualFold(answer, o.Key) || (o.Label != "" && strings.EqualFold(answer, o.Label))
}

func menuOptions(node *models.Node) []MenuOption {
	var raw []map[string]any

	switch v := node.Data["options"].(type) {
	case []map[string]any:
		raw = v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				raw = append(raw, m)
			}
		}
	}

	out := make([]MenuOption, 0, len(raw))

	for _, m := range raw {

		opt := MenuOption{Key: stringOf(m["key"]), Label: stringOf(m["label"]), Value: stringOf(m["value"])}
		if opt.Label == "" {
			opt.Label = opt.Key
		}

		if opt.Value == "" {
			opt.Value = opt.Label
		}

		out = append(out, opt)
	}

	return out
}

// menuDefault accepts edges bound to no handle at all. Edges carrying the
// handle of an option that no longer exists are never a default.
func menuDefault(options []MenuOption) func(*models.Edge) bool {
	keys := make([]string, len(options))
	for i, o := range options {
		keys[i] = o.Key
	}

	route := defaultRoute(keys...)

	return func(e *models.Edge) bool {
		return e.SourceHandle == "" && route(e)
	}
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}

	return strings.TrimSpace(fmt.Sprint(v))
}

type menuHandler struct {
	defaultMaxRetries int
}

func (h *menuHandler) Type() models.NodeType { return models.NodeTypeMenu }

func (h *menuHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":   map[string]any{"type": "string"},
			"variable": map[string]any{"type": "string"},
			"options": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":   map[string]any{"type": []any{"string", "number"}},
						"label": map[string]any{"type": "string"},
						"value": map[string]any{"type": "string"},
					},
					"required": []any{"key"},
				},
			},
			"max_retries":     map[string]any{"type": "integer", "minimum": 0},
			"invalid_message": map[string]any{"type": "string"},
		},
		"required": []any{"options"},
	}
}

func (h *menuHandler) sendPrompt(ctx context.Context, req *Request, options []MenuOption) {
	labels := make([]string, len(options))
	keys := make([]any, len(options))

	for i, o := range options {
		labels[i] = fmt.Sprintf("%s. %s", o.Key, req.Scope.Render(o.Label))
		keys[i] = o.Key
	}

	req.prompt(ctx, req.Scope.Render(dataString(req.Node, "prompt")), labels, map[string]any{"keys": keys})
}

func (h *menuHandler) Execute(ctx context.Context, req *Request) Directive {
	options := menuOptions(req.Node)

	if !req.Resuming() {
		h.sendPrompt(ctx, req, options)

		return WaitForInput(0)
	}

	if !answered(req.Event) {
		return Stay(models.WaitingForInput, req.Attempts)
	}

	answer := req.Event.Value()

	for _, opt := range options {
		if !opt.Matches(answer) {
			continue
		}

		variable := dataString(req.Node, "variable")
		if variable == "" {
			variable = defaultMenuVariable
		}

		req.Scope.Set(variable, opt.Value)

		if e := req.selectEdge(ctx, byHandle(opt.Key)); e != nil {
			return Continue(e.Target)
		}

		if e := req.selectEdge(ctx, menuDefault(options)); e != nil {
			return Continue(e.Target)
		}

		return End(models.EndReasonCompleted)
	}

	err := fmt.Errorf("answer %q matches no menu option", answer)
	req.Logger.DebugContext(ctx, "menu answer rejected", "node_id", req.Node.ID, "answer", answer)

	return req.retry(ctx, dataInt(req.Node, "max_retries", h.defaultMaxRetries), err, func() {
		h.sendPrompt(ctx, req, options)
	})
}
