package nodes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
)

// Node data arrives from JSON (float64) or YAML (int); these helpers accept both.

func dataString(node *models.Node, key string) string {
	switch v := node.Data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func dataInt(node *models.Node, key string, def int) int {
	switch v := node.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return def
		}

		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}

		return n
	default:
		return def
	}
}

func dataFloat(node *models.Node, key string, def float64) float64 {
	switch v := node.Data[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return def
		}

		return f
	default:
		return def
	}
}

func dataStringMap(node *models.Node, key string) map[string]string {
	out := make(map[string]string)

	switch v := node.Data[key].(type) {
	case map[string]any:
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
	case map[string]string:
		for k, val := range v {
			out[k] = val
		}
	}

	return out
}

// renderValue renders every string inside a JSON-like value.
func (r *Request) renderValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.Scope.Render(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.renderValue(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.renderValue(val)
		}

		return out
	default:
		return v
	}
}

// renderData renders all string values of the node data, for adapter actions.
func (r *Request) renderData() map[string]any {
	if len(r.Node.Data) == 0 {
		return nil
	}

	out, _ := r.renderValue(r.Node.Data).(map[string]any)

	return out
}
