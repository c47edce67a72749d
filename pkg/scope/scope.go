// Package scope implements the per-conversation variable store.
//
// A Scope has two tiers: flow defaults, shared read-only between every
// conversation of the same flow version, and session values private to one
// conversation. Lookups fall through session -> defaults -> "".
package scope

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

// placeholder matches {{ name }} with optional whitespace. Names may contain
// letters, digits, underscores, dots and dashes.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Defaults is the immutable flow-tier of variables.
type Defaults map[string]string

// Scope is owned by exactly one runner at a time and is not safe for concurrent use.
type Scope struct {
	defaults Defaults
	session  map[string]string
}

// New builds a scope over shared defaults and a private session snapshot.
// The session map is copied.
func New(defaults Defaults, session map[string]string) *Scope {
	s := &Scope{
		defaults: defaults,
		session:  make(map[string]string, len(session)),
	}

	maps.Copy(s.session, session)

	return s
}

// Get returns the session value, else the flow default, else "".
func (s *Scope) Get(name string) string {
	if v, ok := s.session[name]; ok {
		return v
	}

	if v, ok := s.defaults[name]; ok {
		return v
	}

	return ""
}

// Set writes to the session tier only.
func (s *Scope) Set(name, value string) {
	s.session[name] = value
}

// SetAny stringifies value before storing it. Maps and slices are stored as JSON.
func (s *Scope) SetAny(name string, value any) {
	s.Set(name, Stringify(value))
}

// Delete removes a session value, exposing the default again.
func (s *Scope) Delete(name string) {
	delete(s.session, name)
}

// Session returns a copy of the private tier for persistence.
func (s *Scope) Session() map[string]string {
	return maps.Clone(s.session)
}

// All returns the merged view, session values winning.
func (s *Scope) All() map[string]string {
	out := make(map[string]string, len(s.defaults)+len(s.session))
	maps.Copy(out, s.defaults)
	maps.Copy(out, s.session)

	return out
}

// Render substitutes {{name}} placeholders. Unresolved names render as "".
func (s *Scope) Render(template string) string {
	return ReplacePlaceholders(template, s.Get)
}

// ReplacePlaceholders calls fn for every {{name}} in template and substitutes its result.
func ReplacePlaceholders(template string, fn func(name string) string) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		return fn(placeholder.FindStringSubmatch(match)[1])
	})
}

// RenderMap renders every value of m.
func (s *Scope) RenderMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = s.Render(v)
	}

	return out
}

// Placeholders lists the variable names referenced by template, in order of appearance.
func Placeholders(template string) []string {
	matches := placeholder.FindAllStringSubmatch(template, -1)

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}

	return names
}

// Stringify converts an arbitrary value into its scope representation.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(b)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return strings.Trim(string(b), `"`)
	}
}
