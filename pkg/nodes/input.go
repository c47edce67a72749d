package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validationTags maps an input validation name to validator tags.
var validationTags = map[string]string{
	"email":  "email",
	"phone":  "e164|number",
	"number": "numeric",
	"date":   "datetime=2006-01-02",
}

// InputValidationError is an answer rejected by an input's validation rule.
type InputValidationError struct {
	Validation string
	Value      string
	Err        error
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("input %q is not a valid %s", e.Value, e.Validation)
}

func (e *InputValidationError) Unwrap() error {
	return e.Err
}

// ValidateInput checks value against a validation name. Unknown names and "none" accept anything.
func ValidateInput(validation, value string) error {
	tag, ok := validationTags[validation]
	if !ok {
		return nil
	}

	if value == "" {
		return &InputValidationError{Validation: validation, Value: value, Err: fmt.Errorf("empty answer")}
	}

	if validation == "phone" {
		value = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(value)
	}

	if err := validate.Var(value, tag); err != nil {
		return &InputValidationError{Validation: validation, Value: value, Err: err}
	}

	return nil
}

// answered reports whether the event carries a user answer.
func answered(event *models.InboundEvent) bool {
	return event.Kind == models.EventKindMessage || event.Kind == models.EventKindDTMF
}

// prompt sends text as a chat message, or as a DTMF prompt on voice.
func (r *Request) prompt(ctx context.Context, text string, options []string, data map[string]any) {
	kind := models.ActionText
	if r.ChannelType().IsVoice() {
		kind = models.ActionDTMFPrompt
	}

	r.send(ctx, models.Action{Kind: kind, Text: text, Options: options, Data: data})
}

// retry re-prompts after a rejected answer or gives up once maxRetries is spent.
func (r *Request) retry(ctx context.Context, maxRetries int, cause error, reprompt func()) Directive {
	attempts := r.Attempts + 1
	if attempts > maxRetries {
		r.Logger.InfoContext(ctx, "input retries exhausted", "node_id", r.Node.ID, "attempts", attempts)

		return r.Recover(ctx, models.HandleFallback, models.EndReasonInputRetries, cause)
	}

	if msg := dataString(r.Node, "invalid_message"); msg != "" {
		r.send(ctx, models.Action{Kind: models.ActionText, Text: r.Scope.Render(msg)})
	}

	reprompt()

	return WaitForInput(attempts)
}

type inputHandler struct {
	defaultMaxRetries int
}

func (h *inputHandler) Type() models.NodeType { return models.NodeTypeInput }

func (h *inputHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":          map[string]any{"type": "string"},
			"variable":        map[string]any{"type": "string", "minLength": 1},
			"validation":      map[string]any{"type": "string", "enum": []any{"", "none", "email", "phone", "number", "date"}},
			"max_retries":     map[string]any{"type": "integer", "minimum": 0},
			"retry_prompt":    map[string]any{"type": "string"},
			"invalid_message": map[string]any{"type": "string"},
		},
		"required": []any{"variable"},
	}
}

func (h *inputHandler) Execute(ctx context.Context, req *Request) Directive {
	if !req.Resuming() {
		req.prompt(ctx, req.Scope.Render(dataString(req.Node, "prompt")), nil, nil)

		return WaitForInput(0)
	}

	if !answered(req.Event) {
		return Stay(models.WaitingForInput, req.Attempts)
	}

	value := strings.TrimSpace(req.Event.Value())

	if err := ValidateInput(dataString(req.Node, "validation"), value); err != nil {
		req.Logger.DebugContext(ctx, "input rejected", "node_id", req.Node.ID, "error", err)

		return req.retry(ctx, dataInt(req.Node, "max_retries", h.defaultMaxRetries), err, func() {
			text := dataString(req.Node, "retry_prompt")
			if text == "" {
				text = dataString(req.Node, "prompt")
			}

			req.prompt(ctx, req.Scope.Render(text), nil, nil)
		})
	}

	req.Scope.Set(dataString(req.Node, "variable"), value)

	return req.Next(ctx)
}
