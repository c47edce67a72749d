package nodes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/go-resty/resty/v2"
)

const defaultResultVariable = "apiResponse"

// APICall is a fully rendered api_request ready to be issued.
type APICall struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// APIResult is the outcome of an APICall, carried back on an api_result event.
type APIResult struct {
	StatusCode int
	Body       string
	Error      string
	TimedOut   bool
}

// Success reports a 2xx response without transport error.
func (r APIResult) Success() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Payload encodes the result as an event payload.
func (r APIResult) Payload() map[string]any {
	return map[string]any{
		"status_code": r.StatusCode,
		"body":        r.Body,
		"error":       r.Error,
		"timed_out":   r.TimedOut,
	}
}

// ResultFromPayload decodes an api_result event payload.
func ResultFromPayload(payload map[string]any) APIResult {
	var r APIResult

	switch v := payload["status_code"].(type) {
	case int:
		r.StatusCode = v
	case float64:
		r.StatusCode = int(v)
	}

	r.Body, _ = payload["body"].(string)
	r.Error, _ = payload["error"].(string)
	r.TimedOut, _ = payload["timed_out"].(bool)

	return r
}

// APIRequestError describes a failed api_request.
type APIRequestError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Message    string
}

func (e *APIRequestError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("request to %s timed out", e.URL)
	case e.Message != "":
		return fmt.Sprintf("request to %s failed: %s", e.URL, e.Message)
	default:
		return fmt.Sprintf("request to %s returned status %d", e.URL, e.StatusCode)
	}
}

// IsAPITimeout reports whether err is an APIRequestError caused by a timeout.
func IsAPITimeout(err error) bool {
	var apiErr *APIRequestError

	return errors.As(err, &apiErr) && apiErr.Timeout
}

// APIClient issues api_request calls.
type APIClient struct {
	client *resty.Client
}

func NewAPIClient() *APIClient {
	return NewAPIClientWith(resty.New())
}

// NewAPIClientWith wraps a preconfigured resty client.
func NewAPIClientWith(client *resty.Client) *APIClient {
	return &APIClient{client: client}
}

// Do issues call bounded by its timeout. Failures are reported in the result, never returned.
func (c *APIClient) Do(ctx context.Context, call *APICall) APIResult {
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)

		defer cancel()
	}

	req := c.client.R().SetContext(ctx).SetHeaders(call.Headers)
	if call.Body != nil && call.Body != "" {
		req.SetBody(call.Body)
	}

	resp, err := req.Execute(call.Method, call.URL)
	if err != nil {
		return APIResult{Error: err.Error(), TimedOut: isTimeout(ctx, err)}
	}

	result := APIResult{StatusCode: resp.StatusCode(), Body: resp.String()}
	if !result.Success() {
		result.Error = resp.Status()
	}

	return result
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

type apiRequestHandler struct {
	defaultTimeout time.Duration
}

func (h *apiRequestHandler) Type() models.NodeType { return models.NodeTypeAPIRequest }

func (h *apiRequestHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method":          map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "get", "post", "put", "patch", "delete", "head"}},
			"url":             map[string]any{"type": "string", "minLength": 1},
			"headers":         map[string]any{"type": "object"},
			"body":            map[string]any{},
			"timeout":         map[string]any{"type": "number", "minimum": 0},
			"result_variable": map[string]any{"type": "string"},
			"mappings":        map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
		},
		"required": []any{"url"},
	}
}

// Call renders the request of node against the request scope.
func (h *apiRequestHandler) Call(req *Request) *APICall {
	method := strings.ToUpper(dataString(req.Node, "method"))
	if method == "" {
		method = "GET"
	}

	timeout := h.defaultTimeout
	if secs := dataFloat(req.Node, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	return &APICall{
		Method:  method,
		URL:     req.Scope.Render(dataString(req.Node, "url")),
		Headers: req.Scope.RenderMap(dataStringMap(req.Node, "headers")),
		Body:    req.renderValue(req.Node.Data["body"]),
		Timeout: timeout,
	}
}

func (h *apiRequestHandler) Execute(ctx context.Context, req *Request) Directive {
	if !req.Resuming() || req.Event.Kind == models.EventKindRecover {
		return WaitForAPI(h.Call(req))
	}

	if req.Event.Kind != models.EventKindAPIResult {
		return Stay(models.WaitingForAPI, req.Attempts)
	}

	result := ResultFromPayload(req.Event.Payload)

	variable := dataString(req.Node, "result_variable")
	if variable == "" {
		variable = defaultResultVariable
	}

	req.Scope.Set(variable+"_status", fmt.Sprint(result.StatusCode))

	if !result.Success() {
		err := &APIRequestError{
			URL:        req.Scope.Render(dataString(req.Node, "url")),
			StatusCode: result.StatusCode,
			Timeout:    result.TimedOut,
			Message:    result.Error,
		}

		req.Scope.Set(variable+"_error", err.Error())
		req.Scope.Set("api_error", err.Error())
		req.Logger.WarnContext(ctx, "api request failed", "node_id", req.Node.ID, "error", err)

		return req.Recover(ctx, models.HandleError, models.EndReasonAPIFailure, err)
	}

	req.Scope.Set(variable, result.Body)
	req.Scope.Delete(variable + "_error")
	req.Scope.Delete("api_error")
	h.applyMappings(ctx, req, result.Body)

	return req.NextVia(ctx, models.HandleSuccess)
}

// applyMappings copies values out of a JSON body. Paths are dotted (a.b.0.c) or JSON pointers (/a/b).
func (h *apiRequestHandler) applyMappings(ctx context.Context, req *Request, body string) {
	mappings := dataStringMap(req.Node, "mappings")
	if len(mappings) == 0 {
		return
	}

	parsed, err := gabs.ParseJSON([]byte(body))
	if err != nil {
		req.Logger.WarnContext(ctx, "api response is not JSON, mappings skipped", "node_id", req.Node.ID, "error", err)

		return
	}

	for variable, path := range mappings {
		var found *gabs.Container

		if strings.HasPrefix(path, "/") {
			found, err = parsed.JSONPointer(path)
			if err != nil {
				found = nil
			}
		} else {
			found = parsed.Path(strings.TrimPrefix(path, "$."))
		}

		if found == nil || found.Data() == nil {
			req.Scope.Set(variable, "")

			continue
		}

		req.Scope.SetAny(variable, found.Data())
	}
}
