package nodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiFlow(url string, withErrorEdge bool) *models.Flow {
	flow := &models.Flow{
		ID: "lookup", Name: "Lookup", Version: 1,
		Nodes: []*models.Node{
			{ID: "call", Type: models.NodeTypeAPIRequest, Data: map[string]any{
				"method":          "post",
				"url":             url + "/customers/{{customer}}",
				"headers":         map[string]any{"X-Customer": "{{customer}}"},
				"body":            map[string]any{"id": "{{customer}}"},
				"timeout":         0.2,
				"result_variable": "customer_data",
				"mappings": map[string]any{
					"customer_name": "data.name",
					"first_tag":     "/data/tags/0",
					"missing":       "data.nope",
				},
			}},
			{ID: "ok", Type: models.NodeTypeMessage, Data: map[string]any{"text": "Welcome {{customer_name}}"}},
			{ID: "sorry", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{
			{Source: "call", Target: "ok"},
		},
	}

	if withErrorEdge {
		flow.Edges = append(flow.Edges, &models.Edge{Source: "call", Target: "sorry", SourceHandle: models.HandleError})
	}

	return flow
}

func apiResultEvent(r APIResult) *models.InboundEvent {
	return &models.InboundEvent{Kind: models.EventKindAPIResult, Payload: r.Payload()}
}

func TestAPIRequest_SuspendsWithRenderedCall(t *testing.T) {
	h := newHarness(t, apiFlow("http://api.test", false))
	h.scope.Set("customer", "42")

	d := h.run("call", nil, 0)
	require.Equal(t, DirectiveSuspend, d.Kind)
	assert.Equal(t, models.WaitingForAPI, d.WaitingFor)
	require.NotNil(t, d.Call)
	assert.Equal(t, "POST", d.Call.Method)
	assert.Equal(t, "http://api.test/customers/42", d.Call.URL)
	assert.Equal(t, map[string]string{"X-Customer": "42"}, d.Call.Headers)
	assert.Equal(t, map[string]any{"id": "42"}, d.Call.Body)
	assert.Equal(t, 200*time.Millisecond, d.Call.Timeout)
	assert.Empty(t, h.outbox.actions)
}

func TestAPIRequest_SuccessAppliesMappings(t *testing.T) {
	h := newHarness(t, apiFlow("http://api.test", true))

	body := `{"data":{"name":"Maria","tags":["vip","new"]}}`
	d := h.run("call", apiResultEvent(APIResult{StatusCode: 200, Body: body}), 0)

	assert.Equal(t, Continue("ok"), d)
	assert.Equal(t, body, h.scope.Get("customer_data"))
	assert.Equal(t, "200", h.scope.Get("customer_data_status"))
	assert.Equal(t, "Maria", h.scope.Get("customer_name"))
	assert.Equal(t, "vip", h.scope.Get("first_tag"))
	assert.Empty(t, h.scope.Get("missing"))
}

func TestAPIRequest_SuccessClearsPreviousError(t *testing.T) {
	h := newHarness(t, apiFlow("http://api.test", true))

	d := h.run("call", apiResultEvent(APIResult{StatusCode: 503, Error: "unavailable"}), 0)
	require.Equal(t, DirectiveContinue, d.Kind)
	require.Equal(t, "sorry", d.Next)
	require.NotEmpty(t, h.scope.Get("api_error"))
	require.NotEmpty(t, h.scope.Get("customer_data_error"))

	d = h.run("call", apiResultEvent(APIResult{StatusCode: 200, Body: `{"data":{"name":"Ana"}}`}), 0)
	assert.Equal(t, Continue("ok"), d)
	assert.Empty(t, h.scope.Get("api_error"))
	assert.Empty(t, h.scope.Get("customer_data_error"))
	assert.NotContains(t, h.scope.Session(), "api_error")
}

func TestAPIRequest_TimeoutWithoutErrorEdgeFails(t *testing.T) {
	h := newHarness(t, apiFlow("http://api.test", false))

	d := h.run("call", apiResultEvent(APIResult{Error: "context deadline exceeded", TimedOut: true}), 0)

	assert.Equal(t, DirectiveTerminate, d.Kind)
	assert.Equal(t, models.ConversationStatusFailed, d.Status)
	assert.Equal(t, models.EndReasonAPIFailure, d.Reason)
	assert.True(t, IsAPITimeout(d.Err))
	assert.NotEmpty(t, h.scope.Get("api_error"))
	assert.NotEmpty(t, h.scope.Get("customer_data_error"))
	assert.Empty(t, h.outbox.actions)
}

func TestAPIRequest_ErrorStatusFollowsErrorEdge(t *testing.T) {
	h := newHarness(t, apiFlow("http://api.test", true))

	d := h.run("call", apiResultEvent(APIResult{StatusCode: 503, Error: "503 Service Unavailable"}), 0)

	assert.Equal(t, DirectiveContinue, d.Kind)
	assert.Equal(t, "sorry", d.Next)
	assert.False(t, IsAPITimeout(d.Err))
	assert.Equal(t, "503", h.scope.Get("customer_data_status"))
}

func TestAPIRequest_RecoverReissuesCall(t *testing.T) {
	h := newHarness(t, apiFlow("http://api.test", false))

	d := h.run("call", &models.InboundEvent{Kind: models.EventKindRecover}, 0)
	assert.Equal(t, models.WaitingForAPI, d.WaitingFor)
	assert.NotNil(t, d.Call)

	d = h.run("call", message("hello?"), 0)
	assert.Equal(t, Stay(models.WaitingForAPI, 0), d)
}

func TestAPIClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "/missing":
			http.NotFound(w, r)
		default:
			assert.Equal(t, "token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	client := NewAPIClient()

	t.Run("success", func(t *testing.T) {
		r := client.Do(context.Background(), &APICall{Method: "GET", URL: srv.URL + "/ok", Headers: map[string]string{"Authorization": "token"}, Timeout: time.Second})
		assert.True(t, r.Success())
		assert.JSONEq(t, `{"ok":true}`, r.Body)
	})

	t.Run("not found", func(t *testing.T) {
		r := client.Do(context.Background(), &APICall{Method: "GET", URL: srv.URL + "/missing", Timeout: time.Second})
		assert.False(t, r.Success())
		assert.Equal(t, http.StatusNotFound, r.StatusCode)
		assert.False(t, r.TimedOut)
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		r := client.Do(context.Background(), &APICall{Method: "GET", URL: srv.URL + "/slow", Timeout: 50 * time.Millisecond})
		assert.False(t, r.Success())
		assert.True(t, r.TimedOut)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestResultFromPayload_AcceptsDecodedJSON(t *testing.T) {
	r := ResultFromPayload(map[string]any{"status_code": float64(201), "body": "{}"})
	assert.Equal(t, APIResult{StatusCode: 201, Body: "{}"}, r)
	assert.True(t, r.Success())
}
