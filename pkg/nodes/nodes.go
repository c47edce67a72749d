// Package nodes executes one flow node at a time and tells the runner what to do next.
//
// Dispatch is a tagged lookup from models.NodeType to a Handler. Handlers
// never return errors: node-local failures become a Directive (an error edge,
// a re-prompt or a Terminate).
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/scope"
	"github.com/xeipuuv/gojsonschema"
)

// Handler implements one node kind.
type Handler interface {
	Type() models.NodeType
	// Schema is the JSON schema of the node's data, checked when a flow loads.
	Schema() map[string]any
	Execute(ctx context.Context, req *Request) Directive
}

// Outbox accepts outbound actions. Sending never blocks on the channel.
type Outbox interface {
	Send(ctx context.Context, action models.Action)
}

// ConditionEvaluator evaluates edge conditions.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, vars condition.Variables) bool
}

// Request is everything a handler may look at while executing a node.
type Request struct {
	Conversation *models.Conversation
	Node         *models.Node
	Graph        *flowgraph.Graph
	Scope        *scope.Scope
	Conditions   ConditionEvaluator
	Outbox       Outbox
	// Event is set only when the conversation resumes at this node.
	Event *models.InboundEvent
	// Attempts counts failed inputs already spent at this node.
	Attempts int
	Logger   *slog.Logger
}

// Resuming reports whether the node is re-entered with an inbound event.
func (r *Request) Resuming() bool {
	return r.Event != nil
}

// ChannelType of the conversation being executed.
func (r *Request) ChannelType() models.ChannelType {
	if r.Conversation == nil {
		return ""
	}

	return r.Conversation.ChannelType
}

func (r *Request) send(ctx context.Context, action models.Action) {
	action.NodeID = r.Node.ID
	r.Outbox.Send(ctx, action)
}

// Handler defaults used when no Option overrides them.
const (
	DefaultAPITimeout = 10 * time.Second
	DefaultMaxRetries = 3
)

// Options tune handler defaults.
type Options struct {
	APITimeout        time.Duration
	DefaultMaxRetries int
	APIClient         *APIClient
}

// Option configures an Executor.
type Option func(*Options)

func WithAPITimeout(d time.Duration) Option {
	return func(o *Options) { o.APITimeout = d }
}

func WithDefaultMaxRetries(n int) Option {
	return func(o *Options) { o.DefaultMaxRetries = n }
}

func WithAPIClient(c *APIClient) Option {
	return func(o *Options) { o.APIClient = c }
}

// Executor dispatches nodes to their handlers.
type Executor struct {
	logger   *slog.Logger
	opts     Options
	handlers map[models.NodeType]Handler
	schemas  map[models.NodeType]*gojsonschema.Schema
}

// NewExecutor registers every built-in node kind.
func NewExecutor(logger *slog.Logger, opts ...Option) (*Executor, error) {
	o := Options{
		APITimeout:        DefaultAPITimeout,
		DefaultMaxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.APIClient == nil {
		o.APIClient = NewAPIClient()
	}

	e := &Executor{
		logger:   logger.With("module", "node_executor"),
		opts:     o,
		handlers: make(map[models.NodeType]Handler),
		schemas:  make(map[models.NodeType]*gojsonschema.Schema),
	}

	for _, h := range builtins(o) {
		if err := e.Register(h); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func builtins(o Options) []Handler {
	return []Handler{
		&contentHandler{kind: models.NodeTypeMessage},
		&contentHandler{kind: models.NodeTypePlayback},
		&contentHandler{kind: models.NodeTypeTTS},
		&contentHandler{kind: models.NodeTypeMedia},
		&inputHandler{defaultMaxRetries: o.DefaultMaxRetries},
		&menuHandler{defaultMaxRetries: o.DefaultMaxRetries},
		&conditionHandler{kind: models.NodeTypeCondition},
		&conditionHandler{kind: models.NodeTypeGotoIf},
		&apiRequestHandler{defaultTimeout: o.APITimeout},
		&waitHandler{},
		&telephonyHandler{kind: models.NodeTypeDial, action: models.ActionDial, required: []string{"destination"}},
		&telephonyHandler{kind: models.NodeTypeQueue, action: models.ActionQueue, required: []string{"queue"}},
		&telephonyHandler{kind: models.NodeTypeVoicemail, action: models.ActionVoicemail, required: []string{"mailbox"}},
		&telephonyHandler{kind: models.NodeTypeAnswer, action: models.ActionAnswer},
		&telephonyHandler{kind: models.NodeTypeRecord, action: models.ActionRecord},
		&hangupHandler{},
		&gotoHandler{},
		&endHandler{},
	}
}

// Register adds or replaces the handler of a node kind.
func (e *Executor) Register(h Handler) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(h.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for node type %s: %w", h.Type(), err)
	}

	e.handlers[h.Type()] = h
	e.schemas[h.Type()] = schema

	return nil
}

// Types lists the registered node kinds.
func (e *Executor) Types() []models.NodeType {
	out := make([]models.NodeType, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Schema returns the data schema of a node kind.
func (e *Executor) Schema(t models.NodeType) (map[string]any, bool) {
	h, ok := e.handlers[t]
	if !ok {
		return nil, false
	}

	return h.Schema(), true
}

// APIClient returns the client used for api_request calls.
func (e *Executor) APIClient() *APIClient {
	return e.opts.APIClient
}

// ValidateNode checks the node kind is known and its data matches the kind's schema.
func (e *Executor) ValidateNode(node *models.Node) error {
	schema, ok := e.schemas[node.Type]
	if !ok {
		return fmt.Errorf("unknown node type %q", node.Type)
	}

	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("validating data: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("invalid data: %v", problems)
	}

	return nil
}

// Execute runs the node of req. Panics inside handlers are contained and fail the conversation.
func (e *Executor) Execute(ctx context.Context, req *Request) (d Directive) {
	if req.Logger == nil {
		req.Logger = e.logger
	}

	h, ok := e.handlers[req.Node.Type]
	if !ok {
		return Fail(models.EndReasonInvalidGraph, fmt.Errorf("unknown node type %q", req.Node.Type))
	}

	if !req.Node.SupportsChannel(req.ChannelType()) {
		req.Logger.InfoContext(ctx, "node skipped on this channel", "node_id", req.Node.ID, "channel_type", req.ChannelType())

		return req.Next(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			req.Logger.ErrorContext(ctx, "node handler panicked", "node_id", req.Node.ID, "panic", r)
			d = Fail(models.EndReasonInvalidGraph, fmt.Errorf("node %s panicked: %v", req.Node.ID, r))
		}
	}()

	return h.Execute(ctx, req)
}
