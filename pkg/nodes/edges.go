package nodes

import (
	"context"
	"slices"

	"github.com/dukex/convoflow/pkg/models"
)

// reserved handles are only followed on purpose, never as a default route.
var reserved = []string{models.HandleError, models.HandleFallback}

// selectEdge returns the first outgoing edge accepted by match whose condition holds.
func (r *Request) selectEdge(ctx context.Context, match func(*models.Edge) bool) *models.Edge {
	for _, e := range r.Graph.OutgoingEdges(r.Node.ID) {
		if !match(e) {
			continue
		}

		if e.IsUnconditional() || r.Conditions.Evaluate(ctx, e.Condition, r.Scope) {
			return e
		}
	}

	return nil
}

func byHandle(handle string) func(*models.Edge) bool {
	return func(e *models.Edge) bool {
		return e.HasHandle(handle)
	}
}

// defaultRoute accepts edges not bound to a reserved handle nor to one of exclude.
func defaultRoute(exclude ...string) func(*models.Edge) bool {
	return func(e *models.Edge) bool {
		for _, h := range reserved {
			if e.HasHandle(h) {
				return false
			}
		}

		return !slices.ContainsFunc(exclude, e.HasHandle)
	}
}

// Next follows the default route. A node without one ends the conversation normally.
func (r *Request) Next(ctx context.Context) Directive {
	if e := r.selectEdge(ctx, defaultRoute()); e != nil {
		return Continue(e.Target)
	}

	return End(models.EndReasonCompleted)
}

// NextVia prefers an edge with handle, then the default route.
func (r *Request) NextVia(ctx context.Context, handle string) Directive {
	if e := r.selectEdge(ctx, byHandle(handle)); e != nil {
		return Continue(e.Target)
	}

	return r.Next(ctx)
}

// Recover follows the edge of a reserved handle, or fails with reason.
func (r *Request) Recover(ctx context.Context, handle, reason string, cause error) Directive {
	if e := r.selectEdge(ctx, byHandle(handle)); e != nil {
		d := Continue(e.Target)
		d.Err = cause

		return d
	}

	return Fail(reason, cause)
}
