package job

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/delayed"
)

// Handler executes a job's effect for one actor.
//
// Return nil on success, an error built with Fatal or Fatalf when retrying
// cannot help, and any other error to have the job retried with backoff.
// Handlers may run more than once for the same actor and must be
// idempotent with respect to externally visible effects.
type Handler interface {
	Run(ctx context.Context, actorID string) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, actorID string) error

// Run calls f(ctx, actorID).
func (f HandlerFunc) Run(ctx context.Context, actorID string) error {
	return f(ctx, actorID)
}

// Registry maps queues to handlers. It is built once at startup and never
// changes, so it is safe for concurrent use without locking.
type Registry struct {
	handlers map[Queue]Handler
}

// NewRegistry copies handlers into an immutable Registry. Unknown queues
// and nil handlers are rejected.
func NewRegistry(handlers map[Queue]Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[Queue]Handler, len(handlers))}
	for q, h := range handlers {
		if !q.Valid() {
			return nil, fmt.Errorf("%w: %q", delayed.ErrInvalidQueue, q)
		}
		if h == nil {
			return nil, fmt.Errorf("%w for queue %q", delayed.ErrNilHandler, q)
		}
		r.handlers[q] = h
	}
	return r, nil
}

// MustRegistry is NewRegistry for static wiring; it panics on error.
func MustRegistry(handlers map[Queue]Handler) *Registry {
	r, err := NewRegistry(handlers)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the handler for q. A nil Registry has no handlers.
func (r *Registry) Get(q Queue) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[q]
	return h, ok
}

// Queues returns the queues that have a handler, sorted.
func (r *Registry) Queues() []Queue {
	if r == nil {
		return nil
	}
	out := make([]Queue, 0, len(r.handlers))
	for q := range r.handlers {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
