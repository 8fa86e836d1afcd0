// Package contexts defines the real-world contexts (time, location) whose
// sampled state decides whether a context annotation is active.
package contexts

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Context is a stateful evaluator of condition strings. It holds the last
// sampled state; Update re-samples it.
type Context interface {
	Identifier() string
	Name() string
	Description() string
	// Update re-samples the state. It never blocks longer than the
	// context's own ceiling or ctx, whichever is shorter.
	Update(ctx context.Context) error
	// LastState evaluates condition against the last sample. Conditions
	// that do not parse evaluate to false.
	LastState(condition string) bool
	// ValidateCondition returns a domain.ErrInvalidCondition error for
	// malformed conditions.
	ValidateCondition(condition string) error
	HumanReadable(condition string) (string, error)
}

// Registry holds the process's contexts in a stable order.
type Registry struct {
	ordered []Context
	byID    map[string]Context
	logger  *slog.Logger
}

// NewRegistry creates a registry. Later contexts with a duplicate identifier
// replace earlier ones.
func NewRegistry(logger *slog.Logger, ctxs ...Context) *Registry {
	r := &Registry{byID: make(map[string]Context), logger: logger}
	for _, c := range ctxs {
		if _, dup := r.byID[c.Identifier()]; dup {
			for i, existing := range r.ordered {
				if existing.Identifier() == c.Identifier() {
					r.ordered[i] = c
				}
			}
		} else {
			r.ordered = append(r.ordered, c)
		}
		r.byID[c.Identifier()] = c
	}
	return r
}

// Get returns the context with the given identifier.
func (r *Registry) Get(id string) (Context, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns every context in registration order.
func (r *Registry) All() []Context {
	out := make([]Context, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// UpdateAll samples every context in turn. A failing context does not stop
// the others; all failures are returned joined.
func (r *Registry) UpdateAll(ctx context.Context) error {
	var errs []error
	for _, c := range r.ordered {
		start := time.Now()
		if err := c.Update(ctx); err != nil {
			r.logger.Warn("context update failed", "context", c.Identifier(), "error", err)
			errs = append(errs, err)
			continue
		}
		r.logger.Debug("context updated", "context", c.Identifier(), "duration", time.Since(start))
	}
	return errors.Join(errs...)
}
