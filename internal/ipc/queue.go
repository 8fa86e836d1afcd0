// Package ipc is the engine's outbound channel: it collects per-app service
// feature verifications, holds them back while an update batch is open and
// delivers them on the event bus once the outermost batch ends.
package ipc

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/time/rate"

	"pmp/internal/domain"
)

// Publisher delivers one verification. *eventbus.Bus satisfies it.
type Publisher interface {
	Emit(ctx context.Context, eventType domain.EventType, subject string, payload any) error
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithRate paces deliveries. A zero limit disables pacing.
func WithRate(perSecond float64, burst int) QueueOption {
	return func(q *Queue) {
		if perSecond <= 0 {
			q.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithObserver is called after every delivery attempt.
func WithObserver(fn func(app string, err error)) QueueOption {
	return func(q *Queue) { q.observe = fn }
}

// Queue implements the engine's notifier. The latest verification per app
// wins; entries are removed before they are delivered.
type Queue struct {
	pub     Publisher
	limiter *rate.Limiter
	logger  *slog.Logger
	observe func(app string, err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	depth   int
	pending map[string]map[string]bool
	order   []string
	running bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue delivering to pub.
func NewQueue(pub Publisher, logger *slog.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pub:     pub,
		logger:  logger,
		observe: func(string, error) {},
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]map[string]bool),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// StartUpdate opens a (possibly nested) batch.
func (q *Queue) StartUpdate() {
	q.mu.Lock()
	q.depth++
	q.mu.Unlock()
}

// EndUpdate closes a batch. Closing the outermost batch rolls out every
// queued verification. Extra calls are ignored.
func (q *Queue) EndUpdate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.depth == 0 {
		q.logger.Warn("update batch ended without being started")
		return
	}
	q.depth--
	if q.depth == 0 {
		q.rolloutLocked()
	}
}

// Depth returns the number of open batches.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Queue records the verification for app, replacing any earlier one. With
// no batch open it is rolled out immediately.
func (q *Queue) Queue(app string, features map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[app]; !ok {
		q.order = append(q.order, app)
	}
	q.pending[app] = maps.Clone(features)
	q.logger.Debug("verification queued", "app", app, "batch_depth", q.depth)
	if q.depth == 0 {
		q.rolloutLocked()
	}
}

// Pending returns a copy of the undelivered verifications.
func (q *Queue) Pending() map[string]map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]map[string]bool, len(q.pending))
	for app, f := range q.pending {
		out[app] = maps.Clone(f)
	}
	return out
}

// rolloutLocked starts the single delivery worker if it is not running.
func (q *Queue) rolloutLocked() {
	if q.running || len(q.order) == 0 || q.ctx.Err() != nil {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.deliver()
}

// next pops the oldest entry. The worker stops while a batch is open; the
// outermost EndUpdate restarts it.
func (q *Queue) next() (string, map[string]bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.depth > 0 || len(q.order) == 0 || q.ctx.Err() != nil {
		q.running = false
		return "", nil, false
	}
	app := q.order[0]
	q.order = q.order[1:]
	features := q.pending[app]
	delete(q.pending, app)
	return app, features, true
}

func (q *Queue) deliver() {
	defer q.wg.Done()
	for {
		app, features, ok := q.next()
		if !ok {
			return
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(q.ctx); err != nil {
				q.logger.Debug("verification dropped on shutdown", "app", app)
				q.observe(app, err)
				continue
			}
		}
		err := q.pub.Emit(q.ctx, domain.EventServiceFeaturesUpdated, app,
			domain.ServiceFeatureUpdate{App: app, Features: features})
		if err != nil {
			q.logger.Warn("verification delivery failed", "app", app, "error", err)
		}
		q.observe(app, err)
	}
}

// Wait blocks until the delivery worker is idle.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops delivering and waits for the worker. Undelivered entries stay
// pending.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}
