// Package eventbus is the in-process fan-out for engine events: service
// feature verifications, lifecycle changes and bundle index changes.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pmp/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	now     func() time.Time
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Emit publishes an event about subject with payload encoded as JSON.
// A nil payload publishes an event without one.
func (b *Bus) Emit(ctx context.Context, eventType domain.EventType, subject string, payload any) error {
	event := domain.Event{Type: eventType, Timestamp: b.now(), Subject: subject}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		event.Payload = raw
	}
	b.Publish(ctx, event)
	return nil
}

// Publish fans out an event to matching typed subscribers and all-event subscribers.
// Each handler is invoked in its own goroutine. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		b.logger.Debug("event dropped after close", "event", string(event.Type), "subject", event.Subject)
		return
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"subject", event.Subject,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = without(b.typed[eventType], id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, id)
	}
}

func without(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Drain waits for all in-flight handlers without closing the bus.
func (b *Bus) Drain() {
	b.wg.Wait()
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
