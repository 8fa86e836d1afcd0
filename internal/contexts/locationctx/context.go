// Package locationctx evaluates polygon areas against a sampled position.
//
// Sampling is bounded: Update takes the best last-known fixes and, if they
// are not accurate and recent enough, listens for new fixes until either
// the acceptance threshold is met or MaxEstimate has passed.
package locationctx

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Identifier names the location context in annotations.
const Identifier = "LocationContext"

// listenerGrace bounds how long Update waits for a Source to return after
// its context is cancelled.
const listenerGrace = time.Second

// Settings is the acceptance policy for fixes.
type Settings struct {
	// BestAccuracy and BestAge end sampling early once met.
	BestAccuracy float64
	BestAge      time.Duration
	// MaxEstimate is the ceiling on time spent listening.
	MaxEstimate time.Duration
	// MaxAccuracyLoss is how much worse a newer fix may be and still replace
	// an older one.
	MaxAccuracyLoss float64
	// Fixes worse than RejectAccuracy or older than RejectAge are discarded.
	RejectAccuracy float64
	RejectAge      time.Duration
	// Emulator accepts every fix unconditionally.
	Emulator bool
}

// DefaultSettings returns the standard acceptance policy.
func DefaultSettings() Settings {
	return Settings{
		BestAccuracy:    25,
		BestAge:         time.Minute,
		MaxEstimate:     25 * time.Second,
		MaxAccuracyLoss: 2.5,
		RejectAccuracy:  1000,
		RejectAge:       5 * time.Minute,
	}
}

// Source provides position fixes.
type Source interface {
	// LastKnown returns cached fixes without waiting.
	LastKnown(ctx context.Context) ([]Fix, error)
	// Listen sends fresh fixes until ctx is done. Sends must select on
	// ctx.Done().
	Listen(ctx context.Context, fixes chan<- Fix) error
}

// Option configures a Context.
type Option func(*Context)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(c *Context) { c.settings = s }
}

// Context is the location context. It is safe for concurrent use.
type Context struct {
	source   Source
	settings Settings
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	fix   Fix
	set   bool
	cache map[string]*Condition
}

// New creates a location context with no sample yet.
func New(source Source, logger *slog.Logger, opts ...Option) *Context {
	c := &Context{
		source:   source,
		settings: DefaultSettings(),
		now:      time.Now,
		logger:   logger,
		cache:    make(map[string]*Condition),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Context) Identifier() string { return Identifier }
func (c *Context) Name() string       { return "Location" }
func (c *Context) Description() string {
	return "Active while the device is inside (or outside) an area."
}

// Last returns the current sample, if any.
func (c *Context) Last() (Fix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fix, c.set
}

// sample accumulates fixes during one Update.
type sample struct {
	settings Settings
	now      time.Time
	fix      Fix
	set      bool
}

func (s *sample) accuracy() float64 {
	if !s.set {
		return math.Inf(1)
	}
	return s.fix.Accuracy
}

func (s *sample) offer(f Fix) {
	if s.settings.Emulator {
		s.fix, s.set = f, true
		return
	}
	if f.Time.Before(s.now.Add(-s.settings.RejectAge)) {
		return
	}
	if f.Accuracy < 0 || f.Accuracy > s.settings.RejectAccuracy {
		return
	}
	better := f.Accuracy < s.accuracy()
	newer := f.Accuracy < s.accuracy()*s.settings.MaxAccuracyLoss && (!s.set || f.Time.After(s.fix.Time))
	if better || newer {
		s.fix, s.set = f, true
	}
}

func (s *sample) goodEnough() bool {
	return s.set && s.fix.Accuracy <= s.settings.BestAccuracy &&
		!s.fix.Time.Before(s.now.Add(-s.settings.BestAge))
}

// Update samples the position. It returns within MaxEstimate plus a short
// grace period regardless of the Source.
func (c *Context) Update(ctx context.Context) error {
	s := &sample{settings: c.settings, now: c.now()}

	var errs []error
	known, err := c.source.LastKnown(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, f := range known {
		s.offer(f)
	}

	if !s.goodEnough() {
		if err := c.listen(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}

	if s.set && !s.settings.Emulator {
		if s.fix.Accuracy > s.settings.RejectAccuracy || c.now().Sub(s.fix.Time) > s.settings.RejectAge {
			s.set = false
		}
	}

	c.mu.Lock()
	c.fix, c.set = s.fix, s.set
	c.mu.Unlock()

	if s.set {
		c.logger.Debug("location sampled", "point", s.fix.Point.String(), "accuracy", s.fix.Accuracy)
	} else {
		c.logger.Debug("location unavailable")
	}
	return errors.Join(errs...)
}

func (c *Context) listen(ctx context.Context, s *sample) error {
	lctx, cancel := context.WithTimeout(ctx, c.settings.MaxEstimate)
	defer cancel()

	fixes := make(chan Fix)
	done := make(chan error, 1)
	go func() { done <- c.source.Listen(lctx, fixes) }()

	for {
		select {
		case f := <-fixes:
			s.offer(f)
			if s.goodEnough() {
				cancel()
				return c.awaitListener(done)
			}
		case err := <-done:
			return ignoreCancel(err)
		case <-lctx.Done():
			return c.awaitListener(done)
		}
	}
}

func (c *Context) awaitListener(done <-chan error) error {
	select {
	case err := <-done:
		return ignoreCancel(err)
	case <-time.After(listenerGrace):
		c.logger.Warn("location source did not stop after cancellation")
		return nil
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Context) condition(s string) (*Condition, error) {
	if cond, ok := c.cache[s]; ok {
		return cond, nil
	}
	cond, err := ParseCondition(s)
	if err != nil {
		return nil, err
	}
	c.cache[s] = cond
	return cond, nil
}

// LastState evaluates condition against the last sample. Without a sample
// it is false.
func (c *Context) LastState(condition string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return false
	}
	cond, err := c.condition(condition)
	if err != nil {
		return false
	}
	return cond.SatisfiedIn(c.fix)
}

func (c *Context) ValidateCondition(condition string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.condition(condition)
	return err
}

func (c *Context) HumanReadable(condition string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cond, err := c.condition(condition)
	if err != nil {
		return "", err
	}
	return cond.HumanReadable(), nil
}
