// Package timectx evaluates repeating wall-clock windows.
package timectx

import (
	"context"
	"sync"
	"time"
)

// Identifier names the time context in annotations.
const Identifier = "TimeContext"

// Option configures a Context.
type Option func(*Context)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// WithLocation sets the zone used for conditions without the utc prefix.
func WithLocation(loc *time.Location) Option {
	return func(c *Context) { c.loc = loc }
}

// Context samples the clock on Update and answers conditions against that
// sample. It is safe for concurrent use.
type Context struct {
	now func() time.Time
	loc *time.Location

	mu    sync.Mutex
	last  time.Time
	cache map[string]Condition
}

// New creates a time context sampled once at construction.
func New(opts ...Option) *Context {
	c := &Context{
		now:   time.Now,
		loc:   time.Local,
		cache: make(map[string]Condition),
	}
	for _, o := range opts {
		o(c)
	}
	c.last = c.now()
	return c
}

func (c *Context) Identifier() string { return Identifier }
func (c *Context) Name() string       { return "Time" }
func (c *Context) Description() string {
	return "Active while the current time lies in a repeating window."
}

// Update samples the clock.
func (c *Context) Update(context.Context) error {
	now := c.now()
	c.mu.Lock()
	c.last = now
	c.mu.Unlock()
	return nil
}

// LastSample returns the time of the last Update.
func (c *Context) LastSample() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Context) parse(condition string) (Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cond, ok := c.cache[condition]; ok {
		return cond, nil
	}
	cond, err := Parse(condition)
	if err != nil {
		return Condition{}, err
	}
	c.cache[condition] = cond
	return cond, nil
}

func (c *Context) LastState(condition string) bool {
	cond, err := c.parse(condition)
	if err != nil {
		return false
	}
	return cond.SatisfiedIn(c.LastSample(), c.loc)
}

func (c *Context) ValidateCondition(condition string) error {
	_, err := c.parse(condition)
	return err
}

func (c *Context) HumanReadable(condition string) (string, error) {
	cond, err := c.parse(condition)
	if err != nil {
		return "", err
	}
	return cond.HumanReadable(), nil
}
