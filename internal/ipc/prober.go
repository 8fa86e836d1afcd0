package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default prober settings.
const (
	defaultProbeTimeout        = 3 * time.Second
	defaultMaxFailures  uint32 = 3
	defaultOpenTimeout         = 30 * time.Second
)

// ProberConfig configures service reachability checks.
type ProberConfig struct {
	// Timeout bounds a single probe request.
	Timeout time.Duration
	// MaxFailures consecutive failures open the app's breaker.
	MaxFailures uint32
	// OpenTimeout is how long an open breaker fails fast.
	OpenTimeout time.Duration
}

// Prober decides whether an app's service endpoint is reachable. Each app
// has its own circuit breaker so a dead endpoint is not hammered on every
// registration attempt.
type Prober struct {
	client *http.Client
	cfg    ProberConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewProber creates a prober. A nil client uses http.DefaultClient.
func NewProber(client *http.Client, cfg ProberConfig, logger *slog.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	return &Prober{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (p *Prober) breaker(app string) *gobreaker.CircuitBreaker[struct{}] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[app]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "service:" + app,
		MaxRequests: 1,
		Timeout:     p.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("service breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	p.breakers[app] = cb
	return cb
}

// Reachable probes serviceURL with a GET. Apps without a service URL are
// never reachable; any response below 500 counts as reachable.
func (p *Prober) Reachable(ctx context.Context, app, serviceURL string) bool {
	if serviceURL == "" {
		return false
	}
	_, err := p.breaker(app).Execute(func() (struct{}, error) {
		return struct{}{}, p.probe(ctx, serviceURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger.Debug("service probe short-circuited", "app", app)
		} else {
			p.logger.Debug("service probe failed", "app", app, "error", err)
		}
		return false
	}
	return true
}

func (p *Prober) probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("service answered %s", resp.Status)
	}
	return nil
}

// State returns the breaker state for app.
func (p *Prober) State(app string) gobreaker.State {
	return p.breaker(app).State()
}

// ProberFunc adapts a function to the prober interface.
type ProberFunc func(ctx context.Context, app, serviceURL string) bool

func (f ProberFunc) Reachable(ctx context.Context, app, serviceURL string) bool {
	return f(ctx, app, serviceURL)
}

// AlwaysReachable treats every app as reachable; used when probing is
// disabled.
var AlwaysReachable = ProberFunc(func(context.Context, string, string) bool { return true })
