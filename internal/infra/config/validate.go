package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateStore(cfg, ve)
	validatePlugins(cfg, ve)
	validateIPC(cfg, ve)
	validateContexts(cfg, ve)
	validateScheduler(cfg, ve)
	validateMetrics(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported (noop, stdout)", cfg.Tracer.Exporter)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Driver {
	case "sqlite", "badger":
	default:
		ve.Add("store.driver %q is not sqlite or badger", cfg.Store.Driver)
	}
	if cfg.Store.Path == "" {
		ve.Add("store.path is required")
	}
}

func validatePlugins(cfg *Config, ve *ValidationError) {
	for i, d := range cfg.Plugins.Dirs {
		if d == "" {
			ve.Add("plugins.dirs[%d] is empty", i)
		}
	}
	if cfg.Plugins.RegistryURL != "" && cfg.Plugins.DownloadDir == "" {
		ve.Add("plugins.download_dir is required when registry_url is set")
	}
	if cfg.Plugins.WatchDebounce < 0 {
		ve.Add("plugins.watch_debounce must not be negative")
	}
	deny := make(map[string]bool, len(cfg.Plugins.DenyPermissions))
	for _, p := range cfg.Plugins.DenyPermissions {
		deny[p] = true
	}
	for _, p := range cfg.Plugins.AllowPermissions {
		if deny[p] {
			ve.Add("plugins permission %q is both allowed and denied", p)
		}
	}
}

func validateIPC(cfg *Config, ve *ValidationError) {
	if cfg.IPC.RatePerSecond < 0 {
		ve.Add("ipc.rate_per_second must be >= 0")
	}
	if cfg.IPC.RatePerSecond > 0 && cfg.IPC.Burst < 1 {
		ve.Add("ipc.burst must be >= 1 when pacing is enabled")
	}
	if cfg.IPC.ProbeTimeout <= 0 {
		ve.Add("ipc.probe_timeout must be > 0")
	}
	if cfg.IPC.BreakerMaxFailures == 0 {
		ve.Add("ipc.breaker_max_failures must be > 0")
	}
	if cfg.IPC.BreakerTimeout <= 0 {
		ve.Add("ipc.breaker_timeout must be > 0")
	}
}

func validateContexts(cfg *Config, ve *ValidationError) {
	if tz := cfg.Contexts.TimeZone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			ve.Add("contexts.time_zone %q: %v", tz, err)
		}
	}
	loc := cfg.Contexts.Location
	if loc.BestAccuracy < 0 || loc.RejectAccuracy < 0 {
		ve.Add("contexts.location accuracies must not be negative")
	}
	if loc.RejectAccuracy > 0 && loc.BestAccuracy > loc.RejectAccuracy {
		ve.Add("contexts.location.best_accuracy must not exceed reject_accuracy")
	}
	if loc.MaxEstimate <= 0 {
		ve.Add("contexts.location.max_estimate must be > 0")
	}
	if loc.BestAge < 0 || loc.RejectAge < 0 {
		ve.Add("contexts.location ages must not be negative")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for name, s := range map[string]string{
		"context_refresh": cfg.Scheduler.ContextRefresh,
		"conflict_scan":   cfg.Scheduler.ConflictScan,
		"audit_retention": cfg.Scheduler.AuditRetention,
	} {
		if s == "" {
			continue
		}
		if !validSchedule(s) {
			ve.Add("scheduler.%s %q is not a cron expression or duration", name, s)
		}
	}
}

func validSchedule(s string) bool {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s); err == nil {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d > 0
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if cfg.Metrics.Addr == "" {
		ve.Add("metrics.addr is required when metrics are enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is not a valid host:port", cfg.Metrics.Addr)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must not be negative")
	}
	if _, err := cfg.Audit.MaxSizeBytes(); err != nil {
		ve.Add("audit.max_size %q is not a size such as 10MB", cfg.Audit.MaxSize)
	}
}
