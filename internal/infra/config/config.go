package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of the privacy management daemon.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Store     StoreConfig     `yaml:"store"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Apps      AppsConfig      `yaml:"apps"`
	IPC       IPCConfig       `yaml:"ipc"`
	Contexts  ContextsConfig  `yaml:"contexts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Audit     AuditConfig     `yaml:"audit"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout", or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "noop" or "stdout"
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "badger"
	Path   string `yaml:"path"`
}

// PluginsConfig holds resource-group bundle settings.
type PluginsConfig struct {
	Dirs             []string      `yaml:"dirs"`
	RegistryURL      string        `yaml:"registry_url"`
	DownloadDir      string        `yaml:"download_dir"`
	Watch            bool          `yaml:"watch"`
	WatchDebounce    time.Duration `yaml:"watch_debounce"`
	AllowPermissions []string      `yaml:"allow_permissions"`
	DenyPermissions  []string      `yaml:"deny_permissions"`
}

// AppsConfig lists where app descriptors are found.
type AppsConfig struct {
	Dirs []string `yaml:"dirs"`
}

// IPCConfig paces notifications and guards service probes.
type IPCConfig struct {
	RatePerSecond      float64       `yaml:"rate_per_second"` // 0 disables pacing
	Burst              int           `yaml:"burst"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// ContextsConfig configures the built-in contexts.
type ContextsConfig struct {
	TimeZone string         `yaml:"time_zone"` // empty means local
	Location LocationConfig `yaml:"location"`
}

// LocationConfig is the fix acceptance policy of the location context.
type LocationConfig struct {
	FixesFile      string        `yaml:"fixes_file"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BestAccuracy   float64       `yaml:"best_accuracy"`
	BestAge        time.Duration `yaml:"best_age"`
	MaxEstimate    time.Duration `yaml:"max_estimate"`
	RejectAccuracy float64       `yaml:"reject_accuracy"`
	RejectAge      time.Duration `yaml:"reject_age"`
	Emulator       bool          `yaml:"emulator"`
}

// SchedulerConfig holds the periodic job schedules. A schedule is a cron
// expression or a duration.
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ContextRefresh string `yaml:"context_refresh"`
	ConflictScan   string `yaml:"conflict_scan"`
	AuditRetention string `yaml:"audit_retention"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AuditConfig enables the JSONL audit trail of engine events. An empty
// path disables it.
type AuditConfig struct {
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"`  // 0 keeps entries forever
	MaxSize string        `yaml:"max_size"` // e.g. "10MB"; empty means no limit
}

// MaxSizeBytes parses MaxSize: "100MB", "1GB", "512KB" or plain bytes.
// Empty is 0, meaning no limit.
func (a AuditConfig) MaxSizeBytes() (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(a.MaxSize))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		scale  int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.scale
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("parse size %q: invalid number", a.MaxSize)
	}
	return n * multiplier, nil
}

// defaultDataDir returns the persistent data directory under $HOME/.pmp.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".pmp")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "pmp.db"),
		},
		Plugins: PluginsConfig{
			Dirs:          []string{"./resourcegroups"},
			DownloadDir:   filepath.Join(dataDir, "resourcegroups"),
			WatchDebounce: 500 * time.Millisecond,
		},
		Apps: AppsConfig{
			Dirs: []string{"./apps"},
		},
		IPC: IPCConfig{
			RatePerSecond:      20,
			Burst:              5,
			ProbeTimeout:       5 * time.Second,
			BreakerMaxFailures: 3,
			BreakerTimeout:     time.Minute,
		},
		Contexts: ContextsConfig{
			Location: LocationConfig{
				PollInterval:   time.Second,
				BestAccuracy:   25,
				BestAge:        time.Minute,
				MaxEstimate:    25 * time.Second,
				RejectAccuracy: 1000,
				RejectAge:      5 * time.Minute,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:        false,
			ContextRefresh: "1m",
			ConflictScan:   "@every 15m",
			AuditRetention: "@hourly",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// Load reads a YAML config file, applies includes and env var overrides,
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps PMP_* env vars to config fields. Unparsable
// numbers and durations are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PMP_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PMP_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("PMP_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("PMP_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PMP_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("PMP_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PMP_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PMP_PLUGINS_DIRS"); v != "" {
		cfg.Plugins.Dirs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("PMP_PLUGINS_REGISTRY_URL"); v != "" {
		cfg.Plugins.RegistryURL = v
	}
	if v := os.Getenv("PMP_PLUGINS_DOWNLOAD_DIR"); v != "" {
		cfg.Plugins.DownloadDir = v
	}
	if v := os.Getenv("PMP_PLUGINS_WATCH"); v == "true" {
		cfg.Plugins.Watch = true
	}
	if v := os.Getenv("PMP_APPS_DIRS"); v != "" {
		cfg.Apps.Dirs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("PMP_IPC_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.IPC.RatePerSecond = f
		}
	}
	if v := os.Getenv("PMP_IPC_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IPC.ProbeTimeout = d
		}
	}
	if v := os.Getenv("PMP_CONTEXTS_TIME_ZONE"); v != "" {
		cfg.Contexts.TimeZone = v
	}
	if v := os.Getenv("PMP_CONTEXTS_LOCATION_FIXES_FILE"); v != "" {
		cfg.Contexts.Location.FixesFile = v
	}
	if v := os.Getenv("PMP_CONTEXTS_LOCATION_EMULATOR"); v == "true" {
		cfg.Contexts.Location.Emulator = true
	}
	if v := os.Getenv("PMP_SCHEDULER_ENABLED"); v == "true" {
		cfg.Scheduler.Enabled = true
	}
	if v := os.Getenv("PMP_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("PMP_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("PMP_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("PMP_AUDIT_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Audit.MaxAge = d
		}
	}
	if v := os.Getenv("PMP_AUDIT_MAX_SIZE"); v != "" {
		cfg.Audit.MaxSize = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
