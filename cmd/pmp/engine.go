package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	badgerstore "pmp/internal/adapter/store/badger"
	"pmp/internal/audit"
	"pmp/internal/adapter/store/sqlite"
	"pmp/internal/contexts"
	"pmp/internal/contexts/locationctx"
	"pmp/internal/contexts/timectx"
	"pmp/internal/descriptor"
	"pmp/internal/domain"
	"pmp/internal/infra/config"
	"pmp/internal/infra/metrics"
	"pmp/internal/infra/tracer"
	"pmp/internal/ipc"
	"pmp/internal/model"
	"pmp/internal/plugin"
	"pmp/internal/usecase/eventbus"
)

// engine is one fully wired Model with everything it depends on.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    domain.Store
	bus      *eventbus.Bus
	queue    *ipc.Queue
	prober   *ipc.Prober
	provider *plugin.Provider
	registry *plugin.Registry
	apps     descriptor.DirSource
	contexts *contexts.Registry
	metrics  *metrics.Collectors
	audit    *audit.Trail // nil when disabled
	model    *model.Model

	shutdownTracer func(context.Context) error
}

// openEngine wires the engine from cfg and loads the stored graph.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		shutdownTracer(ctx)
		return nil, err
	}

	e := &engine{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		bus:            eventbus.New(logger),
		metrics:        metrics.New(),
		apps:           descriptor.DirSource{Dirs: cfg.Apps.Dirs},
		shutdownTracer: shutdownTracer,
	}

	if cfg.Audit.Path != "" {
		if e.audit, err = openAudit(cfg.Audit); err != nil {
			e.Close(ctx)
			return nil, err
		}
		e.bus.SubscribeAll(e.audit.Handler(logger.With("component", "audit")))
	}

	e.bus.Subscribe(domain.EventServiceFeaturesUpdated, func(_ context.Context, ev domain.Event) {
		logger.Info("service features updated", "app", ev.Subject, "payload", string(ev.Payload))
	})
	e.queue = ipc.NewQueue(e.bus, logger.With("component", "ipc"),
		ipc.WithRate(cfg.IPC.RatePerSecond, cfg.IPC.Burst),
		ipc.WithObserver(e.metrics.Delivery),
	)
	e.prober = ipc.NewProber(&http.Client{}, ipc.ProberConfig{
		Timeout:     cfg.IPC.ProbeTimeout,
		MaxFailures: cfg.IPC.BreakerMaxFailures,
		OpenTimeout: cfg.IPC.BreakerTimeout,
	}, logger.With("component", "prober"))

	var installer *plugin.Installer
	if cfg.Plugins.RegistryURL != "" {
		e.registry = plugin.NewRegistry(cfg.Plugins.RegistryURL, filepath.Join(cfg.Plugins.DownloadDir, ".cache"), logger)
		installer = plugin.NewInstaller(cfg.Plugins.DownloadDir, e.registry, logger)
	}
	e.provider = plugin.NewProvider(plugin.ProviderConfig{
		Dirs:             cfg.Plugins.Dirs,
		AllowPermissions: cfg.Plugins.AllowPermissions,
		DenyPermissions:  cfg.Plugins.DenyPermissions,
	}, installer, e.bus, logger.With("component", "plugin"))
	if err := e.provider.Rescan(); err != nil {
		logger.Warn("initial bundle scan failed", "error", err)
	}

	e.contexts, err = buildContexts(cfg.Contexts, logger)
	if err != nil {
		e.Close(ctx)
		return nil, err
	}

	e.model = model.New(model.Deps{
		Store:    e.store,
		Plugins:  e.provider,
		Apps:     e.apps,
		Prober:   e.prober,
		Notifier: e.queue,
		Contexts: e.contexts,
		Bus:      e.bus,
		Recorder: e.metrics,
		Logger:   logger,
	})
	if err := e.model.Open(ctx); err != nil {
		e.Close(ctx)
		return nil, err
	}
	return e, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (domain.Store, error) {
	switch cfg.Driver {
	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{Path: cfg.Path, Logger: logger.With("component", "badger")})
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return s, nil
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func openAudit(cfg config.AuditConfig) (*audit.Trail, error) {
	maxSize, err := cfg.MaxSizeBytes()
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return audit.Open(cfg.Path, audit.RetentionPolicy{MaxAge: cfg.MaxAge, MaxSize: maxSize})
}

func buildContexts(cfg config.ContextsConfig, logger *slog.Logger) (*contexts.Registry, error) {
	loc := time.Local
	if cfg.TimeZone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.TimeZone); err != nil {
			return nil, fmt.Errorf("contexts: %w", err)
		}
	}

	settings := locationctx.DefaultSettings()
	l := cfg.Location
	settings.BestAccuracy = l.BestAccuracy
	settings.BestAge = l.BestAge
	settings.MaxEstimate = l.MaxEstimate
	settings.RejectAccuracy = l.RejectAccuracy
	settings.RejectAge = l.RejectAge
	settings.Emulator = l.Emulator

	var source locationctx.Source = locationctx.StaticSource{}
	if l.FixesFile != "" {
		source = locationctx.FileSource{Path: l.FixesFile, Interval: l.PollInterval}
	}

	return contexts.NewRegistry(logger,
		timectx.New(timectx.WithLocation(loc)),
		locationctx.New(source, logger.With("component", "location"), locationctx.WithSettings(settings)),
	), nil
}

// Close waits for queued notifications to be delivered, then releases
// everything. Safe on a partially built engine.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	if e.queue != nil {
		e.queue.Wait()
		e.queue.Close()
	}
	if e.bus != nil {
		e.bus.Close()
	}
	if e.audit != nil {
		errs = append(errs, e.audit.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.shutdownTracer != nil {
		errs = append(errs, e.shutdownTracer(ctx))
	}
	return errors.Join(errs...)
}
