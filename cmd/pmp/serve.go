package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"pmp/internal/domain"
	"pmp/internal/infra/middleware"
	"pmp/internal/model"
	"pmp/internal/plugin"
	"pmp/internal/usecase/scheduling"
)

const (
	scrapesPerMinute = 120
	scrapeBurst      = 10
)

// runServe keeps presets in effect until ctx is cancelled: the scheduler
// refreshes contexts and scans conflicts, the watcher follows bundle
// directories, and metrics are served over HTTP.
func runServe(ctx context.Context, c *cli, _ []string) error {
	log := c.e.logger.With("component", "serve")
	g, ctx := errgroup.WithContext(ctx)

	unsubscribe := c.e.bus.Subscribe(domain.EventBundlesChanged, func(_ context.Context, ev domain.Event) {
		log.Info("bundle directories changed", "bundles", string(ev.Payload))
	})
	defer unsubscribe()

	if c.cfg.Scheduler.Enabled {
		sched := scheduling.NewScheduler(c.e.logger, scheduling.WithRunObserver(c.e.metrics.ScheduledRun))
		conflicts := model.NewConflictModel(c.e.model)
		if err := scheduling.RegisterEngineJobs(sched, c.e.model, conflicts, c.e.metrics.ConflictPairs,
			c.cfg.Scheduler.ContextRefresh, c.cfg.Scheduler.ConflictScan); err != nil {
			return err
		}
		if c.e.audit != nil {
			if err := scheduling.RegisterAuditRetention(sched, c.e.audit, c.cfg.Scheduler.AuditRetention); err != nil {
				return err
			}
		}
		g.Go(func() error {
			if err := sched.RunNow(ctx, scheduling.ActionContextRefresh); err != nil {
				log.Warn("initial context refresh", "error", err)
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return sched.Stop()
		})
	}

	if c.cfg.Plugins.Watch {
		w, err := plugin.NewWatcher(c.e.provider, c.cfg.Plugins.WatchDebounce, c.e.logger.With("component", "watcher"))
		if err != nil {
			return fmt.Errorf("bundle watcher: %w", err)
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	if c.cfg.Metrics.Enabled {
		srv := &http.Server{
			Handler:           metricsMux(ctx, c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		ln, err := net.Listen("tcp", c.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		log.Info("serving metrics", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("pmp serving",
		"scheduler", c.cfg.Scheduler.Enabled, "watch", c.cfg.Plugins.Watch, "metrics", c.cfg.Metrics.Enabled)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	err := g.Wait()
	log.Info("pmp stopped")
	return err
}

func metricsMux(ctx context.Context, c *cli) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.e.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.ReadOnly,
		middleware.RateLimit(ctx, scrapesPerMinute, scrapeBurst, c.e.logger.With("component", "metrics")),
	)
}
