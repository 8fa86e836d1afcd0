package scheduling

import (
	"context"
	"log/slog"

	"pmp/internal/model"
)

// ContextRefresher is the part of the engine the refresh job drives.
type ContextRefresher interface {
	RefreshContexts(ctx context.Context) error
}

// ConflictScanner is the part of the conflict model the scan job drives.
type ConflictScanner interface {
	IsUpToDate() bool
	Calculate(cb model.ProgressCallback)
	Pairs() []model.ConflictPair
}

// RetentionEnforcer prunes a log according to its retention policy.
type RetentionEnforcer interface {
	EnforceRetention(ctx context.Context) (int, error)
}

// RefreshContexts samples contexts and rolls out annotated presets.
func RefreshContexts(r ContextRefresher) func(ctx context.Context) error {
	return r.RefreshContexts
}

// ScanConflicts recalculates conflicts when a preset changed and reports
// the pair count to gauge (which may be nil).
func ScanConflicts(c ConflictScanner, gauge func(int), logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.IsUpToDate() {
			return nil
		}
		c.Calculate(nil)
		pairs := c.Pairs()
		if gauge != nil {
			gauge(len(pairs))
		}
		for _, p := range pairs {
			logger.Info("preset conflict",
				"preset_a", p.A.Key().String(), "preset_b", p.B.Key().String())
		}
		return nil
	}
}

// RegisterEngineJobs registers both engine actions and schedules them.
// An empty schedule leaves that action registered but unscheduled.
func RegisterEngineJobs(s *Scheduler, r ContextRefresher, c ConflictScanner, gauge func(int), refresh, scan string) error {
	s.RegisterAction(ActionContextRefresh, RefreshContexts(r))
	s.RegisterAction(ActionConflictScan, ScanConflicts(c, gauge, s.logger))

	if refresh != "" {
		if err := s.AddTask(ScheduledTask{Name: "context-refresh", Schedule: refresh, Action: ActionContextRefresh}); err != nil {
			return err
		}
	}
	if scan != "" {
		if err := s.AddTask(ScheduledTask{Name: "conflict-scan", Schedule: scan, Action: ActionConflictScan}); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAuditRetention registers pruning of the audit trail and schedules
// it unless schedule is empty.
func RegisterAuditRetention(s *Scheduler, e RetentionEnforcer, schedule string) error {
	s.RegisterAction(ActionAuditRetention, func(ctx context.Context) error {
		removed, err := e.EnforceRetention(ctx)
		if removed > 0 {
			s.logger.Info("audit trail pruned", "removed", removed)
		}
		return err
	})
	if schedule == "" {
		return nil
	}
	return s.AddTask(ScheduledTask{Name: "audit-retention", Schedule: schedule, Action: ActionAuditRetention})
}
