package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionContextRefresh ScheduledAction = "context_refresh"
	ActionConflictScan   ScheduledAction = "conflict_scan"
	ActionAuditRetention ScheduledAction = "audit_retention"
)

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Action   ScheduledAction
	OneShot  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTaskTimeout bounds a single run. Default 5m.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.taskTimeout = d }
}

// WithRunObserver is called after every run with the task name and result.
func WithRunObserver(fn func(task string, err error)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
// A run of one task never overlaps a run of another: jobs share the engine.
type Scheduler struct {
	cron        *cron.Cron
	actions     map[ScheduledAction]func(ctx context.Context) error
	logger      *slog.Logger
	taskTimeout time.Duration
	observe     func(task string, err error)

	mu      sync.Mutex
	runMu   sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:        cron.New(),
		actions:     make(map[ScheduledAction]func(ctx context.Context) error),
		logger:      logger.With("component", "scheduler"),
		taskTimeout: 5 * time.Minute,
		observe:     func(string, error) {},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(task.Name, fn)
		if task.OneShot {
			s.cron.Remove(entryID)
		}
	}))

	s.logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// RunNow runs action once on the caller's goroutine, serialized with the
// scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, action ScheduledAction) error {
	s.mu.Lock()
	fn, ok := s.actions[action]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q", action)
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return fn(ctx)
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	err := fn(taskCtx)
	if err != nil {
		s.logger.Warn("scheduled task failed", "task", name, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Debug("scheduled task completed", "task", name, "duration", time.Since(start))
	}
	s.observe(name, err)
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// jobs take s.mu; wait outside it
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()
	return nil
}

// ParseSchedule parses a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second durations.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
