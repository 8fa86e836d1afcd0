package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pmp/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionContextRefresh, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "refresh", Schedule: "50ms", Action: ActionContextRefresh,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{
		Name: "unknown", Schedule: "100ms", Action: "does_not_exist",
	})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionConflictScan, func(context.Context) error { return nil })

	if err := s.AddTask(ScheduledTask{Name: "scan", Schedule: "whenever", Action: ActionConflictScan}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	var cancelled atomic.Bool

	s := NewScheduler(newTestLogger(), WithTaskTimeout(time.Second))
	s.RegisterAction(ActionContextRefresh, func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	if err := s.AddTask(ScheduledTask{Name: "block", Schedule: "20ms", Action: ActionContextRefresh, OneShot: true}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Stop()

	if !cancelled.Load() {
		t.Error("running task should observe cancellation")
	}
}

func TestSchedulerRunsDoNotOverlap(t *testing.T) {
	var running, maxRunning atomic.Int32
	work := func(context.Context) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionContextRefresh, work)
	s.RegisterAction(ActionConflictScan, work)
	s.AddTask(ScheduledTask{Name: "a", Schedule: "10ms", Action: ActionContextRefresh})
	s.AddTask(ScheduledTask{Name: "b", Schedule: "10ms", Action: ActionConflictScan})

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if m := maxRunning.Load(); m != 1 {
		t.Errorf("max concurrent runs = %d, want 1", m)
	}
}

func TestSchedulerRunObserver(t *testing.T) {
	var mu sync.Mutex
	results := map[string]error{}
	boom := errors.New("boom")

	s := NewScheduler(newTestLogger(), WithRunObserver(func(task string, err error) {
		mu.Lock()
		results[task] = err
		mu.Unlock()
	}))
	s.RegisterAction(ActionConflictScan, func(context.Context) error { return boom })
	s.AddTask(ScheduledTask{Name: "scan", Schedule: "20ms", Action: ActionConflictScan, OneShot: true})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if err, ok := results["scan"]; !ok || !errors.Is(err, boom) {
		t.Errorf("observer got %v (seen %v), want boom", err, ok)
	}
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionConflictScan, func(context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{Name: "once", Schedule: "20ms", Action: ActionConflictScan, OneShot: true})

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, want 1", c)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler(newTestLogger())
	var ran bool
	s.RegisterAction(ActionContextRefresh, func(context.Context) error {
		ran = true
		return nil
	})

	if err := s.RunNow(context.Background(), ActionContextRefresh); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !ran {
		t.Error("action did not run")
	}
	if err := s.RunNow(context.Background(), ActionConflictScan); err == nil {
		t.Error("expected error for unregistered action")
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"@every 15m", false},
		{"@hourly", false},
		{"1m", false},
		{"10ms", false},
		{"", true},
		{"not valid", true},
		{"-5m", true},
		{"0s", true},
	}
	for _, tt := range tests {
		_, err := ParseSchedule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestConstantDelay(t *testing.T) {
	sched, err := ParseSchedule("250ms")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := sched.Next(now); !got.Equal(now.Add(250 * time.Millisecond)) {
		t.Errorf("Next = %v, want +250ms", got)
	}
}

func TestScanConflictsSkipsWhenUpToDate(t *testing.T) {
	c := &fakeScanner{upToDate: true}
	var gauged []int
	job := ScanConflicts(c, func(n int) { gauged = append(gauged, n) }, newTestLogger())

	if err := job(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.calculated != 0 || len(gauged) != 0 {
		t.Errorf("calculated %d times, gauged %v; want no work", c.calculated, gauged)
	}

	c.upToDate = false
	if err := job(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.calculated != 1 || len(gauged) != 1 || gauged[0] != 0 {
		t.Errorf("calculated %d times, gauged %v", c.calculated, gauged)
	}
}

func TestScanConflictsHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeScanner{}
	if err := ScanConflicts(c, nil, newTestLogger())(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if c.calculated != 0 {
		t.Error("cancelled scan should not calculate")
	}
}

func TestRegisterEngineJobs(t *testing.T) {
	r := &fakeRefresher{}
	s := NewScheduler(newTestLogger())
	if err := RegisterEngineJobs(s, r, &fakeScanner{upToDate: true}, nil, "", "@every 1h"); err != nil {
		t.Fatalf("RegisterEngineJobs: %v", err)
	}
	if err := s.RunNow(context.Background(), ActionContextRefresh); err != nil {
		t.Fatal(err)
	}
	if r.calls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", r.calls.Load())
	}
	if err := RegisterEngineJobs(NewScheduler(newTestLogger()), r, &fakeScanner{}, nil, "soon", ""); err == nil {
		t.Error("expected error for invalid refresh schedule")
	}
}

func TestRegisterAuditRetention(t *testing.T) {
	e := &fakeEnforcer{removed: 3}
	s := NewScheduler(newTestLogger())
	if err := RegisterAuditRetention(s, e, ""); err != nil {
		t.Fatalf("RegisterAuditRetention: %v", err)
	}
	if err := s.RunNow(context.Background(), ActionAuditRetention); err != nil {
		t.Fatal(err)
	}
	if e.calls.Load() != 1 {
		t.Errorf("enforce calls = %d, want 1", e.calls.Load())
	}
	if err := RegisterAuditRetention(NewScheduler(newTestLogger()), e, "whenever"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

// --- Test doubles ---

type fakeRefresher struct{ calls atomic.Int32 }

func (f *fakeRefresher) RefreshContexts(context.Context) error {
	f.calls.Add(1)
	return nil
}

type fakeScanner struct {
	upToDate   bool
	calculated int
}

func (f *fakeScanner) IsUpToDate() bool { return f.upToDate }

func (f *fakeScanner) Calculate(model.ProgressCallback) {
	f.calculated++
	f.upToDate = true
}

func (f *fakeScanner) Pairs() []model.ConflictPair { return nil }

type fakeEnforcer struct {
	calls   atomic.Int32
	removed int
}

func (f *fakeEnforcer) EnforceRetention(context.Context) (int, error) {
	f.calls.Add(1)
	return f.removed, nil
}
