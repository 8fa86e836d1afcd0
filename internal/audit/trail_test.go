package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pmp/internal/domain"
	"pmp/internal/infra/logger"
	"pmp/internal/usecase/eventbus"
)

func openTrail(t *testing.T, policy RetentionPolicy) *Trail {
	t.Helper()
	tr, err := Open(filepath.Join(t.TempDir(), "audit.jsonl"), policy)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func TestTrailRecordAndTail(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{})
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{Event: domain.EventAppRegistered, Subject: "com.example.tracker"},
		{Event: domain.EventResourceGroupInstalled, Subject: "org.pmp.location", Detail: json.RawMessage(`{"revision":2}`)},
		{Event: domain.EventPresetAdded, Subject: "./Work"},
	}
	for _, e := range entries {
		if err := tr.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := Tail(tr.Path(), 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Subject != "org.pmp.location" || got[1].Subject != "./Work" {
		t.Errorf("Tail = %+v", got)
	}
	if string(got[0].Detail) != `{"revision":2}` {
		t.Errorf("Detail = %s", got[0].Detail)
	}
	if got[1].Timestamp.IsZero() {
		t.Error("missing timestamp should be filled in")
	}

	all, err := Tail(tr.Path(), 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Tail(0) = %d entries, want 3", len(all))
	}
}

func TestTrailFilePermissions(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{})
	defer tr.Close()

	info, err := os.Stat(tr.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing", "audit.jsonl"), RetentionPolicy{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestTrailRecordAfterClose(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{})
	tr.Close()

	err := tr.Record(context.Background(), domain.AuditEntry{Event: domain.EventPresetRemoved})
	if err == nil {
		t.Fatal("expected error writing to a closed trail")
	}
	if domain.ErrorCodeOf(err) != domain.CodeAuditWrite {
		t.Errorf("code = %s, want %s", domain.ErrorCodeOf(err), domain.CodeAuditWrite)
	}
}

func TestTrailConcurrentRecords(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(context.Background(), domain.AuditEntry{Event: domain.EventServiceFeaturesUpdated, Subject: "app"})
		}()
	}
	wg.Wait()
	tr.Close()

	got, err := Tail(tr.Path(), 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("got %d entries, want 50", len(got))
	}
}

func TestTrailAddsSpanEvent(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	tr := openTrail(t, RetentionPolicy{})
	defer tr.Close()

	ctx, span := otel.Tracer("test").Start(context.Background(), "register")
	if err := tr.Record(ctx, domain.AuditEntry{Event: domain.EventAppRegistered, Subject: "com.example.tracker"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("got %d spans, want 1", len(ended))
	}
	events := ended[0].Events()
	if len(events) != 1 || events[0].Name != "audit.app.registered" {
		t.Errorf("span events = %+v", events)
	}
}

func TestTrailHandlerRecordsBusEvents(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{})
	bus := eventbus.New(logger.Discard())
	bus.SubscribeAll(tr.Handler(logger.Discard()))

	if err := bus.Emit(context.Background(), domain.EventResourceGroupInstalled, "org.pmp.location", map[string]int{"revision": 2}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	bus.Close()
	tr.Close()

	got, err := Tail(tr.Path(), 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Event != domain.EventResourceGroupInstalled || got[0].Subject != "org.pmp.location" {
		t.Errorf("entry = %+v", got[0])
	}
	if string(got[0].Detail) != `{"revision":2}` {
		t.Errorf("Detail = %s", got[0].Detail)
	}
}

func TestEnforceRetentionMaxAge(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{MaxAge: time.Hour})
	ctx := context.Background()
	tr.Record(ctx, domain.AuditEntry{Timestamp: time.Now().Add(-2 * time.Hour), Subject: "old"})
	tr.Record(ctx, domain.AuditEntry{Timestamp: time.Now(), Subject: "new"})

	removed, err := tr.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// the trail keeps accepting records afterwards
	if err := tr.Record(ctx, domain.AuditEntry{Subject: "later"}); err != nil {
		t.Fatalf("Record after retention: %v", err)
	}
	tr.Close()

	got, err := Tail(tr.Path(), 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 || got[0].Subject != "new" || got[1].Subject != "later" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestEnforceRetentionMaxSize(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{MaxSize: 300})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		tr.Record(ctx, domain.AuditEntry{Event: domain.EventPresetAdded, Subject: "./preset"})
	}

	removed, err := tr.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed == 0 {
		t.Fatal("expected entries to be removed")
	}
	tr.Close()

	info, err := os.Stat(tr.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 300 {
		t.Errorf("size = %d, want <= 300", info.Size())
	}
}

func TestEnforceRetentionNoPolicy(t *testing.T) {
	tr := openTrail(t, RetentionPolicy{})
	defer tr.Close()
	tr.Record(context.Background(), domain.AuditEntry{Subject: "kept"})

	removed, err := tr.EnforceRetention(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("EnforceRetention = %d, %v; want 0, nil", removed, err)
	}
}
