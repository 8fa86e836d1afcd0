// Package audit keeps a JSONL trail of engine events: registrations,
// installs, preset changes and the service feature updates sent to apps.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pmp/internal/domain"
	"pmp/internal/infra/tracer"
)

const maxLine = 1024 * 1024

// RetentionPolicy controls how long entries are kept.
type RetentionPolicy struct {
	MaxAge  time.Duration // 0 = no limit
	MaxSize int64         // bytes; 0 = no limit
}

// Trail implements domain.AuditLog by appending JSON lines to a file.
type Trail struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	retention RetentionPolicy
}

// Open appends to path, creating it with 0600 permissions.
func Open(path string, retention RetentionPolicy) (*Trail, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	return &Trail{file: f, path: path, retention: retention}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// Path returns the file the trail writes to.
func (t *Trail) Path() string { return t.path }

// Record writes entry as a single line. A recording span gets a matching
// span event.
func (t *Trail) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return domain.NewDomainError("Trail.Record", domain.ErrAuditWrite, err.Error())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("Trail.Record", domain.ErrAuditWrite, err.Error())
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("audit."+string(entry.Event), trace.WithAttributes(
			tracer.StringAttr("audit.subject", entry.Subject),
		))
	}
	return nil
}

// Handler returns an event bus handler recording every event it receives.
// Write failures are logged; the bus has nowhere to return them.
func (t *Trail) Handler(logger *slog.Logger) domain.EventHandler {
	return func(ctx context.Context, ev domain.Event) {
		err := t.Record(ctx, domain.AuditEntry{
			Timestamp: ev.Timestamp,
			Event:     ev.Type,
			Subject:   ev.Subject,
			Detail:    ev.Payload,
		})
		if err != nil {
			logger.Error("audit record failed", "event", string(ev.Type), "subject", ev.Subject, "error", err)
		}
	}
}

func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// EnforceRetention rewrites the trail keeping only entries the policy allows:
// first entries older than MaxAge go, then the oldest until the file fits
// MaxSize. Reports how many entries were dropped.
func (t *Trail) EnforceRetention(_ context.Context) (removed int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy := t.retention
	if policy.MaxAge == 0 && policy.MaxSize == 0 {
		return 0, nil
	}
	if policy.MaxAge == 0 {
		info, err := os.Stat(t.path)
		if err != nil {
			return 0, fmt.Errorf("stat audit trail: %w", err)
		}
		if info.Size() <= policy.MaxSize {
			return 0, nil
		}
	}

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = time.Now().Add(-policy.MaxAge)
	}

	if err := t.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	// whatever happens below, keep appending to path
	defer func() {
		f, openErr := openAppend(t.path)
		if openErr != nil && err == nil {
			err = fmt.Errorf("reopen after retention: %w", openErr)
		}
		t.file = f
	}()

	lines, err := readLines(t.path)
	if err != nil {
		return 0, err
	}

	var kept [][]byte
	var keptSize int64
	for _, line := range lines {
		if !cutoff.IsZero() {
			var e domain.AuditEntry
			if json.Unmarshal(line, &e) == nil && !e.Timestamp.IsZero() && e.Timestamp.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, line)
		keptSize += int64(len(line)) + 1
	}
	for policy.MaxSize > 0 && keptSize > policy.MaxSize && len(kept) > 0 {
		keptSize -= int64(len(kept[0])) + 1
		kept = kept[1:]
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := t.path + ".tmp"
	if err := writeLines(tmp, kept); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("replace audit trail: %w", err)
	}
	return removed, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit trail: %w", err)
	}
	return lines, nil
}

func writeLines(path string, lines [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create audit trail: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write audit trail: %w", err)
	}
	return f.Close()
}

// Tail returns the last n entries of the trail at path, oldest first.
// Lines that do not parse are skipped. n <= 0 returns everything.
func Tail(path string, n int) ([]domain.AuditEntry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditEntry, 0, len(lines))
	for _, line := range lines {
		var e domain.AuditEntry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

var _ domain.AuditLog = (*Trail)(nil)
