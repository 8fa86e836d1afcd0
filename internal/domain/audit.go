package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AuditEntry is one line of the audit trail: an engine event as it was
// published, kept for later inspection.
type AuditEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     EventType       `json:"event"`
	Subject   string          `json:"subject,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// AuditLog appends entries to a persistent trail.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
	Close() error
}
