// Package outbox implements the transactional-outbox side of guaranteed
// delivery: outbound events are persisted with a status lifecycle
// (pending -> publishing -> sent/failed) so a crash between business commit
// and broker publish can be recovered, and concurrent publish attempts for
// the same event are serialized with row locks.
package outbox

import (
	"context"
	"time"
)

// Status is the lifecycle state of an outbox record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPublishing Status = "publishing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusException  Status = "exception"
)

// MsgIDHeader is the broker dedup header persisted with every record.
const MsgIDHeader = "Nats-Msg-Id"

// Record is one outbound event row. A Record returned by FindOrBuild may
// hold a row lock; it must be resolved through exactly one of
// PersistSuccess, PersistFailure, PersistException or Release.
type Record struct {
	ID           int64
	EventID      string
	EventType    string
	ResourceType string
	ResourceID   string
	Subject      string
	Payload      []byte
	Headers      map[string]string
	Status       Status
	Attempts     int
	EnqueuedAt   *time.Time
	SentAt       *time.Time
	LastError    string

	persisted bool
	lease     lease
}

// Persisted reports whether the record exists in storage.
func (r *Record) Persisted() bool { return r.persisted }

// lease is the lock a repository holds on behalf of a loaded record. The
// Postgres implementation backs it with a transaction, the in-memory one
// with a per-event mutex.
type lease interface {
	commit(ctx context.Context) error
	release(ctx context.Context)
}

// Repository persists outbox records. Implementations must make
// FindOrBuild acquire an exclusive per-event lock that is held until the
// record is resolved.
type Repository interface {
	// FindOrBuild locates the record for eventID, locking its row, or
	// returns a fresh unsaved record when none exists.
	FindOrBuild(ctx context.Context, eventID string) (*Record, error)

	// AlreadySent reports whether the event was previously published.
	AlreadySent(r *Record) bool

	// PersistPre marks the record publishing: sets subject, payload and
	// dedup headers, increments attempts, and sets enqueued_at once. The
	// write stays inside the record's lock scope; it becomes durable when
	// the record is resolved.
	PersistPre(ctx context.Context, r *Record, subject string, payload []byte) error

	// PersistSuccess marks the record sent and releases its lock.
	PersistSuccess(ctx context.Context, r *Record) error

	// PersistFailure marks the record failed with the given message and
	// releases its lock.
	PersistFailure(ctx context.Context, r *Record, msg string) error

	// PersistException records an unexpected error as a failure. Secondary
	// persistence errors are swallowed so bookkeeping can never mask the
	// original publish outcome. No-op when r is nil.
	PersistException(ctx context.Context, r *Record, err error)

	// Release drops the record's lock without further writes. Safe to call
	// on an already-resolved record.
	Release(ctx context.Context, r *Record)
}

// AlreadySent reports whether the record reached the sent state. Shared by
// both repository implementations.
func AlreadySent(r *Record) bool {
	if r == nil {
		return false
	}
	return r.SentAt != nil || r.Status == StatusSent
}
