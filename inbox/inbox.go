// Package inbox implements idempotent inbound processing: every delivery is
// recorded keyed by event identifier (falling back to the stream sequence
// when the dedup header was absent), row-locked while a handler runs, and
// marked processed so redeliveries of the same logical event are detected
// and skipped.
package inbox

import (
	"context"
	"time"
)

// Status is the lifecycle state of an inbox record.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Delivery carries the per-message metadata an inbox record is built from.
type Delivery struct {
	EventID      string
	EventType    string
	ResourceType string
	ResourceID   string
	Subject      string
	Stream       string
	StreamSeq    uint64
	Deliveries   int
	Body         []byte
	Headers      map[string]string
}

// Record is one inbound event row. A Record returned by FindOrBuild may
// hold a row lock; it must be resolved through exactly one of PersistPost,
// PersistFailure or Release.
type Record struct {
	ID                 int64
	EventID            string
	EventType          string
	ResourceType       string
	ResourceID         string
	Subject            string
	Stream             string
	StreamSeq          uint64
	Deliveries         int
	Payload            []byte
	Headers            map[string]string
	Status             Status
	ProcessingAttempts int
	ReceivedAt         *time.Time
	ProcessedAt        *time.Time
	FailedAt           *time.Time
	ErrorMessage       string

	persisted bool
	lease     lease
}

// Persisted reports whether the record exists in storage.
func (r *Record) Persisted() bool { return r.persisted }

type lease interface {
	commit(ctx context.Context) error
	release(ctx context.Context)
}

// Repository persists inbox records. FindOrBuild must acquire an exclusive
// per-event lock held until the record is resolved, serializing concurrent
// redeliveries of the same logical event.
type Repository interface {
	// FindOrBuild locates the record for the delivery, locking its row, or
	// returns a fresh unsaved record when none exists. Lookup is by
	// event_id when the delivery carries one, else by (stream, stream_seq).
	FindOrBuild(ctx context.Context, d Delivery) (*Record, error)

	// AlreadyProcessed reports whether the event completed processing on a
	// previous delivery.
	AlreadyProcessed(r *Record) bool

	// PersistPre marks the record processing: populates the delivery
	// metadata, increments processing_attempts, clears any previous error
	// and sets received_at once.
	PersistPre(ctx context.Context, r *Record, d Delivery) error

	// PersistPost marks the record processed and releases its lock.
	PersistPost(ctx context.Context, r *Record) error

	// PersistFailure marks the record failed and releases its lock.
	// Secondary persistence errors are swallowed; a bookkeeping failure
	// never masks the processing outcome. No-op when r is nil.
	PersistFailure(ctx context.Context, r *Record, err error)

	// Release drops the record's lock without further writes.
	Release(ctx context.Context, r *Record)
}

// AlreadyProcessed reports whether the record completed processing. Shared
// by both repository implementations.
func AlreadyProcessed(r *Record) bool {
	if r == nil {
		return false
	}
	return r.ProcessedAt != nil || r.Status == StatusProcessed
}
