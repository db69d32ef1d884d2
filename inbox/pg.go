package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/natsclient"
)

// PGRepository stores inbox records in Postgres. Each FindOrBuild opens a
// transaction and takes a SELECT ... FOR UPDATE lock on the event row; the
// transaction commits when the record is resolved, so the lock spans the
// whole processing attempt.
type PGRepository struct {
	pool   *pgxpool.Pool
	logger natsclient.Logger
}

// PGOption configures a PGRepository
type PGOption func(*PGRepository)

// WithLogger sets a custom logger
func WithLogger(logger natsclient.Logger) PGOption {
	return func(r *PGRepository) {
		r.logger = logger
	}
}

// NewPGRepository creates a Postgres-backed inbox repository.
func NewPGRepository(pool *pgxpool.Pool, opts ...PGOption) (*PGRepository, error) {
	if pool == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: connection pool is required", errors.ErrMissingConfig),
			"PGRepository", "NewPGRepository", "check dependencies")
	}
	r := &PGRepository{pool: pool, logger: natsclient.DefaultLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type pgLease struct {
	tx pgx.Tx
}

func (l *pgLease) commit(ctx context.Context) error { return l.tx.Commit(ctx) }
func (l *pgLease) release(ctx context.Context)      { _ = l.tx.Rollback(ctx) }

const recordColumns = `
	id, COALESCE(event_id, ''), event_type, resource_type, resource_id,
	subject, stream, stream_seq, deliveries, payload, headers, status,
	processing_attempts, received_at, processed_at, failed_at,
	COALESCE(error_message, '')`

func (r *PGRepository) FindOrBuild(ctx context.Context, d Delivery) (*Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "PGRepository", "FindOrBuild", "begin transaction")
	}

	rec := &Record{
		EventID:   d.EventID,
		Stream:    d.Stream,
		StreamSeq: d.StreamSeq,
		Status:    StatusReceived,
		lease:     &pgLease{tx: tx},
	}

	var row pgx.Row
	if d.EventID != "" {
		row = tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM inbox_events WHERE event_id = $1 FOR UPDATE`,
			d.EventID)
	} else {
		row = tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM inbox_events WHERE stream = $1 AND stream_seq = $2 FOR UPDATE`,
			d.Stream, d.StreamSeq)
	}

	var headers []byte
	err = row.Scan(
		&rec.ID, &rec.EventID, &rec.EventType, &rec.ResourceType,
		&rec.ResourceID, &rec.Subject, &rec.Stream, &rec.StreamSeq,
		&rec.Deliveries, &rec.Payload, &headers, &rec.Status,
		&rec.ProcessingAttempts, &rec.ReceivedAt, &rec.ProcessedAt,
		&rec.FailedAt, &rec.ErrorMessage)
	switch {
	case err == pgx.ErrNoRows:
		return rec, nil
	case err != nil:
		_ = tx.Rollback(ctx)
		return nil, errors.WrapTransient(err, "PGRepository", "FindOrBuild", "lock inbox row")
	}

	rec.persisted = true
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			r.logger.Errorf("Inbox %s has unreadable headers: %v", rec.EventID, err)
		}
	}
	return rec, nil
}

func (r *PGRepository) AlreadyProcessed(rec *Record) bool { return AlreadyProcessed(rec) }

func (r *PGRepository) PersistPre(ctx context.Context, rec *Record, d Delivery) error {
	tx, err := r.tx(rec)
	if err != nil {
		return err
	}

	rec.EventID = d.EventID
	rec.EventType = d.EventType
	rec.ResourceType = d.ResourceType
	rec.ResourceID = d.ResourceID
	rec.Subject = d.Subject
	rec.Stream = d.Stream
	rec.StreamSeq = d.StreamSeq
	rec.Deliveries = d.Deliveries
	rec.Payload = d.Body
	rec.Headers = d.Headers
	rec.Status = StatusProcessing
	rec.ErrorMessage = ""

	headers, err := json.Marshal(d.Headers)
	if err != nil {
		return errors.WrapInvalid(err, "PGRepository", "PersistPre", "encode headers")
	}

	// The conflict target depends on which key identifies the event:
	// rows without a dedup header are keyed by (stream, stream_seq) and
	// store a NULL event_id so the unique constraint stays out of the way.
	conflict := `ON CONFLICT (event_id) DO UPDATE SET`
	if d.EventID == "" {
		conflict = `ON CONFLICT (stream, stream_seq) DO UPDATE SET`
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO inbox_events
			(event_id, event_type, resource_type, resource_id, subject,
			 stream, stream_seq, deliveries, payload, headers, status,
			 processing_attempts, received_at, error_message)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, now(), NULL)
		`+conflict+`
			deliveries          = EXCLUDED.deliveries,
			payload             = EXCLUDED.payload,
			headers             = EXCLUDED.headers,
			status              = EXCLUDED.status,
			processing_attempts = inbox_events.processing_attempts + 1,
			received_at         = COALESCE(inbox_events.received_at, now()),
			error_message       = NULL,
			updated_at          = now()
		RETURNING id, processing_attempts, received_at`,
		d.EventID, d.EventType, d.ResourceType, d.ResourceID, d.Subject,
		d.Stream, d.StreamSeq, d.Deliveries, d.Body, headers,
		StatusProcessing).Scan(&rec.ID, &rec.ProcessingAttempts, &rec.ReceivedAt)
	if err != nil {
		return errors.WrapTransient(err, "PGRepository", "PersistPre", "upsert inbox row")
	}

	rec.persisted = true
	return nil
}

func (r *PGRepository) PersistPost(ctx context.Context, rec *Record) error {
	tx, err := r.tx(rec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE inbox_events
		SET status = $2, processed_at = $3, updated_at = now()
		WHERE id = $1`, rec.ID, StatusProcessed, now); err != nil {
		return errors.WrapTransient(err, "PGRepository", "PersistPost", "mark processed")
	}

	rec.Status = StatusProcessed
	rec.ProcessedAt = &now
	return r.resolve(ctx, rec)
}

func (r *PGRepository) PersistFailure(ctx context.Context, rec *Record, cause error) {
	if rec == nil || cause == nil {
		return
	}
	tx, err := r.tx(rec)
	if err != nil {
		r.logger.Errorf("Inbox %s failure bookkeeping skipped: %v", rec.EventID, err)
		return
	}

	now := time.Now().UTC()
	msg := fmt.Sprintf("%T: %v", cause, cause)
	if _, err := tx.Exec(ctx, `
		UPDATE inbox_events
		SET status = $2, failed_at = $3, error_message = $4, updated_at = now()
		WHERE id = $1`, rec.ID, StatusFailed, now, msg); err != nil {
		r.logger.Errorf("Inbox %s failure bookkeeping failed: %v", rec.EventID, err)
		r.Release(ctx, rec)
		return
	}

	rec.Status = StatusFailed
	rec.FailedAt = &now
	rec.ErrorMessage = msg
	if err := r.resolve(ctx, rec); err != nil {
		r.logger.Errorf("Inbox %s failure bookkeeping failed: %v", rec.EventID, err)
	}
}

func (r *PGRepository) Release(ctx context.Context, rec *Record) {
	if rec == nil || rec.lease == nil {
		return
	}
	rec.lease.release(ctx)
	rec.lease = nil
}

func (r *PGRepository) tx(rec *Record) (pgx.Tx, error) {
	if rec == nil || rec.lease == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: record holds no lock", errors.ErrInvalidConfig),
			"PGRepository", "tx", "check record lifecycle")
	}
	return rec.lease.(*pgLease).tx, nil
}

func (r *PGRepository) resolve(ctx context.Context, rec *Record) error {
	lease := rec.lease
	rec.lease = nil
	if err := lease.commit(ctx); err != nil {
		lease.release(ctx)
		return errors.WrapTransient(err, "PGRepository", "resolve", "commit inbox transaction")
	}
	return nil
}
