package outbox

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

// PGRepository stores outbox records in Postgres. Each FindOrBuild opens a
// transaction and takes a SELECT ... FOR UPDATE lock on the event row; the
// transaction commits when the record is resolved, so the lock spans the
// whole publish attempt.
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

// NewPGRepository creates a Postgres-backed outbox repository.
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

func (l *pgLease) commit(ctx context.Context) error {
	return l.tx.Commit(ctx)
}

func (l *pgLease) release(ctx context.Context) {
	// Rollback after commit returns pgx.ErrTxClosed, which is fine.
	_ = l.tx.Rollback(ctx)
}

func (r *PGRepository) FindOrBuild(ctx context.Context, eventID string) (*Record, error) {
	if eventID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: event id is required", errors.ErrInvalidConfig),
			"PGRepository", "FindOrBuild", "check event id")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "PGRepository", "FindOrBuild", "begin transaction")
	}

	rec := &Record{EventID: eventID, Status: StatusPending, lease: &pgLease{tx: tx}}

	var headers []byte
	err = tx.QueryRow(ctx, `
		SELECT id, event_type, resource_type, resource_id, subject,
		       payload, headers, status, attempts, enqueued_at, sent_at,
		       COALESCE(last_error, '')
		FROM outbox_events
		WHERE event_id = $1
		FOR UPDATE`, eventID).Scan(
		&rec.ID, &rec.EventType, &rec.ResourceType, &rec.ResourceID,
		&rec.Subject, &rec.Payload, &headers, &rec.Status, &rec.Attempts,
		&rec.EnqueuedAt, &rec.SentAt, &rec.LastError)
	switch {
	case err == pgx.ErrNoRows:
		// First publish attempt for this event; the transaction still
		// carries the eventual insert.
		return rec, nil
	case err != nil:
		_ = tx.Rollback(ctx)
		return nil, errors.WrapTransient(err, "PGRepository", "FindOrBuild", "lock outbox row")
	}

	rec.persisted = true
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			r.logger.Errorf("Outbox %s has unreadable headers: %v", eventID, err)
		}
	}
	return rec, nil
}

func (r *PGRepository) AlreadySent(rec *Record) bool { return AlreadySent(rec) }

func (r *PGRepository) PersistPre(ctx context.Context, rec *Record, subject string, payload []byte) error {
	tx, err := r.tx(rec)
	if err != nil {
		return err
	}

	rec.Subject = subject
	rec.Payload = payload
	rec.Headers = map[string]string{MsgIDHeader: rec.EventID}
	rec.Status = StatusPublishing
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return errors.WrapInvalid(err, "PGRepository", "PersistPre", "encode headers")
	}

	// Upsert covers the race where another process inserted the row after
	// our empty FOR UPDATE lookup.
	err = tx.QueryRow(ctx, `
		INSERT INTO outbox_events
			(event_id, event_type, resource_type, resource_id, subject,
			 payload, headers, status, attempts, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now())
		ON CONFLICT (event_id) DO UPDATE SET
			subject     = EXCLUDED.subject,
			payload     = EXCLUDED.payload,
			headers     = EXCLUDED.headers,
			status      = EXCLUDED.status,
			attempts    = outbox_events.attempts + 1,
			enqueued_at = COALESCE(outbox_events.enqueued_at, now()),
			updated_at  = now()
		RETURNING id, attempts, enqueued_at`,
		rec.EventID, rec.EventType, rec.ResourceType, rec.ResourceID,
		subject, payload, headers, StatusPublishing).Scan(
		&rec.ID, &rec.Attempts, &rec.EnqueuedAt)
	if err != nil {
		return errors.WrapTransient(err, "PGRepository", "PersistPre", "upsert outbox row")
	}

	rec.persisted = true
	return nil
}

func (r *PGRepository) PersistSuccess(ctx context.Context, rec *Record) error {
	tx, err := r.tx(rec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, sent_at = $3, updated_at = now()
		WHERE id = $1`, rec.ID, StatusSent, now); err != nil {
		r.Release(ctx, rec)
		return errors.WrapTransient(err, "PGRepository", "PersistSuccess", "mark sent")
	}

	rec.Status = StatusSent
	rec.SentAt = &now
	return r.resolve(ctx, rec)
}

func (r *PGRepository) PersistFailure(ctx context.Context, rec *Record, msg string) error {
	tx, err := r.tx(rec)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, rec.ID, StatusFailed, msg); err != nil {
		r.Release(ctx, rec)
		return errors.WrapTransient(err, "PGRepository", "PersistFailure", "mark failed")
	}

	rec.Status = StatusFailed
	rec.LastError = msg
	return r.resolve(ctx, rec)
}

func (r *PGRepository) PersistException(ctx context.Context, rec *Record, err error) {
	if rec == nil || err == nil {
		return
	}
	if perr := r.PersistFailure(ctx, rec, fmt.Sprintf("%T: %v", err, err)); perr != nil {
		r.logger.Errorf("Outbox %s exception bookkeeping failed: %v", rec.EventID, perr)
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
		return errors.WrapTransient(err, "PGRepository", "resolve", "commit outbox transaction")
	}
	return nil
}
