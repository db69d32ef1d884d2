package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/syncbus/natsclient"
)

// MemRepository is an in-process outbox for tests and single-node setups
// without an external store. Locking semantics mirror the Postgres
// implementation: FindOrBuild takes a per-event mutex held until the
// record is resolved.
type MemRepository struct {
	mu      sync.Mutex
	records map[string]*Record
	locks   map[string]*sync.Mutex
	nextID  int64
	logger  natsclient.Logger
}

// NewMemRepository creates an empty in-memory outbox repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
		logger:  natsclient.DefaultLogger(),
	}
}

type memLease struct {
	unlock func()
	done   bool
}

func (l *memLease) commit(context.Context) error {
	l.release(context.Background())
	return nil
}

func (l *memLease) release(context.Context) {
	if !l.done {
		l.done = true
		l.unlock()
	}
}

func (m *MemRepository) eventLock(eventID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[eventID] = lock
	}
	return lock
}

func (m *MemRepository) FindOrBuild(_ context.Context, eventID string) (*Record, error) {
	if eventID == "" {
		return nil, fmt.Errorf("MemRepository.FindOrBuild: event id is required")
	}

	lock := m.eventLock(eventID)
	lock.Lock()
	lease := &memLease{unlock: lock.Unlock}

	m.mu.Lock()
	stored, ok := m.records[eventID]
	m.mu.Unlock()
	if !ok {
		return &Record{EventID: eventID, Status: StatusPending, lease: lease}, nil
	}

	copied := *stored
	copied.persisted = true
	copied.lease = lease
	return &copied, nil
}

func (m *MemRepository) AlreadySent(rec *Record) bool { return AlreadySent(rec) }

func (m *MemRepository) PersistPre(_ context.Context, rec *Record, subject string, payload []byte) error {
	if rec == nil {
		return fmt.Errorf("MemRepository.PersistPre: record is nil")
	}

	rec.Subject = subject
	rec.Payload = payload
	rec.Headers = map[string]string{MsgIDHeader: rec.EventID}
	rec.Status = StatusPublishing
	rec.Attempts++
	if rec.EnqueuedAt == nil {
		now := time.Now().UTC()
		rec.EnqueuedAt = &now
	}

	m.store(rec)
	return nil
}

func (m *MemRepository) PersistSuccess(_ context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("MemRepository.PersistSuccess: record is nil")
	}
	now := time.Now().UTC()
	rec.Status = StatusSent
	rec.SentAt = &now
	m.store(rec)
	m.Release(context.Background(), rec)
	return nil
}

func (m *MemRepository) PersistFailure(_ context.Context, rec *Record, msg string) error {
	if rec == nil {
		return fmt.Errorf("MemRepository.PersistFailure: record is nil")
	}
	rec.Status = StatusFailed
	rec.LastError = msg
	m.store(rec)
	m.Release(context.Background(), rec)
	return nil
}

func (m *MemRepository) PersistException(ctx context.Context, rec *Record, err error) {
	if rec == nil || err == nil {
		return
	}
	if perr := m.PersistFailure(ctx, rec, fmt.Sprintf("%T: %v", err, err)); perr != nil {
		m.logger.Errorf("Outbox %s exception bookkeeping failed: %v", rec.EventID, perr)
	}
}

func (m *MemRepository) Release(ctx context.Context, rec *Record) {
	if rec == nil || rec.lease == nil {
		return
	}
	rec.lease.release(ctx)
	rec.lease = nil
}

// Get returns a copy of the stored record, for inspection in tests.
func (m *MemRepository) Get(eventID string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[eventID]
	if !ok {
		return nil, false
	}
	copied := *stored
	return &copied, true
}

func (m *MemRepository) store(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !rec.persisted {
		m.nextID++
		rec.ID = m.nextID
		rec.persisted = true
	}
	copied := *rec
	copied.lease = nil
	m.records[rec.EventID] = &copied
}
