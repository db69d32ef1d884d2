package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemRepository is an in-process inbox for tests and single-node setups
// without an external store. Locking mirrors the Postgres implementation:
// FindOrBuild takes a per-key mutex held until the record is resolved.
type MemRepository struct {
	mu      sync.Mutex
	records map[string]*Record
	locks   map[string]*sync.Mutex
	nextID  int64
}

// NewMemRepository creates an empty in-memory inbox repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
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

func key(d Delivery) string {
	if d.EventID != "" {
		return "event:" + d.EventID
	}
	return fmt.Sprintf("seq:%s:%d", d.Stream, d.StreamSeq)
}

func recordKey(r *Record) string {
	return key(Delivery{EventID: r.EventID, Stream: r.Stream, StreamSeq: r.StreamSeq})
}

func (m *MemRepository) keyLock(k string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[k] = lock
	}
	return lock
}

func (m *MemRepository) FindOrBuild(_ context.Context, d Delivery) (*Record, error) {
	k := key(d)
	lock := m.keyLock(k)
	lock.Lock()
	lease := &memLease{unlock: lock.Unlock}

	m.mu.Lock()
	stored, ok := m.records[k]
	m.mu.Unlock()
	if !ok {
		return &Record{
			EventID:   d.EventID,
			Stream:    d.Stream,
			StreamSeq: d.StreamSeq,
			Status:    StatusReceived,
			lease:     lease,
		}, nil
	}

	copied := *stored
	copied.persisted = true
	copied.lease = lease
	return &copied, nil
}

func (m *MemRepository) AlreadyProcessed(rec *Record) bool { return AlreadyProcessed(rec) }

func (m *MemRepository) PersistPre(_ context.Context, rec *Record, d Delivery) error {
	if rec == nil {
		return fmt.Errorf("MemRepository.PersistPre: record is nil")
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
	rec.ProcessingAttempts++
	if rec.ReceivedAt == nil {
		now := time.Now().UTC()
		rec.ReceivedAt = &now
	}

	m.store(rec)
	return nil
}

func (m *MemRepository) PersistPost(_ context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("MemRepository.PersistPost: record is nil")
	}
	now := time.Now().UTC()
	rec.Status = StatusProcessed
	rec.ProcessedAt = &now
	m.store(rec)
	m.Release(context.Background(), rec)
	return nil
}

func (m *MemRepository) PersistFailure(_ context.Context, rec *Record, cause error) {
	if rec == nil || cause == nil {
		return
	}
	now := time.Now().UTC()
	rec.Status = StatusFailed
	rec.FailedAt = &now
	rec.ErrorMessage = fmt.Sprintf("%T: %v", cause, cause)
	m.store(rec)
	m.Release(context.Background(), rec)
}

func (m *MemRepository) Release(ctx context.Context, rec *Record) {
	if rec == nil || rec.lease == nil {
		return
	}
	rec.lease.release(ctx)
	rec.lease = nil
}

// Get returns a copy of the stored record for the delivery key, for
// inspection in tests.
func (m *MemRepository) Get(d Delivery) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[key(d)]
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
	m.records[recordKey(rec)] = &copied
}
