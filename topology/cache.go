package topology

import (
	"context"
	"sync"
	"time"
)

// defaultCacheTTL bounds how stale the stream listing used for overlap
// checks may be.
const defaultCacheTTL = 60 * time.Second

type streamRecord struct {
	name     string
	subjects []string
}

// overlapCache caches the cluster's stream listing for overlap checks.
// A failed refresh falls back to the last successful listing rather than
// blocking provisioning.
type overlapCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	fetched time.Time
	recs    []streamRecord
}

func newOverlapCache() *overlapCache {
	return &overlapCache{ttl: defaultCacheTTL}
}

type logger interface {
	Printf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

func (c *overlapCache) records(ctx context.Context, js Admin, log logger) []streamRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetched.IsZero() && time.Since(c.fetched) < c.ttl {
		return c.recs
	}

	lister := js.ListStreams(ctx)
	var fresh []streamRecord
	for info := range lister.Info() {
		fresh = append(fresh, streamRecord{
			name:     info.Config.Name,
			subjects: append([]string{}, info.Config.Subjects...),
		})
	}
	if err := lister.Err(); err != nil {
		log.Errorf("Stream listing failed, using last known topology: %v", err)
		return c.recs
	}

	c.recs = fresh
	c.fetched = time.Now()
	return c.recs
}

func (c *overlapCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = time.Time{}
}
