package health

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// MemoryWarnBytes is the resident-set threshold above which a snapshot is
// reported degraded.
const MemoryWarnBytes = 1 << 30 // 1 GiB

// Snapshot is a point-in-time view of a consumer process, taken
// periodically by the run loop.
type Snapshot struct {
	StartedAt  time.Time
	Uptime     time.Duration
	Iterations uint64
	Processed  uint64
	RSSBytes   uint64
	HeapObjsMB uint64
	TakenAt    time.Time
}

// TakeSnapshot collects process statistics. The RSS probe is best-effort;
// an unreadable /proc leaves RSSBytes zero rather than failing the
// snapshot.
func TakeSnapshot(startedAt time.Time, iterations, processed uint64) Snapshot {
	snap := Snapshot{
		StartedAt:  startedAt,
		Uptime:     time.Since(startedAt),
		Iterations: iterations,
		Processed:  processed,
		TakenAt:    time.Now(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			snap.RSSBytes = mem.RSS
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapObjsMB = ms.HeapObjects / 1_000_000

	return snap
}

// Status converts the snapshot into a health status for the named
// component: degraded above the memory threshold, healthy otherwise.
func (s Snapshot) Status(component string) Status {
	metrics := &Metrics{
		Uptime:       s.Uptime,
		Iterations:   s.Iterations,
		Processed:    s.Processed,
		RSSBytes:     s.RSSBytes,
		LastActivity: s.TakenAt,
	}

	if s.OverMemoryThreshold() {
		return NewDegraded(component, fmt.Sprintf(
			"resident memory %dMB above threshold", s.RSSBytes>>20)).WithMetrics(metrics)
	}
	return NewHealthy(component, fmt.Sprintf(
		"up %s, %d iterations, %d processed",
		s.Uptime.Round(time.Second), s.Iterations, s.Processed)).WithMetrics(metrics)
}

// OverMemoryThreshold reports whether resident memory exceeds the warning
// threshold.
func (s Snapshot) OverMemoryThreshold() bool {
	return s.RSSBytes > MemoryWarnBytes
}
