package hostmetrics

import (
	"sync"
	"time"
)

// minRateInterval is the shortest gap between two counter readings that yields a rate.
const minRateInterval = 100 * time.Millisecond

// CounterTracker converts cumulative network byte counters into KB/s rates.
type CounterTracker struct {
	mu            sync.Mutex
	lastBytesSent uint64
	lastBytesRecv uint64
	lastSample    time.Time
}

// NewCounterTracker seeds the tracker with the counters observed at process start.
func NewCounterTracker(sent, recv uint64, now time.Time) *CounterTracker {
	return &CounterTracker{
		lastBytesSent: sent,
		lastBytesRecv: recv,
		lastSample:    now,
	}
}

// Rate returns upload and download throughput in KB/s since the previous reading,
// rounded to 2 decimal places.
//
// Readings less than 100ms after the previous one return (0, 0) and leave the
// tracker untouched. A counter that went backwards (wraparound or reset) reports
// 0 for that direction and becomes the new baseline.
func (t *CounterTracker) Rate(sent, recv uint64, now time.Time) (uploadKBps, downloadKBps float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := now.Sub(t.lastSample)
	if elapsed < minRateInterval {
		return 0, 0
	}
	seconds := elapsed.Seconds()

	uploadKBps = counterRate(t.lastBytesSent, sent, seconds)
	downloadKBps = counterRate(t.lastBytesRecv, recv, seconds)

	t.lastBytesSent = sent
	t.lastBytesRecv = recv
	t.lastSample = now
	return uploadKBps, downloadKBps
}

// State returns the stored counters and sample time.
func (t *CounterTracker) State() (sent, recv uint64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastBytesSent, t.lastBytesRecv, t.lastSample
}

func counterRate(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return Round(float64(cur-prev)/1024/seconds, 2)
}
