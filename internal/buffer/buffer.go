package buffer

import (
	"sort"
	"sync"
	"time"
)

// Point is a single timestamped value held by a Window.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Window is a thread-safe, time-bounded series of points.
// Points must be appended in non-decreasing timestamp order; pruning relies on it.
type Window struct {
	mu   sync.Mutex
	data []Point
}

// New creates an empty Window with room for capacity points before growing.
func New(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{
		data: make([]Point, 0, capacity),
	}
}

// Append adds a point to the tail of the window.
func (w *Window) Append(ts time.Time, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.data = append(w.data, Point{Timestamp: ts, Value: value})
}

// Prune drops every point older than retention relative to now and returns how many were removed.
// A point exactly retention old is kept.
func (w *Window) Prune(now time.Time, retention time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-retention)
	idx := sort.Search(len(w.data), func(i int) bool {
		return !w.data[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return 0
	}

	// Shift left and reuse the backing array so a steady-state window does not reallocate.
	remaining := copy(w.data, w.data[idx:])
	for i := remaining; i < len(w.data); i++ {
		w.data[i] = Point{}
	}
	w.data = w.data[:remaining]
	return idx
}

// Latest returns the newest value.
// Returns zero value and false if empty.
func (w *Window) Latest() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.data) == 0 {
		return 0, false
	}
	return w.data[len(w.data)-1].Value, true
}

// Points returns a copy of the retained points in insertion order.
func (w *Window) Points() []Point {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Point, len(w.data))
	copy(out, w.data)
	return out
}

// Len returns the current number of points.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.data)
}
