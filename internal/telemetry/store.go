// Package telemetry holds the in-memory windowed metric store and the views
// served over HTTP and persisted to disk.
package telemetry

import (
	"sync"
	"time"

	"github.com/rcourtman/pulse-hoststat/internal/buffer"
	"github.com/rcourtman/pulse-hoststat/internal/sensors"
	"github.com/rs/zerolog/log"
)

// Time-series metric names.
const (
	CPUUsage         = "cpu_usage"
	MemUsage         = "mem_usage"
	GPUUsage         = "gpu_usage"
	NetUploadSpeed   = "net_upload_speed"
	NetDownloadSpeed = "net_download_speed"
	SystemLoad       = "system_load"
	ProcessCount     = "process_count"
	CPUTemperature   = "cpu_temperature"
)

// SeriesNames lists every windowed metric in display order.
var SeriesNames = []string{
	CPUUsage,
	MemUsage,
	GPUUsage,
	NetUploadSpeed,
	NetDownloadSpeed,
	SystemLoad,
	ProcessCount,
	CPUTemperature,
}

// DefaultRetention is how long samples stay in the window.
const DefaultRetention = 120 * time.Second

// Store owns every metric series and latest-value scalar. The sampler is its
// only writer; all of a tick's writes land in a single Apply call.
type Store struct {
	retention time.Duration

	mu       sync.RWMutex
	series   map[string]*buffer.Window
	cpuCores []float64
	bootTime float64
	battery  *sensors.Battery
	ticks    uint64
	lastTick time.Time
}

// NewStore creates an empty store. A non-positive retention uses DefaultRetention.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	series := make(map[string]*buffer.Window, len(SeriesNames))
	// one point per second plus slack for a slow tick
	capacity := int(retention/time.Second) + 8
	for _, name := range SeriesNames {
		series[name] = buffer.New(capacity)
	}
	return &Store{
		retention: retention,
		series:    series,
		cpuCores:  []float64{},
	}
}

// Retention returns the configured window length.
func (s *Store) Retention() time.Duration {
	return s.retention
}

// Tx is the write handle passed to Apply. It is only valid inside the callback.
type Tx struct {
	store *Store
	now   time.Time
}

// Append adds a sample stamped with the tick time. Unknown names are ignored.
func (tx *Tx) Append(name string, value float64) {
	w, ok := tx.store.series[name]
	if !ok {
		log.Warn().Str("metric", name).Msg("Ignoring sample for unknown metric")
		return
	}
	w.Append(tx.now, value)
}

func (tx *Tx) SetCPUCores(cores []float64) {
	tx.store.cpuCores = append([]float64{}, cores...)
}

func (tx *Tx) SetBootTime(bootTime float64) {
	tx.store.bootTime = bootTime
}

func (tx *Tx) SetBattery(b sensors.Battery) {
	tx.store.battery = &b
}

// Apply prunes every series to the retention window ending at now, then runs
// fn under the write lock. Readers observe either the state before or after
// the whole call. It returns the total number of applied ticks.
func (s *Store) Apply(now time.Time, fn func(tx *Tx)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.series {
		w.Prune(now, s.retention)
	}
	if fn != nil {
		fn(&Tx{store: s, now: now})
	}
	s.ticks++
	s.lastTick = now
	return s.ticks
}

// Latest returns the newest value of the named series, or 0 when it has none.
func (s *Store) Latest(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(name)
}

func (s *Store) latestLocked(name string) float64 {
	w, ok := s.series[name]
	if !ok {
		return 0
	}
	v, _ := w.Latest()
	return v
}

// Len returns the number of samples held for the named series.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.series[name]
	if !ok {
		return 0
	}
	return w.Len()
}

// Points returns a copy of the named series.
func (s *Store) Points(name string) []buffer.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.series[name]
	if !ok {
		return nil
	}
	return w.Points()
}

// Ticks returns how many ticks have been applied and when the last one ran.
func (s *Store) Ticks() (uint64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks, s.lastTick
}
