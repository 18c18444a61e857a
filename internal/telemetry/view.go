package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/rcourtman/pulse-hoststat/internal/buffer"
	"github.com/rcourtman/pulse-hoststat/internal/sensors"
)

// Pair is a [unix seconds, value] sample as rendered to clients.
type Pair [2]float64

// View is the windowed history of every metric plus the latest scalars.
type View struct {
	CPUUsage         []Pair           `json:"cpu_usage"`
	MemUsage         []Pair           `json:"mem_usage"`
	GPUUsage         []Pair           `json:"gpu_usage"`
	NetUploadSpeed   []Pair           `json:"net_upload_speed"`
	NetDownloadSpeed []Pair           `json:"net_download_speed"`
	SystemLoad       []Pair           `json:"system_load"`
	ProcessCount     []Pair           `json:"process_count"`
	CPUTemperature   []Pair           `json:"cpu_temperature"`
	CPUCoreUsage     []float64        `json:"cpu_core_usage"`
	BootTime         float64          `json:"boot_time"`
	BatteryInfo      *sensors.Battery `json:"battery_info"`
	Timestamp        float64          `json:"timestamp"`
}

// Current holds the newest value of every metric, as written to the snapshot.
type Current struct {
	CPUUsage         float64          `json:"cpu_usage"`
	MemUsage         float64          `json:"mem_usage"`
	GPUUsage         float64          `json:"gpu_usage"`
	NetUploadSpeed   float64          `json:"net_upload_speed"`
	NetDownloadSpeed float64          `json:"net_download_speed"`
	CPUCoreUsage     []float64        `json:"cpu_core_usage"`
	SystemLoad       float64          `json:"system_load"`
	ProcessCount     float64          `json:"process_count"`
	CPUTemperature   float64          `json:"cpu_temperature"`
	BootTime         float64          `json:"boot_time"`
	BatteryInfo      *sensors.Battery `json:"battery_info"`
	Timestamp        float64          `json:"timestamp"`
}

// View renders the windowed history. now only sets the response timestamp;
// two calls with no tick in between return the same metric data.
func (s *Store) View(now time.Time) View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return View{
		CPUUsage:         s.pairsLocked(CPUUsage),
		MemUsage:         s.pairsLocked(MemUsage),
		GPUUsage:         s.pairsLocked(GPUUsage),
		NetUploadSpeed:   s.pairsLocked(NetUploadSpeed),
		NetDownloadSpeed: s.pairsLocked(NetDownloadSpeed),
		SystemLoad:       s.pairsLocked(SystemLoad),
		ProcessCount:     s.pairsLocked(ProcessCount),
		CPUTemperature:   s.pairsLocked(CPUTemperature),
		CPUCoreUsage:     append([]float64{}, s.cpuCores...),
		BootTime:         s.bootTime,
		BatteryInfo:      s.batteryLocked(),
		Timestamp:        UnixSeconds(now),
	}
}

// Current returns the newest value of every metric, 0 for empty series.
func (s *Store) Current(now time.Time) Current {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Current{
		CPUUsage:         s.latestLocked(CPUUsage),
		MemUsage:         s.latestLocked(MemUsage),
		GPUUsage:         s.latestLocked(GPUUsage),
		NetUploadSpeed:   s.latestLocked(NetUploadSpeed),
		NetDownloadSpeed: s.latestLocked(NetDownloadSpeed),
		CPUCoreUsage:     append([]float64{}, s.cpuCores...),
		SystemLoad:       s.latestLocked(SystemLoad),
		ProcessCount:     s.latestLocked(ProcessCount),
		CPUTemperature:   s.latestLocked(CPUTemperature),
		BootTime:         s.bootTime,
		BatteryInfo:      s.batteryLocked(),
		Timestamp:        UnixSeconds(now),
	}
}

// MarshalJSON renders a missing battery as {} rather than null.
func (v View) MarshalJSON() ([]byte, error) {
	type plain View
	return json.Marshal(struct {
		plain
		BatteryInfo interface{} `json:"battery_info"`
	}{plain(v), batteryJSON(v.BatteryInfo)})
}

// MarshalJSON renders a missing battery as {} rather than null.
func (c Current) MarshalJSON() ([]byte, error) {
	type plain Current
	return json.Marshal(struct {
		plain
		BatteryInfo interface{} `json:"battery_info"`
	}{plain(c), batteryJSON(c.BatteryInfo)})
}

func batteryJSON(b *sensors.Battery) interface{} {
	if b == nil {
		return struct{}{}
	}
	return b
}

func (s *Store) pairsLocked(name string) []Pair {
	w, ok := s.series[name]
	if !ok {
		return []Pair{}
	}
	return toPairs(w.Points())
}

func (s *Store) batteryLocked() *sensors.Battery {
	if s.battery == nil {
		return nil
	}
	b := *s.battery
	return &b
}

func toPairs(points []buffer.Point) []Pair {
	out := make([]Pair, len(points))
	for i, p := range points {
		out[i] = Pair{math.Round(UnixSeconds(p.Timestamp)), p.Value}
	}
	return out
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}
