package sensors

import (
	"context"
	"sort"
	"strings"
	"sync"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	"github.com/rcourtman/pulse-hoststat/internal/hostmetrics"
	"github.com/rs/zerolog/log"
	gosensors "github.com/shirou/gopsutil/v4/sensors"
)

// DefaultPriority lists the CPU temperature chip families probed in order.
var DefaultPriority = []string{"coretemp", "acpitz", "k10temp"}

// maxLMSensorsMisses is how many consecutive lm-sensors runs may come back
// without a priority chip before the fallback is switched off.
const maxLMSensorsMisses = 10

var (
	temperatures = gosensors.TemperaturesWithContext
	collectLocal = CollectLocal
)

// TemperatureReader picks a CPU temperature from the first present chip family
// in a fixed priority list.
type TemperatureReader struct {
	priority []string

	mu              sync.Mutex
	lmSensorsOff    bool // never retried once set
	lmSensorsMisses int
}

// NewTemperatureReader creates a reader probing the given chip families in order.
// An empty list uses DefaultPriority.
func NewTemperatureReader(priority []string) *TemperatureReader {
	cleaned := make([]string, 0, len(priority))
	for _, p := range priority {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultPriority...)
	}
	return &TemperatureReader{priority: cleaned}
}

// Priority returns the chip families probed, in order.
func (r *TemperatureReader) Priority() []string {
	return append([]string(nil), r.priority...)
}

// CPUTemperature returns the temperature of the highest-priority chip present,
// rounded to 1 decimal place. When no listed chip is present the reading is
// unavailable with ErrSensorNotFound.
func (r *TemperatureReader) CPUTemperature(ctx context.Context) hostmetrics.Reading {
	chips := r.collectChips(ctx)
	for _, family := range r.priority {
		if reading, ok := chips[family]; ok {
			return hostmetrics.Value(hostmetrics.Round(reading.Temperature, 1))
		}
	}
	return hostmetrics.Unavailable("temperature", "probe", hserrors.ErrSensorNotFound)
}

func (r *TemperatureReader) collectChips(ctx context.Context) map[string]ChipReading {
	stats, err := temperatures(ctx)
	// gopsutil returns partial results alongside warnings for unreadable hwmon entries.
	if len(stats) > 0 {
		chips := groupTemperatureStats(stats)
		if r.hasPriorityChip(chips) {
			return chips
		}
	} else if err != nil {
		log.Debug().Err(err).Msg("Temperature query returned no sensors")
	}

	return r.collectFromLMSensors(ctx)
}

func (r *TemperatureReader) collectFromLMSensors(ctx context.Context) map[string]ChipReading {
	r.mu.Lock()
	off := r.lmSensorsOff
	r.mu.Unlock()
	if off {
		return nil
	}

	raw, err := collectLocal(ctx)
	if err != nil {
		if _, lookErr := lookPath("sensors"); lookErr != nil {
			r.disableLMSensors("sensors binary not found")
		} else {
			r.recordLMSensorsMiss()
		}
		log.Debug().Err(err).Msg("lm-sensors fallback unavailable")
		return nil
	}

	chips, err := ParseChips(raw)
	if err != nil {
		r.recordLMSensorsMiss()
		log.Debug().Err(err).Msg("Failed to parse lm-sensors output")
		return nil
	}

	if r.hasPriorityChip(chips) {
		r.mu.Lock()
		r.lmSensorsMisses = 0
		r.mu.Unlock()
	} else {
		r.recordLMSensorsMiss()
	}
	return chips
}

func (r *TemperatureReader) recordLMSensorsMiss() {
	r.mu.Lock()
	r.lmSensorsMisses++
	misses := r.lmSensorsMisses
	r.mu.Unlock()
	if misses >= maxLMSensorsMisses {
		r.disableLMSensors("no priority chip reported")
	}
}

func (r *TemperatureReader) disableLMSensors(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lmSensorsOff {
		return
	}
	r.lmSensorsOff = true
	log.Debug().
		Str("reason", reason).
		Strs("priority", r.priority).
		Msg("lm-sensors fallback disabled")
}

func (r *TemperatureReader) hasPriorityChip(chips map[string]ChipReading) bool {
	for _, family := range r.priority {
		if _, ok := chips[family]; ok {
			return true
		}
	}
	return false
}

// groupTemperatureStats reduces gopsutil sensor keys (e.g. "coretemp_package_id_0",
// "k10temp_tctl", "acpitz") to one reading per chip family.
func groupTemperatureStats(stats []gosensors.TemperatureStat) map[string]ChipReading {
	sorted := append([]gosensors.TemperatureStat(nil), stats...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SensorKey < sorted[j].SensorKey })

	chips := make(map[string]ChipReading)
	packages := make(map[string]bool)
	for _, stat := range sorted {
		key := strings.ToLower(strings.TrimSpace(stat.SensorKey))
		if key == "" || stat.Temperature <= 0 {
			continue
		}
		family := key
		if idx := strings.Index(key, "_"); idx > 0 {
			family = key[:idx]
		}
		isPackage := isPackageSensor(strings.ReplaceAll(key, "_", " "))
		if _, seen := chips[family]; seen && (packages[family] || !isPackage) {
			continue
		}
		chips[family] = ChipReading{Chip: family, Temperature: stat.Temperature}
		packages[family] = isPackage
	}
	return chips
}
