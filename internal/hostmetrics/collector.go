package hostmetrics

import (
	"context"
	"fmt"
	"math"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	gohost "github.com/shirou/gopsutil/v4/host"
	goload "github.com/shirou/gopsutil/v4/load"
	gomem "github.com/shirou/gopsutil/v4/mem"
	gonet "github.com/shirou/gopsutil/v4/net"
	goprocess "github.com/shirou/gopsutil/v4/process"
)

// System call wrappers for testing
var (
	cpuPercent    = gocpu.PercentWithContext
	virtualMemory = gomem.VirtualMemoryWithContext
	loadAvg       = goload.AvgWithContext
	netIOCounters = gonet.IOCountersWithContext
	processPids   = goprocess.PidsWithContext
	bootTime      = gohost.BootTimeWithContext
)

// Reading is the outcome of a single sensor query: a value, or the reason it is unavailable.
type Reading struct {
	Value float64
	Err   error
}

// Available reports whether the reading carries a value.
func (r Reading) Available() bool {
	return r.Err == nil
}

// Value wraps a successful reading.
func Value(v float64) Reading {
	return Reading{Value: v}
}

// Unavailable wraps a failed reading.
func Unavailable(sensor, op string, err error) Reading {
	return Reading{Err: hserrors.NewSensorError(sensor, op, err)}
}

// NetCounters holds cumulative byte totals across all interfaces.
type NetCounters struct {
	BytesSent uint64
	BytesRecv uint64
}

// System reads host metrics from the running machine.
type System struct{}

// CPUPercent returns aggregate CPU utilisation since the previous call.
// The first call after process start has no baseline and reports 0.
func (System) CPUPercent(ctx context.Context) Reading {
	percentages, err := cpuPercent(ctx, 0, false)
	if err != nil {
		return Unavailable("cpu", "percent", err)
	}
	if len(percentages) == 0 {
		return Value(0)
	}
	return Value(clampPercent(percentages[0]))
}

// PerCorePercent returns per-logical-core utilisation since the previous call.
func (System) PerCorePercent(ctx context.Context) ([]float64, error) {
	percentages, err := cpuPercent(ctx, 0, true)
	if err != nil {
		return nil, hserrors.NewSensorError("cpu_core", "percent", err)
	}
	out := make([]float64, len(percentages))
	for i, p := range percentages {
		out[i] = Round(clampPercent(p), 1)
	}
	return out, nil
}

// MemoryPercent returns the used share of physical memory.
func (System) MemoryPercent(ctx context.Context) Reading {
	memStats, err := virtualMemory(ctx)
	if err != nil {
		return Unavailable("memory", "virtual_memory", err)
	}
	if memStats == nil {
		return Unavailable("memory", "virtual_memory", fmt.Errorf("empty memory stats"))
	}
	return Value(Round(memStats.UsedPercent, 1))
}

// NetCounters returns cumulative sent/received bytes summed over every interface.
func (System) NetCounters(ctx context.Context) (NetCounters, error) {
	counters, err := netIOCounters(ctx, false)
	if err != nil {
		return NetCounters{}, hserrors.NewSensorError("network", "io_counters", err)
	}
	if len(counters) == 0 {
		return NetCounters{}, hserrors.NewSensorError("network", "io_counters", hserrors.ErrSensorNotFound)
	}
	return NetCounters{
		BytesSent: counters[0].BytesSent,
		BytesRecv: counters[0].BytesRecv,
	}, nil
}

// LoadAverage returns the 1-minute load average rounded to 2 decimal places.
func (System) LoadAverage(ctx context.Context) Reading {
	avg, err := loadAvg(ctx)
	if err != nil {
		return Unavailable("load", "avg", err)
	}
	if avg == nil {
		return Unavailable("load", "avg", hserrors.ErrUnsupported)
	}
	return Value(Round(avg.Load1, 2))
}

// ProcessCount returns the number of running processes.
func (System) ProcessCount(ctx context.Context) Reading {
	pids, err := processPids(ctx)
	if err != nil {
		return Unavailable("process", "pids", err)
	}
	return Value(float64(len(pids)))
}

// BootTime returns the host boot time as unix seconds.
func (System) BootTime(ctx context.Context) Reading {
	bt, err := bootTime(ctx)
	if err != nil {
		return Unavailable("host", "boot_time", err)
	}
	return Value(float64(bt))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
