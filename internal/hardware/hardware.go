// Package hardware describes the static hardware of the host: CPU, memory,
// disks, GPU and network interfaces.
package hardware

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rcourtman/pulse-hoststat/internal/gpu"
	"github.com/rcourtman/pulse-hoststat/internal/hostmetrics"
	"github.com/rs/zerolog/log"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	godisk "github.com/shirou/gopsutil/v4/disk"
	gomem "github.com/shirou/gopsutil/v4/mem"
	gonet "github.com/shirou/gopsutil/v4/net"
)

const (
	defaultMemoryModel = "DDR Series"
	maxMemoryModelLen  = 100
	bytesPerGB         = 1024 * 1024 * 1024
)

// System call wrappers for testing
var (
	cpuInfo        = gocpu.InfoWithContext
	cpuCounts      = gocpu.CountsWithContext
	virtualMemory  = gomem.VirtualMemoryWithContext
	diskPartitions = godisk.PartitionsWithContext
	diskUsage      = godisk.UsageWithContext
	netInterfaces  = gonet.InterfacesWithContext
	goos           = runtime.GOOS
	runDmidecode   = func(ctx context.Context) (string, error) {
		cmdCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		out, err := exec.CommandContext(cmdCtx, "dmidecode", "-t", "memory").Output()
		return string(out), err
	}
)

type CPU struct {
	Model         string `json:"model"`
	Cores         int    `json:"cores"`
	PhysicalCores int    `json:"physical_cores"`
}

type Memory struct {
	Total float64 `json:"total"` // GB
	Model string  `json:"model"`
}

// Disk is one mounted partition. Sizes are GB.
type Disk struct {
	Device       string  `json:"device"`
	Mountpoint   string  `json:"mountpoint"`
	Fstype       string  `json:"fstype"`
	Total        float64 `json:"total"`
	Used         float64 `json:"used"`
	UsagePercent float64 `json:"usage_percent"`
}

type GPU struct {
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

type Interface struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
}

// Info is the full hardware description.
type Info struct {
	CPU     CPU         `json:"cpu"`
	Memory  Memory      `json:"memory"`
	Disks   []Disk      `json:"disks"`
	GPU     GPU         `json:"gpu"`
	Network []Interface `json:"network"`
}

// GPUSource reports the bound GPU, if any.
type GPUSource interface {
	State() gpu.State
	Model() string
}

// Describer enumerates host hardware. Every part is best effort: a part that
// cannot be read is left at its zero value and logged at debug level.
type Describer struct {
	gpu         GPUSource
	diskExclude []string

	memModelOnce sync.Once
	memModel     string
}

// NewDescriber creates a describer. g may be nil on hosts without GPU sampling.
func NewDescriber(g GPUSource) *Describer {
	return &Describer{gpu: g}
}

// WithDiskExclude sets mountpoint patterns left out of the disk list.
func (d *Describer) WithDiskExclude(patterns []string) *Describer {
	d.diskExclude = patterns
	return d
}

// Describe reads the current hardware description.
func (d *Describer) Describe(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	info := Info{
		CPU:     d.describeCPU(ctx),
		Memory:  d.describeMemory(ctx),
		Disks:   d.describeDisks(ctx),
		GPU:     d.describeGPU(),
		Network: describeNetwork(ctx),
	}
	return info, nil
}

func (d *Describer) describeCPU(ctx context.Context) CPU {
	var out CPU
	if logical, err := cpuCounts(ctx, true); err == nil {
		out.Cores = logical
	} else {
		log.Debug().Err(err).Msg("Failed to count logical CPUs")
	}
	if physical, err := cpuCounts(ctx, false); err == nil {
		out.PhysicalCores = physical
	} else {
		log.Debug().Err(err).Msg("Failed to count physical CPUs")
	}

	infos, err := cpuInfo(ctx)
	if err == nil && len(infos) > 0 && strings.TrimSpace(infos[0].ModelName) != "" {
		out.Model = strings.TrimSpace(infos[0].ModelName)
	} else {
		if err != nil {
			log.Debug().Err(err).Msg("Failed to read CPU model")
		}
		out.Model = fmt.Sprintf("CPU (%d cores, %d threads)", out.PhysicalCores, out.Cores)
	}
	return out
}

func (d *Describer) describeMemory(ctx context.Context) Memory {
	out := Memory{Model: d.memoryModel(ctx)}
	memStats, err := virtualMemory(ctx)
	if err != nil || memStats == nil {
		log.Debug().Err(err).Msg("Failed to read memory total")
		return out
	}
	out.Total = toGB(memStats.Total)
	return out
}

// memoryModel shells out to dmidecode once; the module list does not change at runtime.
func (d *Describer) memoryModel(ctx context.Context) string {
	d.memModelOnce.Do(func() {
		d.memModel = defaultMemoryModel
		if goos != "linux" {
			return
		}
		out, err := runDmidecode(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("dmidecode unavailable; using default memory model")
			return
		}
		if model := parseMemoryModel(out); model != "" {
			d.memModel = model
		}
	})
	return d.memModel
}

// parseMemoryModel keeps the Manufacturer and Part Number lines of `dmidecode -t memory`.
func parseMemoryModel(output string) string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Manufacturer:") || strings.HasPrefix(trimmed, "Part Number:") {
			lines = append(lines, trimmed)
		}
	}
	model := strings.Join(lines, "\n")
	if len(model) > maxMemoryModelLen {
		model = model[:maxMemoryModelLen]
	}
	return model
}

func (d *Describer) describeDisks(ctx context.Context) []Disk {
	disks := []Disk{}
	partitions, err := diskPartitions(ctx, false)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to list disk partitions")
		return disks
	}
	for _, part := range partitions {
		if skip, reason := skipPartition(part.Fstype, part.Mountpoint, part.Opts, d.diskExclude); skip {
			log.Trace().Str("mountpoint", part.Mountpoint).Str("reason", reason).Msg("Skipping partition")
			continue
		}
		usage, err := diskUsage(ctx, part.Mountpoint)
		if err != nil || usage == nil {
			log.Debug().Err(err).Str("mountpoint", part.Mountpoint).Msg("Skipping unreadable partition")
			continue
		}
		disks = append(disks, Disk{
			Device:       part.Device,
			Mountpoint:   part.Mountpoint,
			Fstype:       part.Fstype,
			Total:        toGB(usage.Total),
			Used:         toGB(usage.Used),
			UsagePercent: hostmetrics.Round(usage.UsedPercent, 1),
		})
	}
	return disks
}

func (d *Describer) describeGPU() GPU {
	if d.gpu == nil || d.gpu.State() != gpu.StateAvailable {
		return GPU{Model: "Unknown", Available: false}
	}
	return GPU{Model: d.gpu.Model(), Available: true}
}

func describeNetwork(ctx context.Context) []Interface {
	ifaces := []Interface{}
	stats, err := netInterfaces(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to list network interfaces")
		return ifaces
	}
	for _, iface := range stats {
		if iface.Name == "lo" || hasOpt(iface.Flags, "loopback") {
			continue
		}
		addrs := []string{}
		for _, addr := range iface.Addrs {
			if ip := ipv4(addr.Addr); ip != "" {
				addrs = append(addrs, ip)
			}
		}
		ifaces = append(ifaces, Interface{Name: iface.Name, Addresses: addrs})
	}
	return ifaces
}

// ipv4 strips the prefix length from a CIDR address and drops non-IPv4 addresses.
func ipv4(addr string) string {
	host := addr
	if ip, _, err := net.ParseCIDR(addr); err == nil {
		host = ip.String()
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return ""
	}
	return ip.To4().String()
}

func toGB(b uint64) float64 {
	return hostmetrics.Round(float64(b)/bytesPerGB, 2)
}
