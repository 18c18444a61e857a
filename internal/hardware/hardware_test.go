package hardware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcourtman/pulse-hoststat/internal/gpu"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	godisk "github.com/shirou/gopsutil/v4/disk"
	gomem "github.com/shirou/gopsutil/v4/mem"
	gonet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGPU struct {
	state gpu.State
	model string
}

func (f fakeGPU) State() gpu.State { return f.state }
func (f fakeGPU) Model() string    { return f.model }

func stubSystem(t *testing.T) {
	t.Helper()
	origInfo, origCounts, origMem := cpuInfo, cpuCounts, virtualMemory
	origParts, origUsage, origNet := diskPartitions, diskUsage, netInterfaces
	origOS, origDmi := goos, runDmidecode
	t.Cleanup(func() {
		cpuInfo, cpuCounts, virtualMemory = origInfo, origCounts, origMem
		diskPartitions, diskUsage, netInterfaces = origParts, origUsage, origNet
		goos, runDmidecode = origOS, origDmi
	})

	cpuInfo = func(ctx context.Context) ([]gocpu.InfoStat, error) {
		return []gocpu.InfoStat{{ModelName: " AMD Ryzen 7 7840U "}}, nil
	}
	cpuCounts = func(ctx context.Context, logical bool) (int, error) {
		if logical {
			return 16, nil
		}
		return 8, nil
	}
	virtualMemory = func(ctx context.Context) (*gomem.VirtualMemoryStat, error) {
		return &gomem.VirtualMemoryStat{Total: 32 * bytesPerGB}, nil
	}
	diskPartitions = func(ctx context.Context, all bool) ([]godisk.PartitionStat, error) {
		return []godisk.PartitionStat{
			{Device: "/dev/nvme0n1p2", Mountpoint: "/", Fstype: "ext4", Opts: []string{"rw"}},
			{Device: "/dev/sr0", Mountpoint: "/media/cd", Fstype: "iso9660", Opts: []string{"ro", "cdrom"}},
			{Device: "none", Mountpoint: "/mnt/none", Fstype: ""},
			{Device: "/dev/sdb1", Mountpoint: "/data", Fstype: "xfs"},
		}, nil
	}
	diskUsage = func(ctx context.Context, path string) (*godisk.UsageStat, error) {
		if path == "/data" {
			return nil, errors.New("permission denied")
		}
		return &godisk.UsageStat{Total: 500 * bytesPerGB, Used: 125 * bytesPerGB, UsedPercent: 25.04}, nil
	}
	netInterfaces = func(ctx context.Context) (gonet.InterfaceStatList, error) {
		return gonet.InterfaceStatList{
			{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: gonet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			{Name: "eth0", Flags: []string{"up"}, Addrs: gonet.InterfaceAddrList{{Addr: "192.168.1.20/24"}, {Addr: "fe80::1/64"}}},
			{Name: "wlan0", Flags: []string{"up"}},
		}, nil
	}
	goos = "linux"
	runDmidecode = func(ctx context.Context) (string, error) {
		return "Memory Device\n\tSize: 16 GB\n\tManufacturer: Samsung\n\tPart Number: M425R2GA3BB0-CQKOL\n", nil
	}
}

func TestDescribe(t *testing.T) {
	stubSystem(t)

	info, err := NewDescriber(fakeGPU{state: gpu.StateAvailable, model: "Radeon 780M"}).Describe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CPU{Model: "AMD Ryzen 7 7840U", Cores: 16, PhysicalCores: 8}, info.CPU)
	assert.Equal(t, 32.0, info.Memory.Total)
	assert.Equal(t, "Manufacturer: Samsung\nPart Number: M425R2GA3BB0-CQKOL", info.Memory.Model)
	require.Len(t, info.Disks, 1)
	assert.Equal(t, Disk{
		Device:       "/dev/nvme0n1p2",
		Mountpoint:   "/",
		Fstype:       "ext4",
		Total:        500,
		Used:         125,
		UsagePercent: 25.0,
	}, info.Disks[0])
	assert.Equal(t, GPU{Model: "Radeon 780M", Available: true}, info.GPU)
	assert.Equal(t, []Interface{
		{Name: "eth0", Addresses: []string{"192.168.1.20"}},
		{Name: "wlan0", Addresses: []string{}},
	}, info.Network)
}

func TestDescribeDiskExclude(t *testing.T) {
	stubSystem(t)

	info, err := NewDescriber(nil).WithDiskExclude([]string{"/"}).Describe(context.Background())
	require.NoError(t, err)
	assert.Empty(t, info.Disks)
	assert.Equal(t, GPU{Model: "Unknown", Available: false}, info.GPU)
}

func TestDescribeFallbacks(t *testing.T) {
	stubSystem(t)
	cpuInfo = func(ctx context.Context) ([]gocpu.InfoStat, error) {
		return nil, errors.New("no cpuinfo")
	}
	runDmidecode = func(ctx context.Context) (string, error) {
		return "", errors.New("permission denied")
	}
	diskPartitions = func(ctx context.Context, all bool) ([]godisk.PartitionStat, error) {
		return nil, errors.New("boom")
	}

	info, err := NewDescriber(fakeGPU{state: gpu.StateDisabled}).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CPU (8 cores, 16 threads)", info.CPU.Model)
	assert.Equal(t, defaultMemoryModel, info.Memory.Model)
	assert.NotNil(t, info.Disks)
	assert.Empty(t, info.Disks)
	assert.Equal(t, GPU{Model: "Unknown", Available: false}, info.GPU)
}

func TestMemoryModelNonLinux(t *testing.T) {
	stubSystem(t)
	goos = "darwin"
	runDmidecode = func(ctx context.Context) (string, error) {
		t.Fatal("dmidecode must not run off Linux")
		return "", nil
	}

	info, err := NewDescriber(nil).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultMemoryModel, info.Memory.Model)
}

func TestParseMemoryModelTruncates(t *testing.T) {
	var out string
	for i := 0; i < 10; i++ {
		out += "\tManufacturer: Micron Technology\n"
	}
	assert.Len(t, parseMemoryModel(out), maxMemoryModelLen)
	assert.Equal(t, "", parseMemoryModel("Size: No Module Installed\n"))
}

type countingSource struct {
	calls int
	err   error
}

func (c *countingSource) Describe(ctx context.Context) (Info, error) {
	c.calls++
	if c.err != nil {
		return Info{}, c.err
	}
	return Info{CPU: CPU{Cores: c.calls}}, nil
}

func TestCacheTTL(t *testing.T) {
	src := &countingSource{}
	cache := NewCache(src, 10*time.Second)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	assert.Equal(t, 1, cache.Get(ctx).CPU.Cores)
	assert.Equal(t, 1, cache.Get(ctx).CPU.Cores)

	now = now.Add(10 * time.Second)
	assert.Equal(t, 2, cache.Get(ctx).CPU.Cores)

	assert.Equal(t, 3, cache.Refresh(ctx).CPU.Cores)
	assert.Equal(t, 3, src.calls)
}

func TestCacheKeepsPreviousOnFailure(t *testing.T) {
	src := &countingSource{}
	cache := NewCache(src, 0)
	ctx := context.Background()

	require.Equal(t, 1, cache.Get(ctx).CPU.Cores)
	src.err = errors.New("boom")
	assert.Equal(t, 1, cache.Refresh(ctx).CPU.Cores)
}
