package gpu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
)

const defaultDRMRoot = "/sys/class/drm"

var vendorNames = map[string]string{
	"0x1002": "AMD",
	"0x8086": "Intel",
	"0x10de": "NVIDIA",
}

// DRMProbe samples adapters exposing gpu_busy_percent under /sys/class/drm
// (amdgpu, and newer Intel xe drivers).
type DRMProbe struct {
	Root string
}

func (p DRMProbe) root() string {
	if p.Root == "" {
		return defaultDRMRoot
	}
	return p.Root
}

func (DRMProbe) Name() string { return "drm" }

// Detect binds to the first cardN whose driver reports gpu_busy_percent.
func (p DRMProbe) Detect(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}

	cards, err := filepath.Glob(filepath.Join(p.root(), "card*"))
	if err != nil {
		return Device{}, err
	}
	sort.Strings(cards)
	for _, card := range cards {
		base := filepath.Base(card)
		// connectors look like card0-HDMI-A-1
		if strings.Contains(base, "-") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(base, "card"))
		if err != nil {
			continue
		}
		if _, err := os.Stat(busyPath(card)); err != nil {
			continue
		}
		return Device{Index: idx, Model: drmModel(filepath.Join(card, "device"))}, nil
	}
	return Device{}, hserrors.ErrSensorNotFound
}

func (p DRMProbe) Utilization(ctx context.Context, dev Device) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path := busyPath(filepath.Join(p.root(), fmt.Sprintf("card%d", dev.Index)))
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	util, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return util, nil
}

func busyPath(card string) string {
	return filepath.Join(card, "device", "gpu_busy_percent")
}

func drmModel(deviceDir string) string {
	if name := readTrimmed(filepath.Join(deviceDir, "product_name")); name != "" {
		return name
	}
	vendorID := strings.ToLower(readTrimmed(filepath.Join(deviceDir, "vendor")))
	deviceID := strings.ToLower(readTrimmed(filepath.Join(deviceDir, "device")))
	vendor, ok := vendorNames[vendorID]
	if !ok {
		vendor = "Unknown"
	}
	if deviceID == "" {
		return vendor + " Graphics"
	}
	return fmt.Sprintf("%s Graphics [%s]", vendor, deviceID)
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
