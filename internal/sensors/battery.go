package sensors

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
)

// Battery seconds-left sentinels.
const (
	SecsLeftUnknown   int64 = -1
	SecsLeftUnlimited int64 = -2
)

// Battery describes the primary battery's charge state.
type Battery struct {
	Percent  float64 `json:"percent"`
	Plugged  bool    `json:"plugged"`
	SecsLeft int64   `json:"secsleft"`
}

// BatteryReader reads battery state from a Linux power_supply sysfs tree.
type BatteryReader struct {
	root string
}

// NewBatteryReader creates a reader rooted at the given power_supply directory.
// An empty root uses /sys/class/power_supply.
func NewBatteryReader(root string) *BatteryReader {
	if strings.TrimSpace(root) == "" {
		root = "/sys/class/power_supply"
	}
	return &BatteryReader{root: root}
}

// Battery returns the first battery found. Hosts without a power_supply tree
// report ErrUnsupported; hosts with the tree but no battery report ErrSensorNotFound.
func (r *BatteryReader) Battery(ctx context.Context) (Battery, error) {
	if err := ctx.Err(); err != nil {
		return Battery{}, err
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return Battery{}, hserrors.NewSensorError("battery", "list", hserrors.ErrUnsupported)
		}
		return Battery{}, hserrors.NewSensorError("battery", "list", err)
	}

	mainsOnline := false
	var batteryDir string
	for _, entry := range entries {
		dir := filepath.Join(r.root, entry.Name())
		switch strings.ToLower(readTrimmed(filepath.Join(dir, "type"))) {
		case "battery":
			if batteryDir == "" {
				batteryDir = dir
			}
		case "mains", "usb":
			if readTrimmed(filepath.Join(dir, "online")) == "1" {
				mainsOnline = true
			}
		}
	}
	if batteryDir == "" {
		return Battery{}, hserrors.NewSensorError("battery", "list", hserrors.ErrSensorNotFound)
	}

	capacity, err := readFloat(filepath.Join(batteryDir, "capacity"))
	if err != nil {
		return Battery{}, hserrors.NewSensorError("battery", "read_capacity", err)
	}

	status := strings.ToLower(readTrimmed(filepath.Join(batteryDir, "status")))
	plugged := mainsOnline || (status != "" && status != "discharging")

	batt := Battery{
		Percent:  capacity,
		Plugged:  plugged,
		SecsLeft: SecsLeftUnknown,
	}
	if plugged {
		batt.SecsLeft = SecsLeftUnlimited
	} else if secs, ok := secondsRemaining(batteryDir); ok {
		batt.SecsLeft = secs
	}
	return batt, nil
}

// secondsRemaining estimates discharge time from energy/power or charge/current pairs.
func secondsRemaining(dir string) (int64, bool) {
	pairs := [][2]string{
		{"energy_now", "power_now"},
		{"charge_now", "current_now"},
	}
	for _, pair := range pairs {
		stored, err := readFloat(filepath.Join(dir, pair[0]))
		if err != nil {
			continue
		}
		rate, err := readFloat(filepath.Join(dir, pair[1]))
		if err != nil || rate <= 0 {
			continue
		}
		return int64(stored / rate * 3600), true
	}
	return 0, false
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse %s: not a finite number", filepath.Base(path))
	}
	return v, nil
}
