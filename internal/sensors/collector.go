package sensors

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	lookPath               = exec.LookPath
	rpiThermalZoneTempPath = "/sys/class/thermal/thermal_zone0/temp"
)

// CollectLocal reads sensor data from the local machine using lm-sensors.
// Returns the raw JSON output from `sensors -j` or an error if sensors is not available.
func CollectLocal(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := lookPath("sensors"); err != nil {
		return "", fmt.Errorf("lm-sensors not installed: %w", err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// sensors exits non-zero when optional subfeatures fail; "|| true" keeps the JSON for parsing
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", "sensors -j 2>/dev/null || true")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to execute sensors: %w", err)
	}

	outputStr := strings.TrimSpace(string(output))
	if outputStr == "" || outputStr == "{}" {
		if thermal, ok := readThermalZone(); ok {
			return thermal, nil
		}
		return "", fmt.Errorf("sensors returned empty output")
	}

	return outputStr, nil
}

// readThermalZone renders the first thermal zone as pseudo lm-sensors JSON.
func readThermalZone() (string, bool) {
	raw, err := os.ReadFile(rpiThermalZoneTempPath)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", false
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return "", false
	}
	return fmt.Sprintf(`{"cpu_thermal-virtual-0":{"temp1":{"temp1_input":%s}}}`, value), true
}
