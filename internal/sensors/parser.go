package sensors

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ChipReading is the representative temperature of one sensor chip.
type ChipReading struct {
	Chip        string  // Chip family, e.g. "coretemp", "k10temp"
	Temperature float64 // Degrees Celsius
}

// ParseChips extracts one temperature per chip family from `sensors -j` output.
// Chip names such as "coretemp-isa-0000" are reduced to their family ("coretemp").
// Package-level readings (Package id, Tctl, Tdie) win over per-core readings.
func ParseChips(jsonStr string) (map[string]ChipReading, error) {
	if strings.TrimSpace(jsonStr) == "" {
		return nil, fmt.Errorf("empty sensors output")
	}

	var sensorsData map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &sensorsData); err != nil {
		return nil, fmt.Errorf("failed to parse sensors JSON: %w", err)
	}

	chips := make(map[string]ChipReading, len(sensorsData))
	for chipName, chipData := range sensorsData {
		chipMap, ok := chipData.(map[string]interface{})
		if !ok {
			continue
		}
		family := chipFamily(chipName)
		if _, seen := chips[family]; seen {
			continue
		}
		if temp, ok := representativeTemp(chipMap); ok {
			chips[family] = ChipReading{Chip: family, Temperature: temp}
		}
	}
	return chips, nil
}

func chipFamily(chipName string) string {
	name := strings.ToLower(strings.TrimSpace(chipName))
	if idx := strings.Index(name, "-"); idx > 0 {
		return name[:idx]
	}
	return name
}

func representativeTemp(chipMap map[string]interface{}) (float64, bool) {
	names := make([]string, 0, len(chipMap))
	for name := range chipMap {
		names = append(names, name)
	}
	sort.Strings(names)

	fallback := math.NaN()
	for _, sensorName := range names {
		sensorMap, ok := chipMap[sensorName].(map[string]interface{})
		if !ok {
			continue
		}
		tempVal := extractTempInput(sensorMap)
		if math.IsNaN(tempVal) {
			continue
		}
		if isPackageSensor(sensorName) {
			return tempVal, true
		}
		if math.IsNaN(fallback) {
			fallback = tempVal
		}
	}
	if math.IsNaN(fallback) {
		return 0, false
	}
	return fallback, true
}

func isPackageSensor(sensorName string) bool {
	lower := strings.ToLower(sensorName)
	return strings.Contains(lower, "package id") ||
		strings.Contains(lower, "tdie") ||
		strings.Contains(lower, "tctl")
}

func extractTempInput(sensorMap map[string]interface{}) float64 {
	for key, value := range sensorMap {
		if !strings.HasPrefix(key, "temp") || !strings.HasSuffix(key, "_input") {
			continue
		}
		switch v := value.(type) {
		case float64:
			return normalizeMilli(v)
		case string:
			var parsed float64
			if _, err := fmt.Sscanf(v, "%f", &parsed); err == nil {
				return normalizeMilli(parsed)
			}
		}
	}
	return math.NaN()
}

// normalizeMilli converts thermal_zone style millidegrees to degrees.
func normalizeMilli(v float64) float64 {
	if v >= 1000 || v <= -1000 {
		return v / 1000.0
	}
	return v
}
