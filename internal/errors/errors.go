package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrUnsupported         = errors.New("unsupported on this platform")
	ErrSensorNotFound      = errors.New("sensor not found")
	ErrGPUDisabled         = errors.New("gpu sampling disabled")
	ErrSnapshotUnavailable = errors.New("snapshot not available")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

// SensorError is a structured error for a single sensor read.
type SensorError struct {
	Sensor    string // Metric source that failed (e.g., "cpu", "battery")
	Op        string // Operation that failed (e.g., "read_counters")
	Err       error  // Underlying error
	Permanent bool   // True when the capability will not be retried
	Timestamp time.Time
}

func (e *SensorError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s failed: %v", e.Sensor, e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Sensor, e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *SensorError) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == ErrGPUDisabled {
		return e.Permanent && e.Sensor == "gpu"
	}
	return errors.Is(e.Err, target)
}

// NewSensorError creates a new transient SensorError
func NewSensorError(sensor, op string, err error) *SensorError {
	return &SensorError{
		Sensor:    sensor,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// AsPermanent marks the error as a permanent capability loss.
func (e *SensorError) AsPermanent() *SensorError {
	e.Permanent = true
	return e
}

// IsPermanent reports whether err describes a capability that will not be retried.
func IsPermanent(err error) bool {
	var sensorErr *SensorError
	if errors.As(err, &sensorErr) {
		return sensorErr.Permanent
	}
	return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrGPUDisabled)
}

// SensorName extracts the sensor name from err, or "" when err is not a SensorError.
func SensorName(err error) string {
	var sensorErr *SensorError
	if errors.As(err, &sensorErr) {
		return sensorErr.Sensor
	}
	return ""
}
