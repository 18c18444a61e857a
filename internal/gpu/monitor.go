package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	"github.com/rcourtman/pulse-hoststat/internal/hostmetrics"
	"github.com/rs/zerolog/log"
)

// State is the GPU availability flag.
type State int

const (
	StateProbing State = iota
	StateAvailable
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateAvailable:
		return "available"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Device identifies the adapter a probe bound to.
type Device struct {
	Model string
	Index int
}

// Probe is one way of finding and sampling a GPU.
type Probe interface {
	Name() string
	// Detect returns the first usable device, or an error when the probe finds none.
	Detect(ctx context.Context) (Device, error)
	// Utilization returns the busy percentage of the detected device.
	Utilization(ctx context.Context, dev Device) (float64, error)
}

// Monitor owns the GPU availability flag. Once disabled it never probes again.
type Monitor struct {
	probes []Probe

	mu     sync.Mutex
	state  State
	active Probe
	device Device
	reason error
}

// NewMonitor creates a monitor that tries the probes in order.
func NewMonitor(probes ...Probe) *Monitor {
	return &Monitor{probes: probes}
}

// Init probes for a device. It is a no-op unless the monitor is still probing.
// When no probe finds a device the monitor is disabled for good.
func (m *Monitor) Init(ctx context.Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initLocked(ctx)
	return m.state
}

func (m *Monitor) initLocked(ctx context.Context) {
	if m.state != StateProbing {
		return
	}

	var errs []error
	for _, probe := range m.probes {
		dev, err := probe.Detect(ctx)
		if err != nil {
			log.Debug().Err(err).Str("probe", probe.Name()).Msg("GPU probe found no device")
			errs = append(errs, fmt.Errorf("%s: %w", probe.Name(), err))
			continue
		}
		m.state = StateAvailable
		m.active = probe
		m.device = dev
		log.Info().Str("probe", probe.Name()).Str("model", dev.Model).Msg("GPU sampling enabled")
		return
	}

	reason := errors.Join(errs...)
	if reason == nil {
		reason = hserrors.ErrSensorNotFound
	}
	m.disableLocked(reason)
	log.Info().Err(reason).Msg("No GPU detected; GPU sampling disabled")
}

// Sample reads utilisation from the bound device. The first failure disables
// the monitor permanently and is logged once at warn level.
func (m *Monitor) Sample(ctx context.Context) hostmetrics.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initLocked(ctx)
	if m.state != StateAvailable {
		return hostmetrics.Reading{Err: m.disabledErr()}
	}

	util, err := m.active.Utilization(ctx, m.device)
	if err != nil {
		name := m.active.Name()
		m.disableLocked(err)
		log.Warn().Err(err).Str("probe", name).Msg("GPU sampling failed; disabled for the rest of the process")
		return hostmetrics.Reading{Err: m.disabledErr()}
	}
	return hostmetrics.Value(hostmetrics.Round(clamp(util), 1))
}

// Disable turns GPU sampling off for the rest of the process.
func (m *Monitor) Disable(reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableLocked(reason)
}

func (m *Monitor) disableLocked(reason error) {
	if m.state == StateDisabled {
		return
	}
	m.state = StateDisabled
	m.active = nil
	m.reason = reason
}

func (m *Monitor) disabledErr() error {
	err := hserrors.NewSensorError("gpu", "sample", hserrors.ErrGPUDisabled).AsPermanent()
	if m.reason != nil {
		err.Err = fmt.Errorf("%w: %v", hserrors.ErrGPUDisabled, m.reason)
	}
	return err
}

// State returns the current availability flag.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Model returns the bound device model, or "" when no device is bound.
func (m *Monitor) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAvailable {
		return ""
	}
	return m.device.Model
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
