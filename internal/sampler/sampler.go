// Package sampler runs the once-per-interval collection loop that feeds the
// telemetry store.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	"github.com/rcourtman/pulse-hoststat/internal/gpu"
	"github.com/rcourtman/pulse-hoststat/internal/hostmetrics"
	"github.com/rcourtman/pulse-hoststat/internal/metrics"
	"github.com/rcourtman/pulse-hoststat/internal/sensors"
	"github.com/rcourtman/pulse-hoststat/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval     = time.Second
	DefaultPersistEvery = 10
)

// SystemSource reads the always-present host metrics.
type SystemSource interface {
	CPUPercent(ctx context.Context) hostmetrics.Reading
	PerCorePercent(ctx context.Context) ([]float64, error)
	MemoryPercent(ctx context.Context) hostmetrics.Reading
	NetCounters(ctx context.Context) (hostmetrics.NetCounters, error)
	LoadAverage(ctx context.Context) hostmetrics.Reading
	ProcessCount(ctx context.Context) hostmetrics.Reading
	BootTime(ctx context.Context) hostmetrics.Reading
}

type TemperatureSource interface {
	CPUTemperature(ctx context.Context) hostmetrics.Reading
}

type BatterySource interface {
	Battery(ctx context.Context) (sensors.Battery, error)
}

type GPUSource interface {
	Sample(ctx context.Context) hostmetrics.Reading
	State() gpu.State
}

type Persister interface {
	Persist(ctx context.Context, now time.Time) error
}

type Broadcaster interface {
	BroadcastRealtime(data interface{})
}

// Config controls the loop cadence.
type Config struct {
	Interval     time.Duration
	PersistEvery int
}

// Options wires a Sampler. Store and System are required; every other
// collaborator is optional.
type Options struct {
	Config      Config
	Store       *telemetry.Store
	System      SystemSource
	Temperature TemperatureSource
	Battery     BatterySource
	GPU         GPUSource
	Persister   Persister
	Broadcaster Broadcaster
	Metrics     *metrics.Metrics
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// Sampler is the single writer of the telemetry store.
type Sampler struct {
	cfg         Config
	store       *telemetry.Store
	system      SystemSource
	temperature TemperatureSource
	battery     BatterySource
	gpu         GPUSource
	persister   Persister
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	now     func() time.Time
	tracker *hostmetrics.CounterTracker

	ticksSincePersist int
	bootTimeKnown     bool
}

// tickReadings is everything read from the OS during one tick, gathered
// before the store lock is taken.
type tickReadings struct {
	cpu      hostmetrics.Reading
	cores    []float64
	coresErr error
	mem      hostmetrics.Reading
	gpu      hostmetrics.Reading
	netOK    bool
	upload   float64
	download float64
	load     hostmetrics.Reading
	procs    hostmetrics.Reading
	battery  *sensors.Battery
	temp     hostmetrics.Reading
	boot     *hostmetrics.Reading
}

// New creates a sampler. The network counter baseline is read immediately so
// the first tick already yields a rate.
func New(ctx context.Context, opts Options) (*Sampler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sampler: store is required")
	}
	if opts.System == nil {
		return nil, fmt.Errorf("sampler: system source is required")
	}

	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = DefaultPersistEvery
	}

	logger := log.With().Str("component", "sampler").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Sampler{
		cfg:         cfg,
		store:       opts.Store,
		system:      opts.System,
		temperature: opts.Temperature,
		battery:     opts.Battery,
		gpu:         opts.GPU,
		persister:   opts.Persister,
		broadcaster: opts.Broadcaster,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if counters, err := s.system.NetCounters(ctx); err == nil {
		s.tracker = hostmetrics.NewCounterTracker(counters.BytesSent, counters.BytesRecv, s.now())
	} else {
		s.logger.Debug().Err(err).Msg("Network counters unavailable at start; rates begin on first successful read")
	}
	return s, nil
}

// Run persists an initial snapshot, then ticks until ctx is cancelled. The
// next tick starts Interval after the previous one finished; drift is not
// compensated.
func (s *Sampler) Run(ctx context.Context) error {
	if s.persister != nil {
		s.persist(ctx, s.now())
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		s.Tick(ctx, s.now())
		timer.Reset(s.cfg.Interval)
	}
}

// Tick performs one sampling pass stamped with now.
func (s *Sampler) Tick(ctx context.Context, now time.Time) {
	started := time.Now()

	r := s.collect(ctx, now)
	s.store.Apply(now, func(tx *telemetry.Tx) {
		if r.cpu.Available() {
			tx.Append(telemetry.CPUUsage, hostmetrics.Round(r.cpu.Value, 1))
		}
		if r.mem.Available() {
			tx.Append(telemetry.MemUsage, r.mem.Value)
		}
		if r.coresErr == nil {
			tx.SetCPUCores(r.cores)
		}
		// GPU utilisation is always recorded; 0 when no device is usable.
		gpuValue := 0.0
		if r.gpu.Available() {
			gpuValue = r.gpu.Value
		}
		tx.Append(telemetry.GPUUsage, gpuValue)
		if r.netOK {
			tx.Append(telemetry.NetUploadSpeed, r.upload)
			tx.Append(telemetry.NetDownloadSpeed, r.download)
		}
		if r.load.Available() {
			tx.Append(telemetry.SystemLoad, r.load.Value)
		}
		if r.procs.Available() {
			tx.Append(telemetry.ProcessCount, r.procs.Value)
		}
		if r.battery != nil {
			tx.SetBattery(*r.battery)
		}
		if r.temp.Available() {
			tx.Append(telemetry.CPUTemperature, r.temp.Value)
		}
		if r.boot != nil && r.boot.Available() {
			tx.SetBootTime(r.boot.Value)
		}
	})
	if r.boot != nil && r.boot.Available() {
		s.bootTimeKnown = true
	}

	s.ticksSincePersist++
	if s.ticksSincePersist >= s.cfg.PersistEvery {
		s.ticksSincePersist = 0
		s.persist(ctx, now)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastRealtime(s.store.View(now))
	}
	s.recordTick(time.Since(started))
}

func (s *Sampler) collect(ctx context.Context, now time.Time) tickReadings {
	var r tickReadings

	r.cpu = s.system.CPUPercent(ctx)
	s.observe(r.cpu)

	r.cores, r.coresErr = s.system.PerCorePercent(ctx)
	s.observeErr(r.coresErr)

	r.mem = s.system.MemoryPercent(ctx)
	s.observe(r.mem)

	if s.gpu != nil {
		r.gpu = s.gpu.Sample(ctx)
		s.observe(r.gpu)
	} else {
		r.gpu = hostmetrics.Reading{Err: hserrors.ErrGPUDisabled}
	}

	counters, err := s.system.NetCounters(ctx)
	s.observeErr(err)
	if err == nil {
		r.netOK = true
		if s.tracker == nil {
			s.tracker = hostmetrics.NewCounterTracker(counters.BytesSent, counters.BytesRecv, now)
		} else {
			r.upload, r.download = s.tracker.Rate(counters.BytesSent, counters.BytesRecv, now)
		}
	}

	r.load = s.system.LoadAverage(ctx)
	s.observe(r.load)

	r.procs = s.system.ProcessCount(ctx)
	s.observe(r.procs)

	if s.battery != nil {
		batt, err := s.battery.Battery(ctx)
		s.observeErr(err)
		if err == nil {
			r.battery = &batt
		}
	}

	if s.temperature != nil {
		r.temp = s.temperature.CPUTemperature(ctx)
		s.observe(r.temp)
	} else {
		r.temp = hostmetrics.Reading{Err: hserrors.ErrUnsupported}
	}

	if !s.bootTimeKnown {
		boot := s.system.BootTime(ctx)
		s.observe(boot)
		r.boot = &boot
	}
	return r
}

func (s *Sampler) observe(r hostmetrics.Reading) {
	s.observeErr(r.Err)
}

// observeErr logs and counts transient sensor failures. Permanent ones (no
// battery on a desktop, GPU disabled) are expected and stay quiet.
func (s *Sampler) observeErr(err error) {
	if err == nil || hserrors.IsPermanent(err) || errors.Is(err, hserrors.ErrUnsupported) {
		return
	}
	if errors.Is(err, hserrors.ErrSensorNotFound) {
		s.logger.Trace().Err(err).Msg("Sensor not present")
		return
	}
	s.logger.Debug().Err(err).Msg("Sensor read failed")
	s.metrics.RecordSensorFailure(hserrors.SensorName(err))
}

func (s *Sampler) persist(ctx context.Context, now time.Time) {
	if s.persister == nil {
		return
	}
	err := s.persister.Persist(ctx, now)
	s.metrics.RecordPersist(err)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist snapshot")
	}
}

func (s *Sampler) recordTick(elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	latest := make(map[string]float64, len(telemetry.SeriesNames))
	for _, name := range telemetry.SeriesNames {
		latest[name] = s.store.Latest(name)
	}
	s.metrics.RecordTick(elapsed, latest)
	if s.gpu != nil {
		s.metrics.SetGPUState(int(s.gpu.State()))
	}
}
