package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rcourtman/pulse-hoststat/internal/api"
	"github.com/rcourtman/pulse-hoststat/internal/config"
	"github.com/rcourtman/pulse-hoststat/internal/gpu"
	"github.com/rcourtman/pulse-hoststat/internal/hardware"
	"github.com/rcourtman/pulse-hoststat/internal/hostmetrics"
	"github.com/rcourtman/pulse-hoststat/internal/logging"
	"github.com/rcourtman/pulse-hoststat/internal/metrics"
	"github.com/rcourtman/pulse-hoststat/internal/sampler"
	"github.com/rcourtman/pulse-hoststat/internal/sensors"
	"github.com/rcourtman/pulse-hoststat/internal/snapshot"
	"github.com/rcourtman/pulse-hoststat/internal/telemetry"
	"github.com/rcourtman/pulse-hoststat/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 5 * time.Second

var (
	osExit = os.Exit

	runFunc = run
)

type flagValues struct {
	configFile   string
	listen       string
	dataDir      string
	interval     time.Duration
	retention    time.Duration
	persistEvery int
	logLevel     string
	logFormat    string
	noGPU        bool
	noBattery    bool
}

func newRootCmd() *cobra.Command {
	var flags flagValues

	rootCmd := &cobra.Command{
		Use:           "pulse-hoststat",
		Short:         "Pulse host telemetry agent",
		Long:          `pulse-hoststat samples CPU, memory, GPU, network, load, temperature and battery readings once per interval and serves a rolling window of them over HTTP and WebSocket.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg, flags); err != nil {
				return err
			}
			return runFunc(cmd.Context(), cfg)
		},
	}

	f := rootCmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "YAML configuration file")
	f.StringVar(&flags.listen, "listen", "", "HTTP listen address (default 0.0.0.0:8000)")
	f.StringVar(&flags.dataDir, "data-dir", "", "Directory holding the snapshot file and .env")
	f.DurationVar(&flags.interval, "interval", 0, "Sampling interval (default 1s)")
	f.DurationVar(&flags.retention, "retention", 0, "Length of the rolling window (default 2m)")
	f.IntVar(&flags.persistEvery, "persist-every", 0, "Write the snapshot every N ticks (default 10)")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	f.StringVar(&flags.logFormat, "log-format", "", "Log format: auto, json, console")
	f.BoolVar(&flags.noGPU, "no-gpu", false, "Disable GPU sampling")
	f.BoolVar(&flags.noBattery, "no-battery", false, "Disable battery sampling")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pulse-hoststat %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

// applyFlags overlays explicitly set flags on the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags flagValues) error {
	changed := cmd.Flags().Changed

	if changed("listen") {
		cfg.ListenAddr = flags.listen
	}
	if changed("data-dir") {
		cfg.DataDir = flags.dataDir
	}
	if changed("interval") {
		cfg.Interval = flags.interval
	}
	if changed("retention") {
		cfg.Retention = flags.retention
	}
	if changed("persist-every") {
		cfg.PersistEvery = flags.persistEvery
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if flags.noGPU {
		cfg.GPUEnabled = false
	}
	if flags.noBattery {
		cfg.BatteryEnabled = false
	}
	return cfg.Validate()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		osExit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "pulse-hoststat",
	})

	log.Info().
		Str("version", Version).
		Str("listen", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Dur("interval", cfg.Interval).
		Dur("retention", cfg.Retention).
		Int("persist_every", cfg.PersistEvery).
		Bool("gpu", cfg.GPUEnabled).
		Msg("Starting Pulse host telemetry agent")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := telemetry.NewStore(cfg.Retention)

	monitor := gpu.NewMonitor(
		gpu.NvidiaProbe{Binary: cfg.NvidiaSMIPath},
		gpu.DRMProbe{Root: cfg.DRMRoot},
	)
	if cfg.GPUEnabled {
		state := monitor.Init(ctx)
		log.Info().Str("state", state.String()).Str("model", monitor.Model()).Msg("GPU probe finished")
	} else {
		monitor.Disable(errors.New("disabled by configuration"))
	}

	hwCache := hardware.NewCache(hardware.NewDescriber(monitor).WithDiskExclude(cfg.DiskExclude), cfg.Interval*time.Duration(cfg.PersistEvery))
	persister := snapshot.NewPersister(cfg.SnapshotPath(), store, hwCache)

	hub := websocket.NewHub(func() interface{} {
		return store.View(time.Now())
	})
	hub.OnClientsChanged(m.SetWSClients)

	temps := sensors.NewTemperatureReader(cfg.TemperaturePriority)
	log.Info().Strs("priority", temps.Priority()).Msg("Temperature sensor priority")

	opts := sampler.Options{
		Config: sampler.Config{
			Interval:     cfg.Interval,
			PersistEvery: cfg.PersistEvery,
		},
		Store:       store,
		System:      hostmetrics.System{},
		Temperature: temps,
		GPU:         monitor,
		Persister:   persister,
		Broadcaster: hub,
		Metrics:     m,
	}
	if cfg.BatteryEnabled {
		opts.Battery = sensors.NewBatteryReader(cfg.PowerSupplyRoot)
	}
	s, err := sampler.New(ctx, opts)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Store:        store,
		Hardware:     hwCache,
		SnapshotPath: cfg.SnapshotPath(),
		WebSocket:    http.HandlerFunc(hub.HandleWebSocket),
		GPU:          monitor,
		Metrics:      m,
		Gatherer:     reg,
	})

	// ReadHeaderTimeout rather than ReadTimeout: the deadline would otherwise
	// survive the websocket upgrade.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	watcher := config.NewWatcher(cfg.EnvFilePath(), cfg.LogLevel, func(level string) error {
		_, err := logging.SetLevel(level)
		return err
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Run(ctx)
	})

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("Config watcher stopped; .env changes will require restart")
		}
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				log.Info().Msg("Received SIGHUP, reloading .env")
				watcher.Reload()
			}
		}
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Agent stopped with error")
		return err
	}
	log.Info().Msg("Agent stopped")
	return nil
}
