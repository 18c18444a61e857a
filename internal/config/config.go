package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	"github.com/rcourtman/pulse-hoststat/internal/utils"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the agent reads.
const EnvPrefix = "HOSTSTAT_"

// Config holds the agent settings.
type Config struct {
	ListenAddr          string        `yaml:"listen_addr"`
	DataDir             string        `yaml:"data_dir"`
	SnapshotFile        string        `yaml:"snapshot_file"`
	Interval            time.Duration `yaml:"interval"`
	Retention           time.Duration `yaml:"retention"`
	PersistEvery        int           `yaml:"persist_every"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
	GPUEnabled          bool          `yaml:"gpu_enabled"`
	BatteryEnabled      bool          `yaml:"battery_enabled"`
	TemperaturePriority []string      `yaml:"temperature_priority"`
	PowerSupplyRoot     string        `yaml:"power_supply_root"`
	DRMRoot             string        `yaml:"drm_root"`
	NvidiaSMIPath       string        `yaml:"nvidia_smi_path"`
	DiskExclude         []string      `yaml:"disk_exclude"`

	// ConfigFile is the YAML file the settings were read from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ListenAddr:          "0.0.0.0:8000",
		DataDir:             ".",
		SnapshotFile:        "tmp.json",
		Interval:            time.Second,
		Retention:           120 * time.Second,
		PersistEvery:        10,
		LogLevel:            "info",
		LogFormat:           "auto",
		GPUEnabled:          true,
		BatteryEnabled:      true,
		TemperaturePriority: []string{"coretemp", "acpitz", "k10temp"},
		PowerSupplyRoot:     "/sys/class/power_supply",
		DRMRoot:             "/sys/class/drm",
		NvidiaSMIPath:       "nvidia-smi",
	}
}

// SnapshotPath returns the snapshot file location, resolved against DataDir.
func (c *Config) SnapshotPath() string {
	if filepath.IsAbs(c.SnapshotFile) {
		return c.SnapshotFile
	}
	return filepath.Join(c.DataDir, c.SnapshotFile)
}

// EnvFilePath returns the .env file watched for runtime changes.
func (c *Config) EnvFilePath() string {
	return filepath.Join(c.DataDir, ".env")
}

// Load builds the configuration from, lowest precedence first: defaults, the
// optional YAML file, the .env file in the data dir, and the process
// environment. Command-line flags are applied by the caller afterwards.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile = strings.TrimSpace(configFile); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", hserrors.ErrInvalidConfig, configFile, err)
		}
		cfg.ConfigFile = configFile
	}

	// the data dir decides where .env lives, so it is resolved first
	if dir := utils.GetenvTrim(EnvPrefix + "DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	dotenv, err := godotenv.Read(cfg.EnvFilePath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", cfg.EnvFilePath(), err)
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v), true
		}
		v, ok := dotenv[key]
		return strings.TrimSpace(v), ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %v", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
	boolean := func(name string, dst *bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		b, valid := utils.ParseBool(v)
		if !valid {
			errs = append(errs, fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, name, v))
			return
		}
		*dst = b
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("DATA_DIR", &c.DataDir)
	str("SNAPSHOT_FILE", &c.SnapshotFile)
	dur("INTERVAL", &c.Interval)
	dur("RETENTION", &c.Retention)
	if v, ok := lookup(EnvPrefix + "PERSIST_EVERY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPERSIST_EVERY: %v", EnvPrefix, err))
		} else {
			c.PersistEvery = n
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	boolean("GPU_ENABLED", &c.GPUEnabled)
	boolean("BATTERY_ENABLED", &c.BatteryEnabled)
	if v, ok := lookup(EnvPrefix + "TEMPERATURE_PRIORITY"); ok && v != "" {
		c.TemperaturePriority = utils.SplitList(v)
	}
	str("POWER_SUPPLY_ROOT", &c.PowerSupplyRoot)
	str("DRM_ROOT", &c.DRMRoot)
	str("NVIDIA_SMI", &c.NvidiaSMIPath)
	if v, ok := lookup(EnvPrefix + "DISK_EXCLUDE"); ok && v != "" {
		c.DiskExclude = utils.SplitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", hserrors.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ListenAddr) == "" {
		problems = append(problems, "listen address is empty")
	}
	if c.Interval <= 0 {
		problems = append(problems, fmt.Sprintf("interval must be positive, got %s", c.Interval))
	}
	if c.Retention <= 0 {
		problems = append(problems, fmt.Sprintf("retention must be positive, got %s", c.Retention))
	}
	if c.Retention > 0 && c.Interval > c.Retention {
		problems = append(problems, fmt.Sprintf("interval %s exceeds retention %s", c.Interval, c.Retention))
	}
	if c.PersistEvery < 1 {
		problems = append(problems, fmt.Sprintf("persist_every must be at least 1, got %d", c.PersistEvery))
	}
	if strings.TrimSpace(c.SnapshotFile) == "" {
		problems = append(problems, "snapshot file is empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", hserrors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
