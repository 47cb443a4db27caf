// Package config loads framegate runtime configuration from an optional YAML
// file with environment-variable overrides. Environment always wins over the
// file; the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration.
type Config struct {
	Bus    BusConfig    `yaml:"bus"`
	Frame  FrameConfig  `yaml:"frame"`
	Perf   PerfConfig   `yaml:"perf"`
	Input  InputConfig  `yaml:"input"`
	Bridge BridgeConfig `yaml:"bridge"`
	Sync   SyncConfig   `yaml:"sync"`
}

// BusConfig tunes the event bus defaults.
type BusConfig struct {
	MaxHistory       int  `yaml:"max_history" env:"FRAMEGATE_BUS_MAX_HISTORY"`
	Async            bool `yaml:"async" env:"FRAMEGATE_BUS_ASYNC"`
	PriorityOrdering bool `yaml:"priority_ordering" env:"FRAMEGATE_BUS_PRIORITY_ORDERING"`
}

// FrameConfig tunes frame lifecycle defaults. Per-session settings live on
// the frame.Config passed to Create; these are the fallbacks.
type FrameConfig struct {
	LoadTimeout   time.Duration `yaml:"load_timeout" env:"FRAMEGATE_FRAME_LOAD_TIMEOUT"`
	RetryAttempts int           `yaml:"retry_attempts" env:"FRAMEGATE_FRAME_RETRY_ATTEMPTS"`
	LazyLoading   bool          `yaml:"lazy_loading" env:"FRAMEGATE_FRAME_LAZY_LOADING"`
	ResourceCache bool          `yaml:"resource_cache" env:"FRAMEGATE_FRAME_RESOURCE_CACHE"`
}

// PerfConfig tunes the performance monitor.
type PerfConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval" env:"FRAMEGATE_PERF_SAMPLE_INTERVAL"`
	MaxHistory     int           `yaml:"max_history" env:"FRAMEGATE_PERF_MAX_HISTORY"`

	LoadTimeThresholdMS float64 `yaml:"load_time_threshold_ms" env:"FRAMEGATE_PERF_LOAD_TIME_THRESHOLD_MS"`
	MemoryThresholdMB   float64 `yaml:"memory_threshold_mb" env:"FRAMEGATE_PERF_MEMORY_THRESHOLD_MB"`
	CPUThresholdPct     float64 `yaml:"cpu_threshold_pct" env:"FRAMEGATE_PERF_CPU_THRESHOLD_PCT"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold" env:"FRAMEGATE_PERF_ERROR_RATE_THRESHOLD"`
}

// InputConfig tunes keyboard and focus coordination.
type InputConfig struct {
	SequenceTimeout   time.Duration `yaml:"sequence_timeout" env:"FRAMEGATE_INPUT_SEQUENCE_TIMEOUT"`
	FocusPollInterval time.Duration `yaml:"focus_poll_interval" env:"FRAMEGATE_INPUT_FOCUS_POLL_INTERVAL"`
}

// BridgeConfig tunes the cross-boundary transport.
type BridgeConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins" env:"FRAMEGATE_BRIDGE_ALLOWED_ORIGINS" envSeparator:","`
	MessageTimeout time.Duration `yaml:"message_timeout" env:"FRAMEGATE_BRIDGE_MESSAGE_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"FRAMEGATE_BRIDGE_MAX_RETRIES"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" env:"FRAMEGATE_BRIDGE_RETRY_BACKOFF"`
}

// SyncConfig tunes the offline sync engine.
type SyncConfig struct {
	DBPath       string        `yaml:"db_path" env:"FRAMEGATE_SYNC_DB_PATH"`
	BatchSize    int           `yaml:"batch_size" env:"FRAMEGATE_SYNC_BATCH_SIZE"`
	MaxRetries   int           `yaml:"max_retries" env:"FRAMEGATE_SYNC_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"FRAMEGATE_SYNC_RETRY_BACKOFF"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			MaxHistory:       1000,
			Async:            false,
			PriorityOrdering: true,
		},
		Frame: FrameConfig{
			LoadTimeout:   30 * time.Second,
			RetryAttempts: 3,
			LazyLoading:   false,
			ResourceCache: false,
		},
		Perf: PerfConfig{
			SampleInterval:      time.Second,
			MaxHistory:          100,
			LoadTimeThresholdMS: 5000,
			MemoryThresholdMB:   512,
			CPUThresholdPct:     80,
			ErrorRateThreshold:  10,
		},
		Input: InputConfig{
			SequenceTimeout:   time.Second,
			FocusPollInterval: 100 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			MessageTimeout: 5 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
		},
		Sync: SyncConfig{
			DBPath:       "framegate-sync.db",
			BatchSize:    50,
			MaxRetries:   5,
			RetryBackoff: time.Second,
		},
	}
}

// Load reads configuration from an optional YAML file and applies environment
// overrides. An empty path or a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Bus.MaxHistory <= 0 {
		return fmt.Errorf("bus.max_history must be positive, got %d", c.Bus.MaxHistory)
	}
	if c.Frame.RetryAttempts < 0 {
		return fmt.Errorf("frame.retry_attempts must not be negative, got %d", c.Frame.RetryAttempts)
	}
	if c.Perf.SampleInterval <= 0 {
		return fmt.Errorf("perf.sample_interval must be positive, got %s", c.Perf.SampleInterval)
	}
	if c.Input.FocusPollInterval <= 0 {
		return fmt.Errorf("input.focus_poll_interval must be positive, got %s", c.Input.FocusPollInterval)
	}
	return nil
}
