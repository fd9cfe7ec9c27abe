package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the ambient settings of the launcher. Experiment parameters
// come from the experiment file and flags, not from here.
type Config struct {
	Logging LogConfig
	Metrics MetricsConfig
	Run     RunConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"MICROLAUNCHER_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"MICROLAUNCHER_LOG_DEV" default:"false"`
}

// MetricsConfig holds metrics export configuration. Both outputs are off
// when empty.
type MetricsConfig struct {
	// Addr is where the orchestrator serves /metrics.
	Addr string `envconfig:"MICROLAUNCHER_METRICS_ADDR" default:""`
	// Textfile is the file worker 0 writes its metrics to on exit.
	Textfile string `envconfig:"MICROLAUNCHER_METRICS_TEXTFILE" default:""`
}

// RunConfig holds process-level run settings.
type RunConfig struct {
	KillFile         string        `envconfig:"MICROLAUNCHER_KILL_FILE" default:"/tmp/microlauncher.kill"`
	ProgressInterval time.Duration `envconfig:"MICROLAUNCHER_PROGRESS_INTERVAL" default:"10s"`
	FlushSize        int           `envconfig:"MICROLAUNCHER_FLUSH_SIZE" default:"33554432"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Run: RunConfig{
			KillFile:         "/tmp/microlauncher.kill",
			ProgressInterval: 10 * time.Second,
			FlushSize:        32 << 20,
		},
	}
}
