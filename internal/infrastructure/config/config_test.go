package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Metrics config
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Metrics.Textfile)

	// Run config
	assert.Equal(t, "/tmp/microlauncher.kill", cfg.Run.KillFile)
	assert.Equal(t, 10*time.Second, cfg.Run.ProgressInterval)
	assert.Equal(t, 32<<20, cfg.Run.FlushSize)
}

func TestLoadMatchesDefault(t *testing.T) {
	// Should equal the defaults when no env vars are set
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"MICROLAUNCHER_LOG_LEVEL":         "debug",
		"MICROLAUNCHER_LOG_DEV":           "true",
		"MICROLAUNCHER_METRICS_ADDR":      ":9100",
		"MICROLAUNCHER_METRICS_TEXTFILE":  "/var/lib/node_exporter/microlauncher.prom",
		"MICROLAUNCHER_KILL_FILE":         "/run/stop-bench",
		"MICROLAUNCHER_PROGRESS_INTERVAL": "1m30s",
		"MICROLAUNCHER_FLUSH_SIZE":        "1048576",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "/var/lib/node_exporter/microlauncher.prom", cfg.Metrics.Textfile)
	assert.Equal(t, "/run/stop-bench", cfg.Run.KillFile)
	assert.Equal(t, 90*time.Second, cfg.Run.ProgressInterval)
	assert.Equal(t, 1<<20, cfg.Run.FlushSize)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("MICROLAUNCHER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Verify overridden values
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Verify default values still apply
	assert.Equal(t, "/tmp/microlauncher.kill", cfg.Run.KillFile)
	assert.Equal(t, 10*time.Second, cfg.Run.ProgressInterval)
}

func TestLoadOrDefaultOnInvalidValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad duration", key: "MICROLAUNCHER_PROGRESS_INTERVAL", value: "soon"},
		{name: "bad integer", key: "MICROLAUNCHER_FLUSH_SIZE", value: "big"},
		{name: "bad boolean", key: "MICROLAUNCHER_LOG_DEV", value: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}
