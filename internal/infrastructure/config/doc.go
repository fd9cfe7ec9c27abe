// Package config provides 12-factor configuration for the launcher process.
//
// Settings are loaded from environment variables with sensible defaults.
// They cover how the launcher runs, never what it measures.
//
// Configuration Sections:
//   - Logging: Log level and output format
//   - Metrics: Prometheus endpoint and worker textfile
//   - Run: Kill file, progress interval, cache flush size
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	kill := barrier.NewKillSwitch(cfg.Run.KillFile, logger)
//
// Environment Variables:
//   - MICROLAUNCHER_LOG_LEVEL, MICROLAUNCHER_LOG_DEV
//   - MICROLAUNCHER_METRICS_ADDR, MICROLAUNCHER_METRICS_TEXTFILE
//   - MICROLAUNCHER_KILL_FILE, MICROLAUNCHER_PROGRESS_INTERVAL, MICROLAUNCHER_FLUSH_SIZE
package config
