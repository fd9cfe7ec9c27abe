// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON lines on stderr, suitable for collecting the logs of
//     long unattended runs
//   - Development: colored console output for interactive use
//
// Worker processes derive their logger with ForWorker. Only workers that are
// designated to print keep info-level output; the others are raised to warn
// so that a silent worker still explains a failure.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("barrier rounds planned", zap.Int("rounds", rounds))
//	wlog := logger.ForWorker(2, false)
package logging
