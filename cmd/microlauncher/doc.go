// Package main is the entry point of the microlauncher benchmark launcher.
//
// The launcher times a kernel function from a Go plugin (or a standalone
// executable) over a sweep of vector sizes and buffer alignments, in several
// worker processes that enter every measured pass together.
//
// Architecture:
//
//	microlauncher run → orchestrator → worker 0 (results, checkpoint)
//	                                 → worker 1..n-1
//
// Configuration:
//   - Experiment file (YAML or TOML)
//   - CLI flags (override file values)
//   - Environment variables for logging, metrics and run settings
//
// Usage:
//
//	# Run an experiment
//	./microlauncher run experiment.yaml
//
//	# Four workers, each printing its own results
//	./microlauncher run experiment.yaml --processes 4 --all-print-out
//
//	# Continue an interrupted run
//	./microlauncher run --resume --checkpoint-dir ./ckpt
//
// Workers are started by the launcher itself through the hidden worker
// command and are not meant to be run by hand.
package main
