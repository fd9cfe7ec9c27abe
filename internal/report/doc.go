// Package report writes measurement results as CSV, optionally compressed
// with gzip or zstd. Each printing worker owns one file.
package report
