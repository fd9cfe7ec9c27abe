/*
Package monitoring provides launcher metrics.

# Overview

This package implements Prometheus-based metrics for a benchmark run. Each
Metrics value owns its registry, so the orchestrator and a worker never share
collectors.

# Features

- Barrier progress (planned and completed rounds)
- Worker lifecycle (live workers, exits by status, fatal notifications)
- Measurement quality (steps, noise retries, flagged samples, step duration)
- Uptime

# Usage

	metrics := monitoring.NewMetrics()
	metrics.PlanRounds(rounds)

	// Time an alignment step
	timer := monitoring.NewTimer(metrics)
	// ... measure ...
	timer.Stop(step.Retries(), step.Problems())

# Export

The orchestrator serves the registry on /metrics through the server package.
Workers are short-lived, so worker 0 writes its registry to a textfile with
WriteTextfile when it exits.
*/
package monitoring
