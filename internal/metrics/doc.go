/*
Package metrics provides Prometheus-based metrics collection for the
swapforge pipeline.

It tracks per-stage durations, benchmark matrix cells, partition write
attempts, and swap-on results, and exposes them on an optional /metrics
endpoint, listening on all interfaces at the configured port, while
cmd/swapforge report --serve runs.

See also: internal/health for readiness checks, pkg/status for
progress tracking.
*/
package metrics
