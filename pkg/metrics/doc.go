// Package metrics exposes Paddock's Prometheus collectors: resource gauges,
// reconcile counters and durations, queue admission denials, autoscale
// decisions and meter emission counters.
package metrics
