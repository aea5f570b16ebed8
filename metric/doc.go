// Package metric exposes the engine's Prometheus metrics.
//
// MetricsRegistry wraps a private prometheus.Registry and pre-registers the engine metrics
// (data loss, network shapes, owner fault counters, circular network invalidity, watchdog,
// scheduler and backend state). Components register additional collectors through the
// MetricsRegistrar interface, keyed by "service.metric" so duplicates are rejected with an
// invalid-class error.
//
// Server serves the registry over HTTP with promhttp.
package metric
