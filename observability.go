// observability.go: Metrics collection interfaces for external observability
//
// The runtime reports its counters and gauges through the MetricsCollector
// interface so any monitoring backend can consume them; a Prometheus
// implementation is provided in prometheus.go. The exposition surface
// (HTTP scrape endpoint) stays with the host application.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

// Metric names reported by the runtime. Plugin-scoped series carry a
// "plugin" label; drop counters carry a "reason" label
// (validation, overflow, eviction).
const (
	MetricCollectedTotal    = "harvest_metrics_collected_total"
	MetricDroppedTotal      = "harvest_metrics_dropped_total"
	MetricCollectionsTotal  = "harvest_collections_total"
	MetricCollectionSeconds = "harvest_collection_duration_seconds"
	MetricBufferDepth       = "harvest_buffer_depth"
	MetricBufferCapacity    = "harvest_buffer_capacity"
	MetricBreakerState      = "harvest_circuit_breaker_state"
	MetricPluginState       = "harvest_plugin_state"
	MetricPluginRestarts    = "harvest_plugin_restarts_total"
	MetricFlushBatchesTotal = "harvest_flush_batches_total"
	MetricSinkRetriesTotal  = "harvest_sink_retries_total"
	MetricSpillSegments     = "harvest_spill_segments"
	MetricSpillBytes        = "harvest_spill_bytes"
	MetricFatalAlertsTotal  = "harvest_fatal_alerts_total"
	MetricHealthEventsTotal = "harvest_health_events_total"
	MetricResourceBreaches  = "harvest_resource_breaches_total"
	MetricExecutorInFlight  = "harvest_executor_in_flight"

	MetricProcessCPUPercent  = "harvest_process_cpu_percent"
	MetricProcessMemoryBytes = "harvest_process_memory_bytes"
)

// MetricsCollector receives runtime counters and gauges.
//
// Implementations must be safe for concurrent use; every pipeline
// component reports through the same collector instance. Label maps are
// small and short-lived; implementations that need to retain them must
// copy.
type MetricsCollector interface {
	// IncrementCounter adds value to the named monotonic counter.
	IncrementCounter(name string, labels map[string]string, value int64)

	// SetGauge sets the named gauge to value.
	SetGauge(name string, labels map[string]string, value float64)

	// RecordHistogram records one observation in the named histogram.
	RecordHistogram(name string, labels map[string]string, value float64)
}

// NoOpMetricsCollector discards all measurements.
type NoOpMetricsCollector struct{}

// NewNoOpMetricsCollector creates a metrics collector that discards everything.
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}

// IncrementCounter implements MetricsCollector (no-op)
func (n *NoOpMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
}

// SetGauge implements MetricsCollector (no-op)
func (n *NoOpMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {}

// RecordHistogram implements MetricsCollector (no-op)
func (n *NoOpMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
}
