// types.go: Common data types and structures for the harvest runtime
//
// This file contains the shared data model used throughout the ingestion
// pipeline: metrics, device descriptors, plugin health, lifecycle states,
// and the health events emitted on every lifecycle transition.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"time"
)

// PluginState represents the lifecycle state of a supervised plugin instance.
//
// The state machine is:
//
//	Unloaded → Loading → Configured → Running ⇄ Degraded → Stopped
//	                                             ↓
//	                                           Failed (terminal)
//
// Transitions:
//   - Loading→Configured on successful configuration validation
//   - Configured→Running on successful start
//   - Running→Degraded when the plugin's circuit breaker opens or the
//     plugin crashes / breaches its resource limits
//   - Degraded→Running when a half-open trial collection succeeds
//   - Running|Degraded→Stopped on explicit stop or unload
//   - →Failed when consecutive restarts exceed the configured maximum;
//     a Failed instance is excluded from scheduling until reloaded
type PluginState int

const (
	PluginUnloaded PluginState = iota
	PluginLoading
	PluginConfigured
	PluginRunning
	PluginDegraded
	PluginStopped
	PluginFailed
)

// String returns a human-readable representation of the plugin state.
func (s PluginState) String() string {
	switch s {
	case PluginUnloaded:
		return "unloaded"
	case PluginLoading:
		return "loading"
	case PluginConfigured:
		return "configured"
	case PluginRunning:
		return "running"
	case PluginDegraded:
		return "degraded"
	case PluginStopped:
		return "stopped"
	case PluginFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further automatic transitions.
func (s PluginState) Terminal() bool {
	return s == PluginStopped || s == PluginFailed
}

// PluginStatus represents the health assessment of a plugin instance.
//
// Status levels indicate the plugin's ability to collect metrics:
//   - StatusUnknown: Initial state or status cannot be determined
//   - StatusHealthy: Plugin is fully operational
//   - StatusDegraded: Plugin is operational but performance is impacted
//   - StatusUnhealthy: Plugin has issues but may still collect
//   - StatusOffline: Plugin is not responding and should not be dispatched
type PluginStatus int

const (
	StatusUnknown PluginStatus = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
	StatusOffline
)

// String returns a human-readable representation of the plugin status.
func (s PluginStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// HealthStatus contains health information reported by a plugin.
//
// Fields:
//   - Status: Current operational status
//   - Message: Human-readable description of the current status
//   - LastCheck: Timestamp of when this status was determined
//   - ResponseTime: How long the health check took to complete
//   - Metadata: Additional context-specific information
type HealthStatus struct {
	Status       PluginStatus      `json:"status"`
	Message      string            `json:"message,omitempty"`
	LastCheck    time.Time         `json:"last_check"`
	ResponseTime time.Duration     `json:"response_time"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Metric is a single validated data point produced by a collector plugin.
//
// A Metric is immutable once created. Every metric admitted to the buffer
// has passed validation: non-empty device ID, finite value, and a
// recognized unit. The natural deduplication key for downstream sinks is
// (DeviceID, Timestamp, Type).
type Metric struct {
	DeviceID  string            `json:"device_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"metric_type"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Tags      map[string]string `json:"tags,omitempty"`
	Quality   float64           `json:"quality_score"`
}

// DedupKey returns the natural key sinks are expected to deduplicate on.
func (m Metric) DedupKey() string {
	return m.DeviceID + "|" + m.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + m.Type
}

// BufferEntry wraps a buffered Metric with its enqueue timestamp, used to
// compute buffer age for time-triggered flushing.
type BufferEntry struct {
	Metric     Metric    `json:"metric"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeviceDescriptor describes a device discovered by a collector plugin.
type DeviceDescriptor struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Model        string            `json:"model,omitempty"`
	Address      string            `json:"address,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// ResourceLimits declares the resource caps of a plugin instance.
//
// Limits are enforced by the supervisor's resource monitor: a breach
// triggers forced termination and restart under the standard backoff
// policy. A zero value for any field disables that particular cap.
type ResourceLimits struct {
	MaxCPUPercent     float64       `json:"max_cpu_percent,omitempty" yaml:"max_cpu_percent,omitempty"`
	MaxMemoryBytes    uint64        `json:"max_memory_bytes,omitempty" yaml:"max_memory_bytes,omitempty"`
	MaxCollectionTime time.Duration `json:"max_collection_time,omitempty" yaml:"max_collection_time,omitempty"`
}

// HealthEvent records a single lifecycle transition of a plugin instance.
//
// Events are emitted by the supervisor on every transition and delivered
// to registered listeners for external observability.
type HealthEvent struct {
	EventID   string      `json:"event_id"`
	PluginID  string      `json:"plugin_id"`
	OldState  PluginState `json:"old_state"`
	NewState  PluginState `json:"new_state"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthEventListener receives lifecycle transition events.
//
// Listeners are invoked synchronously from supervisor transitions and must
// not block; long-running consumers should hand the event off to their own
// goroutine or channel.
type HealthEventListener func(event HealthEvent)
