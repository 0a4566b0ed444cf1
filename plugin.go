// plugin.go: Core collector plugin interfaces and descriptors
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
)

// CollectorPlugin is the contract every collector must satisfy.
//
// Collection is modeled as a synchronous call executed on a pool worker
// under a cancellable deadline; implementations must honor the context.
// A plugin instance is owned exclusively by the supervisor and is never
// invoked concurrently with itself.
type CollectorPlugin interface {
	// CollectMetrics gathers one round of metrics from the underlying
	// device or service. Transient device/network failures should be
	// returned as errors; they are routed through the plugin's circuit
	// breaker and never crash the runtime.
	CollectMetrics(ctx context.Context) ([]Metric, error)

	// Capabilities returns the capability tags this plugin supports.
	Capabilities() []string

	// Health performs a health check and returns detailed status.
	Health(ctx context.Context) HealthStatus

	// Close gracefully shuts down the plugin and releases its resources.
	// Must be idempotent (safe to call multiple times).
	Close() error
}

// DeviceDiscoverer is an optional extension for plugins that can enumerate
// the devices they collect from. Plugins that do not implement it are
// treated as discovering no devices.
type DeviceDiscoverer interface {
	DiscoverDevices(ctx context.Context) ([]DeviceDescriptor, error)
}

// ConfigValidator is an optional extension for plugins that validate their
// own configuration beyond the declared schema. Plugins that do not
// implement it accept any schema-valid configuration.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// ResourceReporter is an optional extension for plugins that can report
// their own resource usage. The supervisor's resource monitor compares
// reported usage against the descriptor's declared limits.
type ResourceReporter interface {
	ResourceUsage() ResourceUsage
}

// ResourceUsage is a point-in-time resource consumption sample.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// PluginDescriptor is the immutable identity of a plugin instance,
// discovered once at load time and never mutated afterwards.
//
// Fields:
//   - ID: Unique identifier of the instance within the supervisor
//   - Type: Factory key used to construct the plugin
//   - Capabilities: Declared capability tags
//   - ConfigSchema: Declared configuration schema, validated on load
//   - Limits: Declared resource caps enforced by the supervisor
type PluginDescriptor struct {
	ID           string         `json:"id" yaml:"id"`
	Type         string         `json:"type" yaml:"type"`
	Version      string         `json:"version,omitempty" yaml:"version,omitempty"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	ConfigSchema ConfigSchema   `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`
	Limits       ResourceLimits `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// PluginFactory creates collector plugin instances from configuration.
//
// Factories form the closed plugin registry: every loadable plugin type is
// registered under its type key before any descriptor referencing it can
// be loaded. This replaces ambient global registration with an explicit,
// supervisor-owned factory map.
type PluginFactory interface {
	// CreatePlugin constructs a new plugin instance for the descriptor.
	// The configuration has already been validated against the schema.
	CreatePlugin(descriptor PluginDescriptor, config map[string]any) (CollectorPlugin, error)
}

// PluginFactoryFunc adapts a plain function to the PluginFactory interface.
type PluginFactoryFunc func(descriptor PluginDescriptor, config map[string]any) (CollectorPlugin, error)

// CreatePlugin implements PluginFactory.
func (f PluginFactoryFunc) CreatePlugin(descriptor PluginDescriptor, config map[string]any) (CollectorPlugin, error) {
	return f(descriptor, config)
}
