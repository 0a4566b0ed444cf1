// resource_monitor.go: Resource usage sampling and limit enforcement
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// BreachFunc is invoked when a plugin exceeds one of its declared
// resource limits. It runs on the monitor's goroutine and must not block.
type BreachFunc func(pluginID string, usage ResourceUsage)

// UsageProvider supplies the per-plugin usage samples the monitor checks
// against declared limits. The supervisor implements it over plugins that
// expose ResourceReporter.
type UsageProvider interface {
	// ResourceSamples returns one usage sample per plugin that can report
	// usage, keyed by plugin ID, together with that plugin's limits.
	ResourceSamples() map[string]ResourceSample
}

// ResourceSample pairs a usage reading with the limits it is checked
// against.
type ResourceSample struct {
	Usage  ResourceUsage
	Limits ResourceLimits
}

// ResourceMonitor periodically samples resource usage and reports limit
// breaches. Two sources feed it: per-plugin samples from plugins that
// implement ResourceReporter, checked against their descriptor limits,
// and a process-wide CPU/RSS reading via gopsutil kept for operational
// gauges. In-process plugins share the host process, so the per-plugin
// numbers are self-reported; the monitor trusts them the way it would
// trust a subprocess cgroup reading.
type ResourceMonitor struct {
	interval time.Duration
	provider UsageProvider
	onBreach BreachFunc
	logger   Logger
	metrics  MetricsCollector

	proc *process.Process

	mu          sync.RWMutex
	lastProcess ResourceUsage

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewResourceMonitor creates a stopped monitor. A zero or negative
// interval disables periodic sampling.
func NewResourceMonitor(interval time.Duration, provider UsageProvider, onBreach BreachFunc, logger any, metrics MetricsCollector) *ResourceMonitor {
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Process self-lookup failing is effectively impossible; degrade
		// to per-plugin samples only.
		proc = nil
	}
	return &ResourceMonitor{
		interval: interval,
		provider: provider,
		onBreach: onBreach,
		logger:   NewLogger(logger),
		metrics:  metrics,
		proc:     proc,
	}
}

// Start launches the sampling goroutine.
func (rm *ResourceMonitor) Start() {
	if rm.interval <= 0 {
		return
	}
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return
	}
	rm.running = true
	rm.stopChan = make(chan struct{})
	rm.doneChan = make(chan struct{})
	rm.mu.Unlock()

	go rm.run()
}

// Stop halts sampling and waits for the goroutine to exit.
func (rm *ResourceMonitor) Stop() {
	rm.mu.Lock()
	if !rm.running {
		rm.mu.Unlock()
		return
	}
	rm.running = false
	stop, done := rm.stopChan, rm.doneChan
	rm.mu.Unlock()

	close(stop)
	<-done
}

// ProcessUsage returns the most recent process-wide sample.
func (rm *ResourceMonitor) ProcessUsage() ResourceUsage {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.lastProcess
}

// Sample performs one sampling pass: refresh the process-wide reading
// and check every reported plugin sample against its limits. Exposed for
// tests; the run loop calls it on each tick.
func (rm *ResourceMonitor) Sample() {
	rm.sampleProcess()

	if rm.provider == nil {
		return
	}
	for pluginID, sample := range rm.provider.ResourceSamples() {
		if breached, detail := exceedsLimits(sample.Usage, sample.Limits); breached {
			rm.logger.Warn("Plugin resource limit exceeded",
				"plugin", pluginID,
				"detail", detail,
				"cpu_percent", sample.Usage.CPUPercent,
				"memory_bytes", sample.Usage.MemoryBytes)
			if rm.onBreach != nil {
				rm.onBreach(pluginID, sample.Usage)
			}
		}
	}
}

func (rm *ResourceMonitor) sampleProcess() {
	if rm.proc == nil {
		return
	}
	usage := ResourceUsage{}
	if cpu, err := rm.proc.CPUPercent(); err == nil {
		usage.CPUPercent = cpu
	}
	if mem, err := rm.proc.MemoryInfo(); err == nil && mem != nil {
		usage.MemoryBytes = mem.RSS
	}

	rm.mu.Lock()
	rm.lastProcess = usage
	rm.mu.Unlock()

	rm.metrics.SetGauge(MetricProcessCPUPercent, nil, usage.CPUPercent)
	rm.metrics.SetGauge(MetricProcessMemoryBytes, nil, float64(usage.MemoryBytes))
}

// exceedsLimits checks a usage sample against declared limits. Zero
// limits mean unlimited.
func exceedsLimits(usage ResourceUsage, limits ResourceLimits) (bool, string) {
	if limits.MaxCPUPercent > 0 && usage.CPUPercent > limits.MaxCPUPercent {
		return true, "cpu"
	}
	if limits.MaxMemoryBytes > 0 && usage.MemoryBytes > limits.MaxMemoryBytes {
		return true, "memory"
	}
	return false, ""
}

func (rm *ResourceMonitor) run() {
	defer close(rm.doneChan)
	defer withStackRecover(rm.logger)()

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.Sample()
		case <-rm.stopChan:
			return
		}
	}
}
