// pipeline.go: Pipeline facade wiring supervision, scheduling, and ingestion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline is the top-level runtime assembling every subsystem: factory
// registry, plugin supervisor, per-plugin circuit breakers, scheduler,
// collection executor, metric buffer, batch flusher with disk spill, and
// the resource monitor.
//
// Lifecycle:
//
//	pipeline, err := NewPipeline(GetDefaultPipelineConfig(), sink, logger, metrics)
//	pipeline.RegisterFactory("modbus", modbusFactory)
//	pipeline.LoadPlugin(descriptor, config)
//	pipeline.StartPlugin("meter-1", 15*time.Second)
//	pipeline.Start()
//	defer pipeline.Shutdown(context.Background())
//
// All methods are safe for concurrent use.
type Pipeline struct {
	config  PipelineConfig
	logger  Logger
	metrics MetricsCollector

	factories  *FactoryRegistry
	supervisor *Supervisor
	breakers   *BreakerSet
	buffer     *MetricBuffer
	spill      *Spill
	flusher    *BatchFlusher
	executor   *Executor
	scheduler  *Scheduler
	monitor    *ResourceMonitor

	tunablesMu sync.Mutex
	tunables   *TunablesWatcher

	alertMu       sync.Mutex
	alertHandlers []FatalAlertFunc

	started  atomic.Bool
	shutdown atomic.Bool
}

// NewPipeline assembles a stopped pipeline around the given sink.
//
// The spill directory is created (and pending segments from a previous
// run recovered) immediately, so a restart after a sink outage resumes
// redelivery on the first flush. logger accepts a Logger, *zap.Logger,
// or nil; metrics may be nil for no-op collection.
func NewPipeline(config PipelineConfig, sink Sink, logger any, metrics MetricsCollector) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}
	internalLogger := NewLogger(logger)

	spill, err := NewSpill(config.Flusher.Spill)
	if err != nil {
		return nil, err
	}

	factories := NewFactoryRegistry()
	buffer := NewMetricBuffer(config.Buffer, config.Flusher.FlushThreshold)
	breakers := NewBreakerSet(config.CircuitBreaker)
	supervisor := NewSupervisor(config.Supervisor, factories, internalLogger, metrics)
	executor := NewExecutor(config.Executor, supervisor, breakers, buffer, supervisor, internalLogger, metrics)
	scheduler := NewScheduler(config.Scheduler, executor, supervisor.Runnable, breakers, internalLogger, metrics)
	flusher := NewBatchFlusher(config.Flusher, buffer, sink, spill, internalLogger, metrics)

	p := &Pipeline{
		config:     config,
		logger:     internalLogger,
		metrics:    metrics,
		factories:  factories,
		supervisor: supervisor,
		breakers:   breakers,
		buffer:     buffer,
		spill:      spill,
		flusher:    flusher,
		executor:   executor,
		scheduler:  scheduler,
	}
	p.monitor = NewResourceMonitor(config.Supervisor.ResourcePollInterval, supervisor, supervisor.ResourceBreached, internalLogger, metrics)

	flusher.OnFatalAlert(p.handleFatalAlert)
	metrics.SetGauge(MetricBufferCapacity, nil, float64(buffer.Cap()))

	return p, nil
}

// RegisterFactory registers a plugin factory under its type key.
func (p *Pipeline) RegisterFactory(pluginType string, factory PluginFactory) error {
	return p.factories.Register(pluginType, factory)
}

// LoadPlugin validates configuration and constructs a plugin instance,
// leaving it in the Configured state.
func (p *Pipeline) LoadPlugin(descriptor PluginDescriptor, config map[string]any) error {
	return p.supervisor.Load(descriptor, config)
}

// StartPlugin moves a configured plugin to Running and schedules its
// collections at the given interval. The interval must be positive.
func (p *Pipeline) StartPlugin(pluginID string, interval time.Duration) error {
	if interval <= 0 {
		return NewInvalidIntervalError(pluginID, interval)
	}
	if err := p.supervisor.Start(pluginID); err != nil {
		return err
	}
	p.scheduler.Register(pluginID, interval)
	return nil
}

// StopPlugin unschedules and stops a plugin. Its circuit breaker history
// is retained in case the plugin is started again.
func (p *Pipeline) StopPlugin(pluginID string) error {
	p.scheduler.Unregister(pluginID)
	return p.supervisor.Stop(pluginID)
}

// UnloadPlugin removes a plugin entirely: schedule, instance, and breaker.
func (p *Pipeline) UnloadPlugin(pluginID string) error {
	p.scheduler.Unregister(pluginID)
	if err := p.supervisor.Unload(pluginID); err != nil {
		return err
	}
	p.breakers.Remove(pluginID)
	return nil
}

// ReloadPlugin recreates a plugin instance from its stored configuration
// and resets its circuit breaker. Works on Running, Degraded, and Stopped
// instances; Failed instances must be unloaded and loaded again.
func (p *Pipeline) ReloadPlugin(pluginID string) error {
	if err := p.supervisor.Restart(pluginID); err != nil {
		return err
	}
	p.breakers.Get(pluginID).Reset()
	return nil
}

// OnHealthEvent registers a listener for plugin lifecycle transitions.
func (p *Pipeline) OnHealthEvent(listener HealthEventListener) {
	p.supervisor.OnHealthEvent(listener)
}

// OnFatalSinkAlert registers a handler invoked when the flusher reports
// unrecoverable data loss (sink down and spill exhausted).
func (p *Pipeline) OnFatalSinkAlert(fn FatalAlertFunc) {
	p.alertMu.Lock()
	p.alertHandlers = append(p.alertHandlers, fn)
	p.alertMu.Unlock()
}

// handleFatalAlert applies protective throttling and fans the alert out
// to registered handlers. Throttling halves collection pressure so the
// spill stops growing while operators respond; it is lifted by a tunables
// update or pipeline restart.
func (p *Pipeline) handleFatalAlert(err error) {
	p.scheduler.SetThrottle(2)
	p.logger.Error("Fatal sink alert: collection intervals doubled until recovery", "error", err)

	p.alertMu.Lock()
	handlers := make([]FatalAlertFunc, len(p.alertHandlers))
	copy(handlers, p.alertHandlers)
	p.alertMu.Unlock()
	for _, handler := range handlers {
		handler(err)
	}
}

// EnableTunables starts hot-reloading runtime tunables from the given
// JSON or YAML file. Safe to call before or after Start.
func (p *Pipeline) EnableTunables(path string) error {
	p.tunablesMu.Lock()
	defer p.tunablesMu.Unlock()
	if p.tunables != nil {
		return nil
	}
	watcher := NewTunablesWatcher(path, p.logger, p.applyTunables)
	if err := watcher.Start(); err != nil {
		return err
	}
	p.tunables = watcher
	return nil
}

// applyTunables pushes a validated tunables revision into the running
// components. Zero-valued fields leave the current setting unchanged.
func (p *Pipeline) applyTunables(t Tunables) {
	if t.FlushInterval > 0 {
		p.flusher.SetInterval(t.FlushInterval)
	}
	if t.FlushThreshold > 0 {
		p.buffer.SetThreshold(t.FlushThreshold)
	}
	if t.BreakerFailureThreshold > 0 {
		p.breakers.SetFailureThreshold(t.BreakerFailureThreshold)
	}
	if t.SchedulerThrottle > 0 {
		p.scheduler.SetThrottle(t.SchedulerThrottle)
	}
	if t.LogLevel != "" {
		if leveled, ok := p.logger.(LevelSetter); ok {
			leveled.SetLevel(t.LogLevel)
		}
	}
}

// Start launches the background loops: flusher, scheduler, and resource
// monitor. Idempotent; plugins can be loaded and started before or after.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.flusher.Start()
	p.scheduler.Start()
	p.monitor.Start()
	p.logger.Info("Pipeline started",
		"buffer_capacity", p.buffer.Cap(),
		"executor_slots", p.config.Executor.MaxConcurrent,
		"flush_interval", p.config.Flusher.Interval)
}

// Shutdown performs an ordered teardown: stop scheduling, drain in-flight
// collections, final flush, then stop every plugin. The context bounds
// the executor drain and the final flush; on expiry teardown continues
// best-effort and a ShutdownTimeoutError is returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	p.tunablesMu.Lock()
	if p.tunables != nil {
		if err := p.tunables.Stop(); err != nil {
			p.logger.Warn("Tunables watcher stop failed", "error", err)
		}
	}
	p.tunablesMu.Unlock()

	p.scheduler.Stop()
	p.monitor.Stop()

	var firstErr error
	if err := p.executor.Close(ctx); err != nil {
		firstErr = err
		p.logger.Warn("Executor drain did not complete before deadline", "error", err)
	}
	if err := p.flusher.Stop(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		p.logger.Warn("Final flush did not complete before deadline", "error", err)
	}
	if err := p.supervisor.Shutdown(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}

	p.logger.Info("Pipeline stopped")
	return firstErr
}

// Health reports the supervisor's view of every loaded plugin.
func (p *Pipeline) Health() map[string]HealthStatus {
	instances := p.supervisor.Instances()
	out := make(map[string]HealthStatus, len(instances))
	for id := range instances {
		status, err := p.supervisor.ReportHealth(id)
		if err != nil {
			continue
		}
		out[id] = status
	}
	return out
}

// DiscoverDevices aggregates device inventories from every runnable
// plugin that supports discovery.
func (p *Pipeline) DiscoverDevices(ctx context.Context) map[string][]DeviceDescriptor {
	return p.supervisor.DiscoverDevices(ctx)
}

// Stats returns a point-in-time snapshot of the whole pipeline.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Buffer:           p.buffer.Stats(),
		Breakers:         p.breakers.States(),
		Plugins:          p.supervisor.Instances(),
		SpillSegments:    p.spill.Segments(),
		SpillBytes:       p.spill.Size(),
		InFlight:         p.executor.InFlight(),
		ScheduledPlugins: p.scheduler.PendingTasks(),
	}
}

// PipelineStats is a monitoring snapshot of the pipeline.
type PipelineStats struct {
	Buffer           BufferStats                 `json:"buffer"`
	Breakers         map[string]CircuitState     `json:"breakers"`
	Plugins          map[string]InstanceSnapshot `json:"plugins"`
	SpillSegments    int                         `json:"spill_segments"`
	SpillBytes       int64                       `json:"spill_bytes"`
	InFlight         int64                       `json:"in_flight"`
	ScheduledPlugins int                         `json:"scheduled_plugins"`
}
