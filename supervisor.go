// supervisor.go: Plugin lifecycle supervision with crash-restart backoff
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// PluginInstance is the supervisor-owned record of one loaded plugin.
// All fields are guarded by the supervisor's lock; external callers see
// instances only through InstanceSnapshot.
type PluginInstance struct {
	descriptor PluginDescriptor
	plugin     CollectorPlugin
	config     map[string]any

	state               PluginState
	lastHealth          HealthStatus
	lastHealthCheck     time.Time
	consecutiveFailures int
	restartCount        int
	restartDeadline     time.Time
	restartTimer        *time.Timer

	healthChecker *HealthChecker
}

// InstanceSnapshot is a read-only view of a plugin instance.
type InstanceSnapshot struct {
	Descriptor          PluginDescriptor `json:"descriptor"`
	State               PluginState      `json:"state"`
	LastHealth          HealthStatus     `json:"last_health"`
	LastHealthCheck     time.Time        `json:"last_health_check"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	RestartCount        int              `json:"restart_count"`
	RestartDeadline     time.Time        `json:"restart_deadline,omitempty"`
}

// Supervisor owns plugin lifecycle: load, configure, start, stop, and
// crash-restart. It is the single holder of the instance registry; the
// scheduler and executor reach plugins only through its Runnable and
// AcquireHandle methods, never through shared globals.
//
// Fault policy:
//   - A crash during collection moves the instance to PluginDegraded and
//     schedules a restart after an exponential backoff with full jitter.
//   - A resource-limit breach forces termination and restarts under the
//     same backoff policy.
//   - After MaxRestarts consecutive restarts the instance moves to
//     PluginFailed and is excluded from scheduling until reloaded.
//   - A successful collection resets both failure and restart counters.
//
// Every lifecycle transition emits a HealthEvent to registered listeners.
type Supervisor struct {
	config    SupervisorConfig
	logger    Logger
	metrics   MetricsCollector
	factories *FactoryRegistry

	mu        sync.RWMutex
	instances map[string]*PluginInstance

	listenerMu sync.RWMutex
	listeners  []HealthEventListener

	rngMu sync.Mutex
	rng   *rand.Rand

	closed bool
}

// NewSupervisor creates a supervisor with an empty registry.
func NewSupervisor(config SupervisorConfig, factories *FactoryRegistry, logger any, metrics MetricsCollector) *Supervisor {
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}
	return &Supervisor{
		config:    config,
		logger:    NewLogger(logger),
		metrics:   metrics,
		factories: factories,
		instances: make(map[string]*PluginInstance),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnHealthEvent registers a listener for lifecycle transitions.
// Listeners are invoked synchronously and must not block.
func (s *Supervisor) OnHealthEvent(listener HealthEventListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenerMu.Unlock()
}

// Load validates configuration and constructs a plugin instance, leaving
// it in PluginConfigured. A schema violation or plugin-side rejection
// fails with a configuration error and mutates no existing state.
func (s *Supervisor) Load(descriptor PluginDescriptor, config map[string]any) error {
	if descriptor.ID == "" {
		return NewInvalidPluginIDError(descriptor.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[descriptor.ID]; exists {
		return NewDuplicatePluginError(descriptor.ID)
	}

	factory, err := s.factories.Get(descriptor.Type)
	if err != nil {
		return err
	}

	applied, err := descriptor.ConfigSchema.Apply(descriptor.ID, config)
	if err != nil {
		return err
	}

	plugin, err := factory.CreatePlugin(descriptor, applied)
	if err != nil {
		return NewConfigRejectedError(descriptor.ID, err)
	}

	if validator, ok := plugin.(ConfigValidator); ok {
		if err := validator.ValidateConfig(applied); err != nil {
			_ = plugin.Close()
			return NewConfigRejectedError(descriptor.ID, err)
		}
	}

	instance := &PluginInstance{
		descriptor: descriptor,
		plugin:     plugin,
		config:     applied,
		state:      PluginLoading,
	}
	s.instances[descriptor.ID] = instance

	s.transitionLocked(instance, PluginConfigured, "configuration validated")
	return nil
}

// Start transitions a configured instance to PluginRunning and begins
// background health polling.
func (s *Supervisor) Start(pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[pluginID]
	if !ok {
		return NewPluginNotFoundError(pluginID)
	}
	if instance.state != PluginConfigured {
		return NewInvalidTransitionError(pluginID, instance.state, PluginRunning)
	}

	s.transitionLocked(instance, PluginRunning, "started")
	s.startHealthCheckerLocked(instance)
	return nil
}

// Stop transitions an instance to PluginStopped, cancels any pending
// restart, and closes the plugin.
func (s *Supervisor) Stop(pluginID string) error {
	s.mu.Lock()
	checker, err := s.stopLocked(pluginID)
	s.mu.Unlock()
	waitForChecker(checker)
	return err
}

// stopLocked detaches the health checker instead of waiting for it: the
// checker's callback takes s.mu, so waiting here would deadlock against
// an in-flight poll. Callers wait via waitForChecker after unlocking.
func (s *Supervisor) stopLocked(pluginID string) (*HealthChecker, error) {
	instance, ok := s.instances[pluginID]
	if !ok {
		return nil, NewPluginNotFoundError(pluginID)
	}
	switch instance.state {
	case PluginRunning, PluginDegraded, PluginConfigured:
	default:
		return nil, NewInvalidTransitionError(pluginID, instance.state, PluginStopped)
	}

	checker := s.haltInstanceLocked(instance)
	s.transitionLocked(instance, PluginStopped, "stopped")
	if err := instance.plugin.Close(); err != nil {
		s.logger.Warn("Plugin close returned error", "plugin", pluginID, "error", err)
	}
	return checker, nil
}

// Unload stops (when needed) and removes an instance from the registry.
// Failed instances can always be unloaded.
func (s *Supervisor) Unload(pluginID string) error {
	s.mu.Lock()

	instance, ok := s.instances[pluginID]
	if !ok {
		s.mu.Unlock()
		return NewPluginNotFoundError(pluginID)
	}

	var checker *HealthChecker
	switch instance.state {
	case PluginRunning, PluginDegraded, PluginConfigured:
		var err error
		if checker, err = s.stopLocked(pluginID); err != nil {
			s.mu.Unlock()
			return err
		}
	case PluginFailed, PluginStopped:
		checker = s.haltInstanceLocked(instance)
	}

	delete(s.instances, pluginID)
	s.mu.Unlock()

	waitForChecker(checker)
	s.logger.Info("Plugin unloaded", "plugin", pluginID)
	return nil
}

// Restart forcibly recreates a plugin instance. Used by the backoff
// timer and available for manual intervention on Running, Degraded, or
// Stopped instances (Failed instances require a full reload).
func (s *Supervisor) Restart(pluginID string) error {
	s.mu.Lock()

	instance, ok := s.instances[pluginID]
	if !ok {
		s.mu.Unlock()
		return NewPluginNotFoundError(pluginID)
	}
	if instance.state == PluginFailed {
		s.mu.Unlock()
		return NewPluginFailedError(pluginID, instance.restartCount)
	}
	checker, err := s.restartLocked(instance)
	s.mu.Unlock()
	waitForChecker(checker)
	return err
}

// restartLocked recreates the plugin and returns the detached health
// checker of the old incarnation for the caller to wait on after
// unlocking.
func (s *Supervisor) restartLocked(instance *PluginInstance) (*HealthChecker, error) {
	id := instance.descriptor.ID
	checker := s.haltInstanceLocked(instance)
	_ = instance.plugin.Close()

	factory, err := s.factories.Get(instance.descriptor.Type)
	if err != nil {
		return checker, err
	}
	plugin, err := factory.CreatePlugin(instance.descriptor, instance.config)
	if err != nil {
		s.logger.Error("Plugin recreation failed", "plugin", id, "error", err)
		s.scheduleRestartLocked(instance, "recreation failed")
		return checker, NewConfigRejectedError(id, err)
	}

	instance.plugin = plugin
	s.metrics.IncrementCounter(MetricPluginRestarts, map[string]string{"plugin": id}, 1)
	s.transitionLocked(instance, PluginRunning, "restarted")
	s.startHealthCheckerLocked(instance)
	return checker, nil
}

// ReportHealth summarizes an instance: healthy while Running, degraded
// while Degraded or restart-pending, failed when PluginFailed.
func (s *Supervisor) ReportHealth(pluginID string) (HealthStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[pluginID]
	if !ok {
		return HealthStatus{}, NewPluginNotFoundError(pluginID)
	}

	status := HealthStatus{
		LastCheck: instance.lastHealthCheck,
		Metadata: map[string]string{
			"state":    instance.state.String(),
			"restarts": strconv.Itoa(instance.restartCount),
		},
	}
	switch instance.state {
	case PluginRunning:
		status.Status = StatusHealthy
		status.Message = instance.lastHealth.Message
	case PluginDegraded:
		status.Status = StatusDegraded
		status.Message = "degraded; supervisor is managing recovery"
	case PluginFailed:
		status.Status = StatusOffline
		status.Message = "permanently failed; reload to recover"
	default:
		status.Status = StatusUnknown
		status.Message = instance.state.String()
	}
	return status, nil
}

// Runnable reports whether the scheduler may dispatch collections to the
// plugin. Degraded instances stay dispatchable so a half-open breaker
// trial can reach them; Failed and Stopped instances never do.
func (s *Supervisor) Runnable(pluginID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[pluginID]
	if !ok {
		return false
	}
	if !instance.restartDeadline.IsZero() && instance.restartDeadline.After(timecache.CachedTime()) {
		return false
	}
	return instance.state == PluginRunning || instance.state == PluginDegraded
}

// AcquireHandle implements HandleProvider for the executor.
func (s *Supervisor) AcquireHandle(pluginID string) (CollectorPlugin, ResourceLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[pluginID]
	if !ok {
		return nil, ResourceLimits{}, NewPluginNotFoundError(pluginID)
	}
	if instance.state != PluginRunning && instance.state != PluginDegraded {
		return nil, ResourceLimits{}, NewPluginNotRunnableError(pluginID, instance.state)
	}
	return instance.plugin, instance.descriptor.Limits, nil
}

// CollectionSucceeded implements ExecutionObserver. A success clears the
// failure and restart counters; when the breaker has closed again after a
// half-open trial, a Degraded instance returns to Running.
func (s *Supervisor) CollectionSucceeded(pluginID string, breakerState CircuitState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[pluginID]
	if !ok {
		return
	}
	instance.consecutiveFailures = 0
	instance.restartCount = 0
	if instance.state == PluginDegraded && breakerState == BreakerClosed {
		s.transitionLocked(instance, PluginRunning, "trial collection succeeded")
	}
}

// CollectionFailed implements ExecutionObserver. Failures are absorbed
// here: the instance degrades when its breaker opens, and a contained
// crash or a hung collection (deadline expiry) additionally schedules a
// restart under backoff. A returned collection error feeds the breaker
// only.
func (s *Supervisor) CollectionFailed(pluginID string, err error, breakerState CircuitState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[pluginID]
	if !ok {
		return
	}
	instance.consecutiveFailures++

	if instance.state == PluginRunning && breakerState == BreakerOpen {
		s.transitionLocked(instance, PluginDegraded, "circuit breaker opened")
	}

	if (IsPluginCrash(err) || IsPluginTimeout(err)) && instance.state != PluginFailed {
		reason := "crash"
		if IsPluginTimeout(err) {
			reason = "collection timeout"
		}
		if instance.state == PluginRunning {
			s.transitionLocked(instance, PluginDegraded, reason)
		}
		s.scheduleRestartLocked(instance, reason)
	}
}

// ResourceBreached force-terminates an instance that exceeded its
// declared limits and restarts it under the standard backoff policy.
func (s *Supervisor) ResourceBreached(pluginID string, usage ResourceUsage) {
	s.mu.Lock()

	instance, ok := s.instances[pluginID]
	if !ok || (instance.state != PluginRunning && instance.state != PluginDegraded) {
		s.mu.Unlock()
		return
	}

	s.metrics.IncrementCounter(MetricResourceBreaches, map[string]string{"plugin": pluginID}, 1)
	s.logger.Warn("Resource limit breached, forcing restart",
		"plugin", pluginID,
		"cpu_percent", usage.CPUPercent,
		"memory_bytes", usage.MemoryBytes)

	checker := s.haltInstanceLocked(instance)
	_ = instance.plugin.Close()
	if instance.state == PluginRunning {
		s.transitionLocked(instance, PluginDegraded, "resource limit breached")
	}
	s.scheduleRestartLocked(instance, "resource breach")
	s.mu.Unlock()

	waitForChecker(checker)
}

// scheduleRestartLocked arms the backoff timer for the next restart
// attempt, or moves the instance to PluginFailed once the budget is
// spent. Caller must hold s.mu.
func (s *Supervisor) scheduleRestartLocked(instance *PluginInstance, reason string) {
	if instance.restartTimer != nil {
		// A restart is already pending; do not stack timers.
		return
	}

	instance.restartCount++
	if instance.restartCount > s.config.MaxRestarts {
		s.transitionLocked(instance, PluginFailed, "restart budget exhausted after "+reason)
		return
	}

	s.rngMu.Lock()
	delay := fullJitterBackoff(s.rng, instance.restartCount-1, s.config.RestartBackoff)
	s.rngMu.Unlock()

	id := instance.descriptor.ID
	instance.restartDeadline = timecache.CachedTime().Add(delay)
	s.logger.Info("Restart scheduled",
		"plugin", id, "reason", reason, "attempt", instance.restartCount, "delay", delay)

	instance.restartTimer = time.AfterFunc(delay, func() {
		defer withStackRecover(s.logger)()
		s.mu.Lock()
		inst, ok := s.instances[id]
		if !ok || inst.state.Terminal() {
			s.mu.Unlock()
			return
		}
		inst.restartTimer = nil
		inst.restartDeadline = time.Time{}
		checker, _ := s.restartLocked(inst)
		s.mu.Unlock()
		waitForChecker(checker)
	})
}

// haltInstanceLocked cancels pending restarts, signals health polling to
// stop, and returns the detached checker. Caller must hold s.mu and wait
// for the checker with waitForChecker after unlocking.
func (s *Supervisor) haltInstanceLocked(instance *PluginInstance) *HealthChecker {
	if instance.restartTimer != nil {
		instance.restartTimer.Stop()
		instance.restartTimer = nil
		instance.restartDeadline = time.Time{}
	}
	checker := instance.healthChecker
	instance.healthChecker = nil
	if checker != nil {
		checker.signalStop()
	}
	return checker
}

// waitForChecker waits for a detached health checker to exit. Must be
// called without holding s.mu: the checker's callback acquires it.
func waitForChecker(hc *HealthChecker) {
	if hc != nil {
		hc.Stop()
	}
}

// startHealthCheckerLocked starts background health polling for a
// running instance. Caller must hold s.mu.
func (s *Supervisor) startHealthCheckerLocked(instance *PluginInstance) {
	if s.config.HealthCheckInterval <= 0 {
		return
	}
	id := instance.descriptor.ID
	var checker *HealthChecker
	checker = NewHealthChecker(instance.plugin, HealthCheckConfig{
		Interval:     s.config.HealthCheckInterval,
		Timeout:      s.config.HealthCheckInterval / 2,
		FailureLimit: s.config.HealthFailureLimit,
	}, s.logger, func(status HealthStatus) {
		s.recordHealth(id, checker, status)
	})
	instance.healthChecker = checker
	checker.Start()
}

// recordHealth stores a background poll result and degrades an instance
// whose plugin has gone offline. Results from a detached checker are
// discarded: a poll may still be in flight while its instance is being
// stopped or restarted.
func (s *Supervisor) recordHealth(pluginID string, from *HealthChecker, status HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[pluginID]
	if !ok || instance.healthChecker != from {
		return
	}
	instance.lastHealth = status
	instance.lastHealthCheck = status.LastCheck

	if status.Status == StatusOffline && instance.state == PluginRunning {
		s.transitionLocked(instance, PluginDegraded, "health checks failing")
		s.scheduleRestartLocked(instance, "health check failure")
	}
}

// Instance returns a snapshot of one instance.
func (s *Supervisor) Instance(pluginID string) (InstanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[pluginID]
	if !ok {
		return InstanceSnapshot{}, NewPluginNotFoundError(pluginID)
	}
	return snapshotLocked(instance), nil
}

// Instances returns a snapshot of the whole registry.
func (s *Supervisor) Instances() map[string]InstanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]InstanceSnapshot, len(s.instances))
	for id, instance := range s.instances {
		out[id] = snapshotLocked(instance)
	}
	return out
}

func snapshotLocked(instance *PluginInstance) InstanceSnapshot {
	return InstanceSnapshot{
		Descriptor:          instance.descriptor,
		State:               instance.state,
		LastHealth:          instance.lastHealth,
		LastHealthCheck:     instance.lastHealthCheck,
		ConsecutiveFailures: instance.consecutiveFailures,
		RestartCount:        instance.restartCount,
		RestartDeadline:     instance.restartDeadline,
	}
}

// ResourceSamples implements UsageProvider for the resource monitor:
// one self-reported usage sample per active plugin that implements
// ResourceReporter, paired with its declared limits.
func (s *Supervisor) ResourceSamples() map[string]ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ResourceSample)
	for id, instance := range s.instances {
		if instance.state != PluginRunning && instance.state != PluginDegraded {
			continue
		}
		reporter, ok := instance.plugin.(ResourceReporter)
		if !ok {
			continue
		}
		out[id] = ResourceSample{
			Usage:  reporter.ResourceUsage(),
			Limits: instance.descriptor.Limits,
		}
	}
	return out
}

// DiscoverDevices aggregates device inventories across all runnable
// plugins that implement DeviceDiscoverer.
func (s *Supervisor) DiscoverDevices(ctx context.Context) map[string][]DeviceDescriptor {
	s.mu.RLock()
	discoverers := make(map[string]DeviceDiscoverer)
	for id, instance := range s.instances {
		if instance.state != PluginRunning && instance.state != PluginDegraded {
			continue
		}
		if d, ok := instance.plugin.(DeviceDiscoverer); ok {
			discoverers[id] = d
		}
	}
	s.mu.RUnlock()

	out := make(map[string][]DeviceDescriptor, len(discoverers))
	for id, d := range discoverers {
		devices, err := d.DiscoverDevices(ctx)
		if err != nil {
			s.logger.Warn("Device discovery failed", "plugin", id, "error", err)
			continue
		}
		out[id] = devices
	}
	return out
}

// Shutdown stops every instance. Terminal instances are left as-is.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true

	var err error
	var checkers []*HealthChecker
	for id, instance := range s.instances {
		if instance.state.Terminal() {
			checkers = append(checkers, s.haltInstanceLocked(instance))
			continue
		}
		checker, stopErr := s.stopLocked(id)
		checkers = append(checkers, checker)
		if stopErr != nil {
			s.logger.Warn("Plugin stop failed during shutdown", "plugin", id, "error", stopErr)
		}
		select {
		case <-ctx.Done():
			err = NewShutdownTimeoutError("supervisor")
		default:
		}
		if err != nil {
			break
		}
	}
	s.mu.Unlock()

	for _, checker := range checkers {
		waitForChecker(checker)
	}
	return err
}

// transitionLocked applies a lifecycle transition, emits the health
// event, and updates the state gauge. Caller must hold s.mu.
func (s *Supervisor) transitionLocked(instance *PluginInstance, to PluginState, reason string) {
	from := instance.state
	instance.state = to

	event := HealthEvent{
		EventID:   uuid.NewString(),
		PluginID:  instance.descriptor.ID,
		OldState:  from,
		NewState:  to,
		Reason:    reason,
		Timestamp: timecache.CachedTime(),
	}

	s.metrics.SetGauge(MetricPluginState, map[string]string{"plugin": event.PluginID}, float64(to))
	s.metrics.IncrementCounter(MetricHealthEventsTotal, map[string]string{"plugin": event.PluginID}, 1)
	s.logger.Info("Plugin state transition",
		"plugin", event.PluginID, "from", from.String(), "to", to.String(), "reason", reason)

	s.listenerMu.RLock()
	listeners := make([]HealthEventListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()
	for _, listener := range listeners {
		listener(event)
	}
}
