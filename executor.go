// executor.go: Bounded collection executor with deadlines and panic containment
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// HandleProvider resolves a plugin ID to a live collector handle. The
// supervisor implements it; resolution fails when the plugin is not in a
// dispatchable lifecycle state.
type HandleProvider interface {
	AcquireHandle(pluginID string) (CollectorPlugin, ResourceLimits, error)
}

// ExecutionObserver receives collection outcomes. The supervisor uses it
// to drive Degraded transitions and crash-restart scheduling; failures are
// absorbed here and never surface as errors to the scheduler.
type ExecutionObserver interface {
	CollectionSucceeded(pluginID string, breakerState CircuitState)
	CollectionFailed(pluginID string, err error, breakerState CircuitState)
}

// Executor invokes plugin collections on a bounded worker pool.
//
// Every invocation runs under a deadline (the descriptor's declared
// maximum collection duration, or the configured default), guarded by a
// panic-recovery boundary and routed through the plugin's circuit
// breaker. Validated metrics flow into the buffer; a full buffer is a
// soft failure that is logged and counted but never charged to the
// breaker.
//
// Deadline expiry does not wait for the plugin to cooperate: the result
// is abandoned, the worker-pool slot is released immediately, and the
// orphaned call is left to finish on its own goroutine behind a recovery
// boundary.
type Executor struct {
	config   ExecutorConfig
	logger   Logger
	metrics  MetricsCollector
	handles  HandleProvider
	breakers *BreakerSet
	buffer   *MetricBuffer
	observer ExecutionObserver

	slots    chan struct{}
	inFlight atomic.Int64

	closed   atomic.Bool
	draining sync.WaitGroup
}

// NewExecutor creates an executor with MaxConcurrent pool slots.
func NewExecutor(config ExecutorConfig, handles HandleProvider, breakers *BreakerSet, buffer *MetricBuffer, observer ExecutionObserver, logger Logger, metrics MetricsCollector) *Executor {
	return &Executor{
		config:   config,
		logger:   NewLogger(logger),
		metrics:  metrics,
		handles:  handles,
		breakers: breakers,
		buffer:   buffer,
		observer: observer,
		slots:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Submit implements Dispatcher: it runs the collection asynchronously and
// invokes done when the collection returns (or is abandoned on timeout).
// Submissions after Close are dropped.
func (e *Executor) Submit(pluginID string, done func()) {
	if e.closed.Load() {
		if done != nil {
			done()
		}
		return
	}

	e.draining.Add(1)
	safeGo(e.logger, func() {
		defer e.draining.Done()
		if done != nil {
			defer done()
		}
		if _, err := e.Execute(pluginID); err != nil {
			e.logger.Debug("Collection finished with failure", "plugin", pluginID, "error", err)
		}
	})
}

// Execute performs one guarded collection for the plugin and returns the
// validated metrics that were admitted to the buffer.
//
// Failure classification:
//   - breaker rejection: BreakerOpenError, not charged to the breaker
//   - resolution failure: PluginNotRunnableError / PluginNotFoundError
//   - deadline expiry: PluginTimeoutError, charged to the breaker
//   - panic: PluginCrashError, charged to the breaker
//   - plugin error: collection error, charged to the breaker
//
// Per-metric validation failures never fail the batch: invalid entries
// are dropped and counted individually.
func (e *Executor) Execute(pluginID string) ([]Metric, error) {
	breaker := e.breakers.Get(pluginID)
	if !breaker.Allow() {
		return nil, NewBreakerOpenError(pluginID)
	}

	plugin, limits, err := e.handles.AcquireHandle(pluginID)
	if err != nil {
		// Resolution failure is a supervisor-side condition, not evidence
		// about the plugin itself; release the half-open trial if any.
		breaker.CancelTrial()
		return nil, err
	}

	e.slots <- struct{}{}
	defer func() { <-e.slots }()

	e.inFlight.Add(1)
	e.metrics.SetGauge(MetricExecutorInFlight, nil, float64(e.inFlight.Load()))
	defer func() {
		e.inFlight.Add(-1)
		e.metrics.SetGauge(MetricExecutorInFlight, nil, float64(e.inFlight.Load()))
	}()

	timeout := e.config.DefaultTimeout
	if limits.MaxCollectionTime > 0 {
		timeout = limits.MaxCollectionTime
	}

	start := timecache.CachedTime()
	collected, err := e.collectWithDeadline(pluginID, plugin, timeout)
	elapsed := time.Since(start)
	e.metrics.RecordHistogram(MetricCollectionSeconds, map[string]string{"plugin": pluginID}, elapsed.Seconds())

	if err != nil {
		breaker.RecordFailure()
		e.metrics.SetGauge(MetricBreakerState, map[string]string{"plugin": pluginID}, float64(breaker.State()))
		e.metrics.IncrementCounter(MetricCollectionsTotal, map[string]string{"plugin": pluginID, "status": "failure"}, 1)
		e.logger.Warn("Collection failed", "plugin", pluginID, "error", err, "elapsed", elapsed)
		if e.observer != nil {
			e.observer.CollectionFailed(pluginID, err, breaker.State())
		}
		return nil, err
	}

	breaker.RecordSuccess()
	e.metrics.SetGauge(MetricBreakerState, map[string]string{"plugin": pluginID}, float64(breaker.State()))
	e.metrics.IncrementCounter(MetricCollectionsTotal, map[string]string{"plugin": pluginID, "status": "success"}, 1)

	admitted := e.admitMetrics(pluginID, collected)
	if e.observer != nil {
		e.observer.CollectionSucceeded(pluginID, breaker.State())
	}
	return admitted, nil
}

// collectionResult carries the outcome of the plugin call across the
// deadline boundary.
type collectionResult struct {
	metrics []Metric
	err     error
}

// collectWithDeadline runs the plugin call on its own goroutine so a
// deadline expiry can return immediately without waiting for the plugin.
func (e *Executor) collectWithDeadline(pluginID string, plugin CollectorPlugin, timeout time.Duration) ([]Metric, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resultChan := make(chan collectionResult, 1)
	go func() {
		defer withRecoveryHandler(func(recovered any, stack []byte) {
			e.logger.Error("Plugin panicked during collection",
				"plugin", pluginID,
				"panic", recovered,
				"stack", string(stack))
			resultChan <- collectionResult{err: NewPluginCrashError(pluginID, recovered)}
		})()

		metrics, err := plugin.CollectMetrics(ctx)
		if err != nil {
			resultChan <- collectionResult{err: NewPluginCollectionError(pluginID, err)}
			return
		}
		resultChan <- collectionResult{metrics: metrics}
	}()

	select {
	case res := <-resultChan:
		return res.metrics, res.err
	case <-ctx.Done():
		return nil, NewPluginTimeoutError(pluginID, timeout)
	}
}

// admitMetrics validates and buffers collected metrics, dropping and
// counting invalid entries and overflow rejections individually.
func (e *Executor) admitMetrics(pluginID string, collected []Metric) []Metric {
	admitted := make([]Metric, 0, len(collected))
	for _, m := range collected {
		normalized, err := normalizeMetric(pluginID, m)
		if err != nil {
			e.metrics.IncrementCounter(MetricDroppedTotal, map[string]string{"plugin": pluginID, "reason": "validation"}, 1)
			e.logger.Debug("Invalid metric dropped", "plugin", pluginID, "error", err)
			continue
		}

		if err := e.buffer.Push(normalized); err != nil {
			// Buffer overflow is backpressure, not plugin failure.
			e.metrics.IncrementCounter(MetricDroppedTotal, map[string]string{"plugin": pluginID, "reason": "overflow"}, 1)
			e.logger.Warn("Metric dropped, buffer full", "plugin", pluginID, "device", normalized.DeviceID)
			continue
		}
		admitted = append(admitted, normalized)
	}

	if len(admitted) > 0 {
		e.metrics.IncrementCounter(MetricCollectedTotal, map[string]string{"plugin": pluginID}, int64(len(admitted)))
	}
	e.metrics.SetGauge(MetricBufferDepth, nil, float64(e.buffer.Len()))
	return admitted
}

// Close stops accepting submissions and waits for in-flight collections
// to drain, up to the context deadline.
func (e *Executor) Close(ctx context.Context) error {
	e.closed.Store(true)

	drained := make(chan struct{})
	go func() {
		e.draining.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return NewShutdownTimeoutError("executor")
	}
}

// InFlight returns the number of collections currently executing.
func (e *Executor) InFlight() int64 {
	return e.inFlight.Load()
}

// recognizedUnits is the closed set of units a metric may carry. The set
// covers the power/energy domain plus the generic units collectors use
// for availability and throughput data.
var recognizedUnits = map[string]struct{}{
	"W": {}, "kW": {}, "Wh": {}, "kWh": {},
	"V": {}, "A": {}, "Hz": {},
	"C": {}, "F": {},
	"%": {}, "count": {}, "bytes": {},
	"ms": {}, "s": {},
}

// normalizeMetric validates one collected metric and fills defaults:
// a zero timestamp becomes the collection time, and a zero quality score
// defaults to 1. Returns a MetricValidationError for entries that must
// be dropped.
func normalizeMetric(pluginID string, m Metric) (Metric, error) {
	if m.DeviceID == "" {
		return Metric{}, NewMetricValidationError(pluginID, "empty device_id")
	}
	if m.Type == "" {
		return Metric{}, NewMetricValidationError(pluginID, "empty metric_type")
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return Metric{}, NewMetricValidationError(pluginID, "non-finite value")
	}
	if _, ok := recognizedUnits[m.Unit]; !ok {
		return Metric{}, NewMetricValidationError(pluginID, "unrecognized unit "+m.Unit)
	}
	if m.Quality < 0 || m.Quality > 1 {
		return Metric{}, NewMetricValidationError(pluginID, "quality score out of range")
	}

	if m.Timestamp.IsZero() {
		m.Timestamp = timecache.CachedTime()
	}
	if m.Quality == 0 {
		m.Quality = 1
	}
	return m, nil
}
