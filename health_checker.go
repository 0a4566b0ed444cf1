// health_checker.go: Periodic plugin health polling
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// HealthCheckConfig controls the background health poller attached to a
// running plugin instance.
type HealthCheckConfig struct {
	// Interval between background health checks.
	Interval time.Duration

	// Timeout applied to each Health call.
	Timeout time.Duration

	// FailureLimit is the number of consecutive non-healthy results after
	// which the checker reports the plugin as offline.
	FailureLimit int
}

// HealthResultFunc receives the outcome of each health check. It is
// invoked from the checker's goroutine and must not block.
type HealthResultFunc func(status HealthStatus)

// HealthChecker polls a plugin's Health method at a fixed interval and
// reports each result through a callback. Consecutive non-healthy results
// beyond FailureLimit are escalated to StatusOffline so the supervisor
// can degrade the instance independently of collection outcomes.
//
// The checker owns a single goroutine with the usual stop/done channel
// pair; Start and Stop are idempotent.
type HealthChecker struct {
	plugin   CollectorPlugin
	config   HealthCheckConfig
	logger   Logger
	onResult HealthResultFunc

	consecutiveFailures atomic.Int64
	lastCheck           atomic.Int64 // unix nanos
	running             atomic.Bool

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHealthChecker creates a stopped health checker. Call Start to begin
// polling.
func NewHealthChecker(plugin CollectorPlugin, config HealthCheckConfig, logger Logger, onResult HealthResultFunc) *HealthChecker {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.FailureLimit <= 0 {
		config.FailureLimit = 3
	}
	return &HealthChecker{
		plugin:   plugin,
		config:   config,
		logger:   logger,
		onResult: onResult,
	}
}

// Check performs one synchronous health check, updates the failure
// counter, and returns the (possibly escalated) status.
func (hc *HealthChecker) Check() HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), hc.config.Timeout)
	defer cancel()

	start := timecache.CachedTime()
	status := hc.plugin.Health(ctx)
	status.ResponseTime = time.Since(start)
	status.LastCheck = timecache.CachedTime()

	hc.lastCheck.Store(timecache.CachedTimeNano())

	if status.Status == StatusHealthy {
		hc.consecutiveFailures.Store(0)
	} else {
		failures := hc.consecutiveFailures.Add(1)
		if failures >= int64(hc.config.FailureLimit) {
			status.Status = StatusOffline
			status.Message = "exceeded consecutive health failure limit"
		}
	}
	return status
}

// Start launches the polling goroutine. A zero or negative interval
// disables polling; Check remains usable synchronously.
func (hc *HealthChecker) Start() {
	if hc.config.Interval <= 0 {
		return
	}
	if hc.running.CompareAndSwap(false, true) {
		hc.stopChan = make(chan struct{})
		hc.doneChan = make(chan struct{})
		go hc.run()
	}
}

// signalStop requests shutdown without waiting for the goroutine. The
// supervisor signals under its registry lock and waits outside it, since
// the checker's result callback acquires that same lock.
func (hc *HealthChecker) signalStop() {
	if hc.running.CompareAndSwap(true, false) {
		close(hc.stopChan)
	}
}

// Stop halts polling and waits for the goroutine to exit. Callers must
// not hold locks the result callback acquires.
func (hc *HealthChecker) Stop() {
	hc.signalStop()
	if hc.doneChan != nil {
		<-hc.doneChan
	}
}

// IsRunning reports whether the polling goroutine is active.
func (hc *HealthChecker) IsRunning() bool {
	return hc.running.Load()
}

// LastCheck returns the timestamp of the most recent check, or the zero
// time when no check has run yet.
func (hc *HealthChecker) LastCheck() time.Time {
	ns := hc.lastCheck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ConsecutiveFailures returns the current consecutive failure count.
func (hc *HealthChecker) ConsecutiveFailures() int64 {
	return hc.consecutiveFailures.Load()
}

func (hc *HealthChecker) run() {
	defer close(hc.doneChan)
	defer withStackRecover(hc.logger)()

	ticker := time.NewTicker(hc.config.Interval)
	defer ticker.Stop()

	hc.report(hc.Check())

	for {
		select {
		case <-ticker.C:
			hc.report(hc.Check())
		case <-hc.stopChan:
			return
		}
	}
}

func (hc *HealthChecker) report(status HealthStatus) {
	if hc.onResult != nil {
		hc.onResult(status)
	}
}
