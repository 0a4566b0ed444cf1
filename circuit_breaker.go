// circuit_breaker.go: Per-plugin circuit breaker with escalating cool-down
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CircuitState represents the current operational state of a circuit breaker.
//
// The circuit breaker pattern parks a chronically failing plugin so its
// failures cannot monopolize the executor pool, and periodically probes it
// for recovery.
//
// State behaviors:
//   - BreakerClosed: Normal operation, all collections are dispatched
//   - BreakerOpen: Dispatch is suspended until the cool-down elapses
//   - BreakerHalfOpen: Exactly one trial collection is admitted
type CircuitState int32

const (
	BreakerClosed CircuitState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns a human-readable representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive collection failures for one plugin.
//
// Closed state admits all collections. Each failure increments the
// consecutive-failure count; reaching the configured threshold opens the
// circuit and records the opening time. While open, Allow rejects
// dispatch until the cool-down elapses, at which point the breaker moves
// to half-open and admits exactly one trial. A trial success closes the
// circuit and resets the cool-down to its configured base; a trial
// failure reopens it and doubles the cool-down up to the configured cap.
//
// The breaker is mutated only by the executor's success/failure callbacks
// and by Allow at dispatch time; the scheduler reads DispatchAllowed to
// decide whether a due task should be skipped.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	// state is kept in an atomic for lock-free reads on the dispatch path.
	state atomic.Int32

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
	coolDown            time.Duration
	trialInFlight       bool
	openedCount         int64

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		config:   config,
		coolDown: config.CoolDown,
		now:      timecache.CachedTime,
	}
	cb.state.Store(int32(BreakerClosed))
	return cb
}

// Allow reports whether a collection may be dispatched now, reserving the
// half-open trial slot when the cool-down has elapsed.
//
//   - BreakerClosed: always true
//   - BreakerOpen: false until the cool-down elapses; the first call after
//     that transitions to BreakerHalfOpen and returns true
//   - BreakerHalfOpen: false while the trial is in flight
//
// A true return from the open state reserves the single trial call; the
// caller must follow up with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.config.Enabled {
		return true
	}

	switch CircuitState(cb.state.Load()) {
	case BreakerClosed:
		return true

	case BreakerOpen:
		cb.mu.Lock()
		defer cb.mu.Unlock()
		// Re-check under lock; another caller may have taken the trial.
		if CircuitState(cb.state.Load()) != BreakerOpen {
			return false
		}
		if cb.now().Sub(cb.openedAt) < cb.coolDown {
			return false
		}
		cb.state.Store(int32(BreakerHalfOpen))
		cb.trialInFlight = true
		return true

	case BreakerHalfOpen:
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful collection.
//
// In the half-open state the trial success closes the circuit and resets
// the cool-down to its configured base. In the closed state it clears the
// consecutive-failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	if CircuitState(cb.state.Load()) == BreakerHalfOpen {
		cb.coolDown = cb.config.CoolDown
		cb.state.Store(int32(BreakerClosed))
	}
}

// RecordFailure records a failed collection and may open the circuit.
//
// In the closed state the consecutive-failure count is incremented and the
// circuit opens once it reaches the threshold. In the half-open state the
// trial failure reopens the circuit immediately and doubles the cool-down
// up to the configured cap.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch CircuitState(cb.state.Load()) {
	case BreakerClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}

	case BreakerHalfOpen:
		cb.trialInFlight = false
		cb.consecutiveFailures++
		cb.coolDown = minDuration(cb.coolDown*2, cb.config.MaxCoolDown)
		cb.open()
	}
}

// open transitions to BreakerOpen. Caller must hold cb.mu.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.openedCount++
	cb.state.Store(int32(BreakerOpen))
}

// CancelTrial releases a reserved half-open trial slot without recording
// an outcome. Used when a dispatched collection could not be attempted
// (for example, the plugin stopped between scheduling and execution).
func (cb *CircuitBreaker) CancelTrial() {
	if !cb.config.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

// State returns the current circuit state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// DispatchAllowed reports whether the scheduler should dispatch a due
// task, without reserving the trial slot: true unless the breaker is open
// with an unexpired cool-down. The actual trial reservation happens in
// Allow on the dispatch path.
func (cb *CircuitBreaker) DispatchAllowed() bool {
	if !cb.config.Enabled {
		return true
	}
	if CircuitState(cb.state.Load()) != BreakerOpen {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Sub(cb.openedAt) >= cb.coolDown
}

// Reset forcibly closes the breaker and clears all counters. Used on
// manual plugin reload.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	cb.coolDown = cb.config.CoolDown
	cb.state.Store(int32(BreakerClosed))
}

// SetFailureThreshold adjusts the consecutive-failure threshold at
// runtime. An already-open circuit is unaffected until it closes again.
func (cb *CircuitBreaker) SetFailureThreshold(threshold int) {
	if threshold < 1 {
		return
	}
	cb.mu.Lock()
	cb.config.FailureThreshold = threshold
	cb.mu.Unlock()
}

// Stats returns a snapshot of the breaker for monitoring.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:               CircuitState(cb.state.Load()),
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
		CoolDown:            cb.coolDown,
		TimesOpened:         cb.openedCount,
	}
}

// CircuitBreakerStats is a monitoring snapshot of one breaker.
type CircuitBreakerStats struct {
	State               CircuitState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at"`
	CoolDown            time.Duration `json:"cool_down"`
	TimesOpened         int64         `json:"times_opened"`
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// BreakerSet is the per-plugin circuit breaker table shared by the
// scheduler (reads) and the executor (mutations).
type BreakerSet struct {
	mu       sync.RWMutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker table with a shared configuration.
func NewBreakerSet(config CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a plugin, creating it on first use.
func (bs *BreakerSet) Get(pluginID string) *CircuitBreaker {
	bs.mu.RLock()
	cb, ok := bs.breakers[pluginID]
	bs.mu.RUnlock()
	if ok {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb, ok = bs.breakers[pluginID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(bs.config)
	bs.breakers[pluginID] = cb
	return cb
}

// Remove drops the breaker of an unloaded plugin.
func (bs *BreakerSet) Remove(pluginID string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	delete(bs.breakers, pluginID)
}

// SetFailureThreshold adjusts the failure threshold for every tracked
// breaker and for breakers created afterwards.
func (bs *BreakerSet) SetFailureThreshold(threshold int) {
	if threshold < 1 {
		return
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.config.FailureThreshold = threshold
	for _, cb := range bs.breakers {
		cb.SetFailureThreshold(threshold)
	}
}

// States returns the current state of every tracked breaker.
func (bs *BreakerSet) States() map[string]CircuitState {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make(map[string]CircuitState, len(bs.breakers))
	for id, cb := range bs.breakers {
		out[id] = cb.State()
	}
	return out
}
