// circuit_breaker_test.go: Circuit breaker state machine tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
		MaxCoolDown:      5 * time.Minute,
	}
}

// fakeClock drives the breaker's time source deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(config CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker(config)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitState_String(t *testing.T) {
	testCases := []struct {
		state    CircuitState
		expected string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.state.String())
		})
	}
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(testBreakerConfig())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.Equal(t, BreakerClosed, cb.State(), "breaker must stay closed below the threshold")
		assert.True(t, cb.Allow())
	}

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State(), "fifth consecutive failure must open the circuit")
	assert.False(t, cb.Allow(), "open circuit must reject dispatch before cool-down")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(testBreakerConfig())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()

	// The count restarts from zero, so four more failures stay closed.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(testBreakerConfig())
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, BreakerOpen, cb.State())

	clock.Advance(29 * time.Second)
	assert.False(t, cb.Allow(), "cool-down has one second left")

	clock.Advance(time.Second)
	assert.True(t, cb.Allow(), "cool-down elapsed, trial must be admitted")
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial may be in flight")
}

func TestCircuitBreaker_TrialSuccessClosesAndResetsCoolDown(t *testing.T) {
	cb, clock := newTestBreaker(testBreakerConfig())
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, 30*time.Second, cb.Stats().CoolDown, "cool-down must reset to base on recovery")
}

func TestCircuitBreaker_TrialFailureDoublesCoolDown(t *testing.T) {
	cb, clock := newTestBreaker(testBreakerConfig())

	failUntilOpen := func() {
		for cb.State() != BreakerOpen {
			cb.RecordFailure()
		}
	}
	failTrial := func(wait time.Duration) {
		clock.Advance(wait)
		require.True(t, cb.Allow())
		cb.RecordFailure()
		require.Equal(t, BreakerOpen, cb.State())
	}

	failUntilOpen()
	assert.Equal(t, 30*time.Second, cb.Stats().CoolDown)

	failTrial(30 * time.Second)
	assert.Equal(t, time.Minute, cb.Stats().CoolDown)

	failTrial(time.Minute)
	assert.Equal(t, 2*time.Minute, cb.Stats().CoolDown)

	failTrial(2 * time.Minute)
	assert.Equal(t, 4*time.Minute, cb.Stats().CoolDown)

	failTrial(4 * time.Minute)
	assert.Equal(t, 5*time.Minute, cb.Stats().CoolDown, "cool-down must cap at the configured maximum")

	failTrial(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, cb.Stats().CoolDown)
}

func TestCircuitBreaker_CancelTrialReleasesSlot(t *testing.T) {
	cb, clock := newTestBreaker(testBreakerConfig())
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.True(t, cb.Allow())
	require.False(t, cb.Allow())

	cb.CancelTrial()
	assert.True(t, cb.Allow(), "cancelled trial must free the half-open slot")
}

func TestCircuitBreaker_DispatchAllowed(t *testing.T) {
	cb, clock := newTestBreaker(testBreakerConfig())
	assert.True(t, cb.DispatchAllowed())

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.DispatchAllowed(), "open with unexpired cool-down must not be dispatched")

	clock.Advance(30 * time.Second)
	assert.True(t, cb.DispatchAllowed())
	assert.Equal(t, BreakerOpen, cb.State(), "DispatchAllowed must not reserve the trial")
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{Enabled: false})
	for i := 0; i < 100; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.Allow())
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(testBreakerConfig())
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, BreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cb.Stats().CoolDown)
}

func TestBreakerSet_LazyCreationAndRemoval(t *testing.T) {
	bs := NewBreakerSet(testBreakerConfig())

	cb := bs.Get("meter-1")
	require.NotNil(t, cb)
	assert.Same(t, cb, bs.Get("meter-1"), "repeated Get must return the same breaker")

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	states := bs.States()
	assert.Equal(t, BreakerOpen, states["meter-1"])

	bs.Remove("meter-1")
	assert.Equal(t, BreakerClosed, bs.Get("meter-1").State(), "removed breaker must be recreated fresh")
}

func TestBreakerSet_SetFailureThreshold(t *testing.T) {
	bs := NewBreakerSet(testBreakerConfig())
	existing := bs.Get("meter-1")

	bs.SetFailureThreshold(2)

	existing.RecordFailure()
	existing.RecordFailure()
	assert.Equal(t, BreakerOpen, existing.State(), "new threshold must apply to existing breakers")

	fresh := bs.Get("meter-2")
	fresh.RecordFailure()
	fresh.RecordFailure()
	assert.Equal(t, BreakerOpen, fresh.State(), "new threshold must apply to breakers created later")
}
