// supervisor_test.go: Plugin lifecycle and crash-restart tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPlugin tracks lifecycle calls so restart tests can observe
// instance recreation.
type countingPlugin struct {
	mu     sync.Mutex
	closed bool
	health HealthStatus
}

func (p *countingPlugin) CollectMetrics(ctx context.Context) ([]Metric, error) {
	return []Metric{{DeviceID: "d", Type: "t", Value: 1, Unit: "W"}}, nil
}
func (p *countingPlugin) Capabilities() []string { return []string{"test"} }
func (p *countingPlugin) Health(ctx context.Context) HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.health.Status == StatusUnknown {
		return HealthStatus{Status: StatusHealthy}
	}
	return p.health
}
func (p *countingPlugin) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// countingFactory counts plugin creations and can be told to fail.
type countingFactory struct {
	mu        sync.Mutex
	created   int
	failNext  bool
	lastBuilt *countingPlugin
}

func (f *countingFactory) CreatePlugin(descriptor PluginDescriptor, config map[string]any) (CollectorPlugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, errors.New("connection refused")
	}
	f.created++
	f.lastBuilt = &countingPlugin{}
	return f.lastBuilt, nil
}

func (f *countingFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func testSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		RestartBackoff: BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond},
		MaxRestarts:    3,
		// Health polling disabled; tests drive health transitions directly.
		HealthCheckInterval: 0,
	}
}

func testDescriptor(id string) PluginDescriptor {
	return PluginDescriptor{ID: id, Type: "test-collector"}
}

func newSupervisorFixture(t *testing.T) (*Supervisor, *countingFactory) {
	t.Helper()
	factory := &countingFactory{}
	registry := NewFactoryRegistry()
	require.NoError(t, registry.Register("test-collector", factory))
	return NewSupervisor(testSupervisorConfig(), registry, NewTestLogger(), NewNoOpMetricsCollector()), factory
}

func loadAndStart(t *testing.T, s *Supervisor, id string) {
	t.Helper()
	require.NoError(t, s.Load(testDescriptor(id), nil))
	require.NoError(t, s.Start(id))
}

func TestSupervisor_LoadValidation(t *testing.T) {
	s, _ := newSupervisorFixture(t)

	t.Run("empty_id", func(t *testing.T) {
		err := s.Load(PluginDescriptor{Type: "test-collector"}, nil)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("unknown_type", func(t *testing.T) {
		err := s.Load(PluginDescriptor{ID: "x", Type: "nonexistent"}, nil)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("duplicate_id", func(t *testing.T) {
		require.NoError(t, s.Load(testDescriptor("meter-1"), nil))
		err := s.Load(testDescriptor("meter-1"), nil)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("schema_violation", func(t *testing.T) {
		descriptor := testDescriptor("meter-2")
		descriptor.ConfigSchema = ConfigSchema{
			"host": {Type: FieldString, Required: true},
		}
		err := s.Load(descriptor, nil)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err), "schema violation is a configuration error")

		_, lookupErr := s.Instance("meter-2")
		assert.Error(t, lookupErr, "failed load must not leave a partial instance")
	})
}

func TestSupervisor_LifecycleTransitions(t *testing.T) {
	s, _ := newSupervisorFixture(t)

	require.NoError(t, s.Load(testDescriptor("meter-1"), nil))
	snapshot, err := s.Instance("meter-1")
	require.NoError(t, err)
	assert.Equal(t, PluginConfigured, snapshot.State)

	require.NoError(t, s.Start("meter-1"))
	snapshot, _ = s.Instance("meter-1")
	assert.Equal(t, PluginRunning, snapshot.State)

	err = s.Start("meter-1")
	require.Error(t, err, "starting a running plugin is an invalid transition")

	require.NoError(t, s.Stop("meter-1"))
	snapshot, _ = s.Instance("meter-1")
	assert.Equal(t, PluginStopped, snapshot.State)

	require.NoError(t, s.Unload("meter-1"))
	_, err = s.Instance("meter-1")
	assert.Error(t, err)
}

func TestSupervisor_HealthEvents(t *testing.T) {
	s, _ := newSupervisorFixture(t)

	var mu sync.Mutex
	var events []HealthEvent
	s.OnHealthEvent(func(event HealthEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	loadAndStart(t, s, "meter-1")
	require.NoError(t, s.Stop("meter-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, PluginConfigured, events[0].NewState)
	assert.Equal(t, PluginRunning, events[1].NewState)
	assert.Equal(t, PluginStopped, events[2].NewState)
	for _, event := range events {
		assert.NotEmpty(t, event.EventID)
		assert.Equal(t, "meter-1", event.PluginID)
		assert.False(t, event.Timestamp.IsZero())
	}
}

func TestSupervisor_RunnableAndHandles(t *testing.T) {
	s, _ := newSupervisorFixture(t)

	assert.False(t, s.Runnable("meter-1"), "unknown plugin is never runnable")
	_, _, err := s.AcquireHandle("meter-1")
	assert.Error(t, err)

	require.NoError(t, s.Load(testDescriptor("meter-1"), nil))
	assert.False(t, s.Runnable("meter-1"), "configured but not started")
	_, _, err = s.AcquireHandle("meter-1")
	assert.Error(t, err)

	require.NoError(t, s.Start("meter-1"))
	assert.True(t, s.Runnable("meter-1"))
	plugin, _, err := s.AcquireHandle("meter-1")
	require.NoError(t, err)
	assert.NotNil(t, plugin)

	require.NoError(t, s.Stop("meter-1"))
	assert.False(t, s.Runnable("meter-1"))
}

func TestSupervisor_CrashSchedulesRestart(t *testing.T) {
	s, factory := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")
	require.Equal(t, 1, factory.Created())

	s.CollectionFailed("meter-1", NewPluginCrashError("meter-1", "boom"), BreakerClosed)

	require.Eventually(t, func() bool {
		snapshot, err := s.Instance("meter-1")
		return err == nil && snapshot.State == PluginRunning && factory.Created() == 2
	}, 2*time.Second, time.Millisecond, "crashed instance must be recreated and return to Running")
}

func TestSupervisor_TimeoutSchedulesRestart(t *testing.T) {
	s, factory := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")
	require.Equal(t, 1, factory.Created())

	s.CollectionFailed("meter-1", NewPluginTimeoutError("meter-1", time.Second), BreakerClosed)

	require.Eventually(t, func() bool {
		snapshot, err := s.Instance("meter-1")
		return err == nil && snapshot.State == PluginRunning && factory.Created() == 2
	}, 2*time.Second, time.Millisecond, "a hung plugin must be recreated like a crashed one")
}

func TestSupervisor_BreakerOpenDegrades(t *testing.T) {
	s, _ := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")

	s.CollectionFailed("meter-1", NewPluginCollectionError("meter-1", errors.New("unreachable")), BreakerOpen)
	snapshot, _ := s.Instance("meter-1")
	assert.Equal(t, PluginDegraded, snapshot.State)
	assert.True(t, s.Runnable("meter-1"), "degraded instances stay dispatchable for the breaker trial")

	s.CollectionSucceeded("meter-1", BreakerClosed)
	snapshot, _ = s.Instance("meter-1")
	assert.Equal(t, PluginRunning, snapshot.State, "closed breaker after trial success restores Running")
	assert.Equal(t, 0, snapshot.RestartCount)
}

func TestSupervisor_MaxRestartsLeadsToFailed(t *testing.T) {
	s, _ := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")

	// Each crash schedules a restart; crash again as soon as the instance
	// is back. After MaxRestarts consecutive restarts the supervisor must
	// give up.
	for i := 0; i < 4; i++ {
		s.CollectionFailed("meter-1", NewPluginCrashError("meter-1", "boom"), BreakerClosed)
		require.Eventually(t, func() bool {
			snapshot, err := s.Instance("meter-1")
			if err != nil {
				return false
			}
			return snapshot.State == PluginRunning || snapshot.State == PluginFailed
		}, 2*time.Second, time.Millisecond)
	}

	snapshot, err := s.Instance("meter-1")
	require.NoError(t, err)
	assert.Equal(t, PluginFailed, snapshot.State, "restart budget exhausted must move the instance to Failed")
	assert.False(t, s.Runnable("meter-1"))

	err = s.Restart("meter-1")
	require.Error(t, err, "failed instances require a full reload")

	require.NoError(t, s.Unload("meter-1"), "failed instances can always be unloaded")
}

func TestSupervisor_SuccessResetsRestartBudget(t *testing.T) {
	s, _ := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")

	s.CollectionFailed("meter-1", NewPluginCrashError("meter-1", "boom"), BreakerClosed)
	require.Eventually(t, func() bool {
		snapshot, err := s.Instance("meter-1")
		return err == nil && snapshot.State == PluginRunning
	}, 2*time.Second, time.Millisecond)

	s.CollectionSucceeded("meter-1", BreakerClosed)
	snapshot, _ := s.Instance("meter-1")
	assert.Equal(t, 0, snapshot.RestartCount, "a successful collection resets the restart budget")
}

func TestSupervisor_ReportHealth(t *testing.T) {
	s, _ := newSupervisorFixture(t)

	_, err := s.ReportHealth("missing")
	require.Error(t, err)

	loadAndStart(t, s, "meter-1")
	status, err := s.ReportHealth("meter-1")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, status.Status)

	s.CollectionFailed("meter-1", NewPluginCollectionError("meter-1", errors.New("x")), BreakerOpen)
	status, err = s.ReportHealth("meter-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, status.Status)
}

func TestSupervisor_ResourceBreachForcesRestart(t *testing.T) {
	s, factory := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")
	require.Equal(t, 1, factory.Created())

	s.ResourceBreached("meter-1", ResourceUsage{CPUPercent: 99, MemoryBytes: 1 << 30})

	require.Eventually(t, func() bool {
		return factory.Created() == 2
	}, 2*time.Second, time.Millisecond, "breaching instance must be recreated")
}

func TestSupervisor_Shutdown(t *testing.T) {
	s, _ := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")
	loadAndStart(t, s, "meter-2")

	require.NoError(t, s.Shutdown(context.Background()))

	for _, id := range []string{"meter-1", "meter-2"} {
		snapshot, err := s.Instance(id)
		require.NoError(t, err)
		assert.Equal(t, PluginStopped, snapshot.State)
	}
}

// slowHealthPlugin blocks inside Health long enough that a poll is in
// flight whenever the supervisor tears the instance down.
type slowHealthPlugin struct {
	delay time.Duration
}

func (p *slowHealthPlugin) CollectMetrics(ctx context.Context) ([]Metric, error) {
	return []Metric{{DeviceID: "d", Type: "t", Value: 1, Unit: "W"}}, nil
}
func (p *slowHealthPlugin) Capabilities() []string { return []string{"test"} }
func (p *slowHealthPlugin) Health(ctx context.Context) HealthStatus {
	time.Sleep(p.delay)
	return HealthStatus{Status: StatusHealthy}
}
func (p *slowHealthPlugin) Close() error { return nil }

func TestSupervisor_StopDoesNotBlockOnHealthPoll(t *testing.T) {
	registry := NewFactoryRegistry()
	require.NoError(t, registry.Register("slow-health", PluginFactoryFunc(
		func(descriptor PluginDescriptor, config map[string]any) (CollectorPlugin, error) {
			return &slowHealthPlugin{delay: 200 * time.Millisecond}, nil
		})))

	config := testSupervisorConfig()
	config.HealthCheckInterval = 10 * time.Millisecond
	s := NewSupervisor(config, registry, NewTestLogger(), NewNoOpMetricsCollector())

	require.NoError(t, s.Load(PluginDescriptor{ID: "meter-1", Type: "slow-health"}, nil))
	require.NoError(t, s.Start("meter-1"))

	// Give the checker time to enter a poll, then stop while the poll is
	// blocked inside Health.
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Stop("meter-1") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop must not block behind an in-flight health poll")
	}

	// The registry stays usable and the instance landed in Stopped; the
	// late poll result from the detached checker is discarded.
	snapshot, err := s.Instance("meter-1")
	require.NoError(t, err)
	assert.Equal(t, PluginStopped, snapshot.State)
}

func TestSupervisor_ResourceSamples(t *testing.T) {
	s, _ := newSupervisorFixture(t)
	loadAndStart(t, s, "meter-1")

	// countingPlugin does not implement ResourceReporter.
	assert.Empty(t, s.ResourceSamples())
}
