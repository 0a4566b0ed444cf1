// config_test.go: Configuration validation tests
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

func TestGetDefaultPipelineConfig(t *testing.T) {
	config := GetDefaultPipelineConfig()
	require.NoError(t, config.Validate(), "defaults must validate")

	assert.Equal(t, 10000, config.Buffer.Capacity)
	assert.Equal(t, OverflowReject, config.Buffer.OverflowPolicy)
	assert.Equal(t, 60*time.Second, config.Flusher.Interval)
	assert.Equal(t, 1000, config.Flusher.FlushThreshold)
	assert.Equal(t, 500, config.Flusher.MaxBatchSize)
	assert.Equal(t, 5, config.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, config.CircuitBreaker.CoolDown)
	assert.Equal(t, 5*time.Minute, config.CircuitBreaker.MaxCoolDown)
	assert.Equal(t, 16, config.Executor.MaxConcurrent)
	assert.Equal(t, 10*time.Second, config.Executor.DefaultTimeout)
	assert.Equal(t, 5, config.Supervisor.MaxRestarts)
	assert.Equal(t, int64(64<<20), config.Flusher.Spill.MaxBytes)
}

func TestPipelineConfig_Validate(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(c *PipelineConfig)
	}{
		{"zero_buffer_capacity", func(c *PipelineConfig) { c.Buffer.Capacity = 0 }},
		{"unknown_overflow_policy", func(c *PipelineConfig) { c.Buffer.OverflowPolicy = "panic" }},
		{"zero_flush_interval", func(c *PipelineConfig) { c.Flusher.Interval = 0 }},
		{"zero_flush_threshold", func(c *PipelineConfig) { c.Flusher.FlushThreshold = 0 }},
		{"zero_batch_size", func(c *PipelineConfig) { c.Flusher.MaxBatchSize = 0 }},
		{"zero_retries", func(c *PipelineConfig) { c.Flusher.Retry.MaxRetries = 0 }},
		{"retry_multiplier_below_one", func(c *PipelineConfig) { c.Flusher.Retry.Multiplier = 0.5 }},
		{"retry_bounds_inverted", func(c *PipelineConfig) { c.Flusher.Retry.MaxInterval = time.Millisecond }},
		{"empty_spill_dir", func(c *PipelineConfig) { c.Flusher.Spill.Dir = "" }},
		{"zero_spill_bytes", func(c *PipelineConfig) { c.Flusher.Spill.MaxBytes = 0 }},
		{"breaker_zero_threshold", func(c *PipelineConfig) { c.CircuitBreaker.FailureThreshold = 0 }},
		{"breaker_cooldown_bounds", func(c *PipelineConfig) { c.CircuitBreaker.MaxCoolDown = time.Second }},
		{"zero_tick_interval", func(c *PipelineConfig) { c.Scheduler.TickInterval = 0 }},
		{"jitter_out_of_range", func(c *PipelineConfig) { c.Scheduler.JitterFraction = 1 }},
		{"zero_pool_size", func(c *PipelineConfig) { c.Executor.MaxConcurrent = 0 }},
		{"zero_default_timeout", func(c *PipelineConfig) { c.Executor.DefaultTimeout = 0 }},
		{"backoff_bounds_inverted", func(c *PipelineConfig) { c.Supervisor.RestartBackoff.Max = time.Millisecond }},
		{"negative_max_restarts", func(c *PipelineConfig) { c.Supervisor.MaxRestarts = -1 }},
		{"health_poll_without_limit", func(c *PipelineConfig) { c.Supervisor.HealthFailureLimit = 0 }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			config := GetDefaultPipelineConfig()
			tc.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestCircuitBreakerConfig_DisabledSkipsValidation(t *testing.T) {
	config := CircuitBreakerConfig{Enabled: false}
	assert.NoError(t, config.Validate(), "disabled breakers need no thresholds")
}

func TestSupervisorConfig_ZeroIntervalsDisablePolling(t *testing.T) {
	config := GetDefaultPipelineConfig().Supervisor
	config.HealthCheckInterval = 0
	config.HealthFailureLimit = 0
	config.ResourcePollInterval = 0
	assert.NoError(t, config.Validate())
}
