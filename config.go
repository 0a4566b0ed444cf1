// config.go: Configuration structures for the harvest runtime
//
// Configuration loading (files, flags, environment) is owned by the host
// application; this file defines the typed configuration consumed by the
// pipeline, with validation and defaulting per section. Runtime-adjustable
// tunables can additionally be hot-reloaded through the TunablesWatcher.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"fmt"
	"time"
)

// OverflowPolicy selects the buffer's behavior when it is at capacity.
type OverflowPolicy string

const (
	// OverflowReject fails the push; the caller drops the metric.
	OverflowReject OverflowPolicy = "reject"
	// OverflowEvictOldest drops the oldest buffered entry to make room,
	// incrementing the data-loss counter.
	OverflowEvictOldest OverflowPolicy = "evict-oldest"
)

// CircuitBreakerConfig controls the per-plugin circuit breakers.
//
// The breaker counts consecutive collection failures; reaching
// FailureThreshold opens the circuit. After CoolDown elapses the breaker
// half-opens and admits exactly one trial collection. A trial success
// closes the circuit and resets the cool-down; a trial failure reopens it
// and doubles the cool-down up to MaxCoolDown.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	CoolDown         time.Duration `json:"cool_down" yaml:"cool_down"`
	MaxCoolDown      time.Duration `json:"max_cool_down" yaml:"max_cool_down"`
}

// Validate checks circuit breaker configuration for consistency.
func (c *CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker: failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.CoolDown <= 0 {
		return fmt.Errorf("circuit breaker: cool_down must be positive, got %v", c.CoolDown)
	}
	if c.MaxCoolDown < c.CoolDown {
		return fmt.Errorf("circuit breaker: max_cool_down %v must be >= cool_down %v", c.MaxCoolDown, c.CoolDown)
	}
	return nil
}

// BufferConfig controls the bounded metric buffer.
type BufferConfig struct {
	Capacity       int            `json:"capacity" yaml:"capacity"`
	OverflowPolicy OverflowPolicy `json:"overflow_policy" yaml:"overflow_policy"`
}

// Validate checks buffer configuration for consistency.
func (c *BufferConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("buffer: capacity must be positive, got %d", c.Capacity)
	}
	switch c.OverflowPolicy {
	case OverflowReject, OverflowEvictOldest:
		return nil
	default:
		return fmt.Errorf("buffer: unknown overflow policy %q", c.OverflowPolicy)
	}
}

// RetryConfig contains retry and backoff configuration for sink deliveries.
//
// The retry logic:
//  1. First retry after InitialInterval
//  2. Each subsequent retry multiplies the interval by Multiplier
//  3. The interval never exceeds MaxInterval
//  4. Delivery is abandoned after MaxRetries attempts and the batch spills
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`
}

// Validate checks retry configuration for consistency.
func (c *RetryConfig) Validate() error {
	if c.MaxRetries <= 0 {
		return fmt.Errorf("retry: max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.InitialInterval <= 0 || c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("retry: invalid interval bounds %v..%v", c.InitialInterval, c.MaxInterval)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %v", c.Multiplier)
	}
	return nil
}

// SpillConfig controls the disk-backed overflow spill used when sink
// retries are exhausted. Spilled segments survive process restarts and are
// re-delivered before new batches once the sink recovers.
type SpillConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	MaxBytes int64  `json:"max_bytes" yaml:"max_bytes"`
}

// Validate checks spill configuration for consistency.
func (c *SpillConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("spill: dir must not be empty")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("spill: max_bytes must be positive, got %d", c.MaxBytes)
	}
	return nil
}

// FlusherConfig controls the batch flusher.
//
// The flusher drains the buffer every Interval, or early once the buffer
// depth reaches FlushThreshold, whichever occurs first. Each drain hands
// at most MaxBatchSize metrics to the sink.
type FlusherConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	FlushThreshold int           `json:"flush_threshold" yaml:"flush_threshold"`
	MaxBatchSize   int           `json:"max_batch_size" yaml:"max_batch_size"`
	Retry          RetryConfig   `json:"retry" yaml:"retry"`
	Spill          SpillConfig   `json:"spill" yaml:"spill"`
}

// Validate checks flusher configuration for consistency.
func (c *FlusherConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("flusher: interval must be positive, got %v", c.Interval)
	}
	if c.FlushThreshold <= 0 {
		return fmt.Errorf("flusher: flush_threshold must be positive, got %d", c.FlushThreshold)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("flusher: max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return c.Spill.Validate()
}

// SchedulerConfig controls the collection scheduler.
//
// JitterFraction spreads fire times by a uniform random offset of
// ±JitterFraction*interval to avoid thundering-herd collection spikes.
type SchedulerConfig struct {
	TickInterval   time.Duration `json:"tick_interval" yaml:"tick_interval"`
	JitterFraction float64       `json:"jitter_fraction" yaml:"jitter_fraction"`
}

// Validate checks scheduler configuration for consistency.
func (c *SchedulerConfig) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("scheduler: tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		return fmt.Errorf("scheduler: jitter_fraction must be in [0,1), got %v", c.JitterFraction)
	}
	return nil
}

// ExecutorConfig controls the collection executor pool.
//
// MaxConcurrent bounds total in-flight collections across all plugins,
// independent of the per-plugin single-outstanding-call rule enforced by
// the scheduler. DefaultTimeout applies to plugins whose descriptor does
// not declare a MaxCollectionTime.
type ExecutorConfig struct {
	MaxConcurrent  int           `json:"max_concurrent" yaml:"max_concurrent"`
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
}

// Validate checks executor configuration for consistency.
func (c *ExecutorConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("executor: max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("executor: default_timeout must be positive, got %v", c.DefaultTimeout)
	}
	return nil
}

// BackoffConfig describes an exponential backoff with full jitter: each
// delay is drawn uniformly from [0, min(Max, Initial*2^attempt)].
type BackoffConfig struct {
	Initial time.Duration `json:"initial" yaml:"initial"`
	Max     time.Duration `json:"max" yaml:"max"`
}

// Validate checks backoff configuration for consistency.
func (c *BackoffConfig) Validate() error {
	if c.Initial <= 0 || c.Max < c.Initial {
		return fmt.Errorf("backoff: invalid bounds %v..%v", c.Initial, c.Max)
	}
	return nil
}

// SupervisorConfig controls plugin lifecycle supervision.
type SupervisorConfig struct {
	// RestartBackoff is applied between crash restarts of a plugin.
	RestartBackoff BackoffConfig `json:"restart_backoff" yaml:"restart_backoff"`
	// MaxRestarts is the maximum number of consecutive restarts before an
	// instance is moved to PluginFailed and excluded from scheduling.
	MaxRestarts int `json:"max_restarts" yaml:"max_restarts"`
	// HealthCheckInterval is the period of background health polling.
	// Zero disables background polling.
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	// HealthFailureLimit is the number of consecutive failed health polls
	// after which an instance is considered offline.
	HealthFailureLimit int `json:"health_failure_limit" yaml:"health_failure_limit"`
	// ResourcePollInterval is the period of resource-limit monitoring.
	// Zero disables resource monitoring.
	ResourcePollInterval time.Duration `json:"resource_poll_interval" yaml:"resource_poll_interval"`
}

// Validate checks supervisor configuration for consistency.
func (c *SupervisorConfig) Validate() error {
	if err := c.RestartBackoff.Validate(); err != nil {
		return err
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("supervisor: max_restarts must be >= 0, got %d", c.MaxRestarts)
	}
	if c.HealthCheckInterval < 0 || c.ResourcePollInterval < 0 {
		return fmt.Errorf("supervisor: poll intervals must be >= 0")
	}
	if c.HealthCheckInterval > 0 && c.HealthFailureLimit <= 0 {
		return fmt.Errorf("supervisor: health_failure_limit must be positive when health polling is enabled")
	}
	return nil
}

// PluginRuntimeConfig is one per-plugin configuration record consumed by
// the pipeline: instance ID, collection interval, and opaque plugin
// configuration validated against the descriptor's schema.
type PluginRuntimeConfig struct {
	ID       string         `json:"id" yaml:"id"`
	Interval time.Duration  `json:"interval" yaml:"interval"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PipelineConfig aggregates the configuration of every pipeline component.
type PipelineConfig struct {
	Supervisor     SupervisorConfig     `json:"supervisor" yaml:"supervisor"`
	Scheduler      SchedulerConfig      `json:"scheduler" yaml:"scheduler"`
	Executor       ExecutorConfig       `json:"executor" yaml:"executor"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Buffer         BufferConfig         `json:"buffer" yaml:"buffer"`
	Flusher        FlusherConfig        `json:"flusher" yaml:"flusher"`
}

// Validate checks the whole pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if err := c.Supervisor.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Executor.Validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	if err := c.Buffer.Validate(); err != nil {
		return err
	}
	return c.Flusher.Validate()
}

// GetDefaultPipelineConfig returns the documented default configuration:
// buffer of 10000 with reject policy, 60s/1000-metric flush triggers,
// 5-failure breaker with a 30s cool-down doubling up to 5m, a 16-slot
// executor pool with 10s collection timeout, and full-jitter restart
// backoff from 2s up to 5m capped at 5 consecutive restarts.
func GetDefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Supervisor: SupervisorConfig{
			RestartBackoff: BackoffConfig{
				Initial: 2 * time.Second,
				Max:     5 * time.Minute,
			},
			MaxRestarts:          5,
			HealthCheckInterval:  30 * time.Second,
			HealthFailureLimit:   3,
			ResourcePollInterval: 15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:   time.Second,
			JitterFraction: 0.1,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:  16,
			DefaultTimeout: 10 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
			MaxCoolDown:      5 * time.Minute,
		},
		Buffer: BufferConfig{
			Capacity:       10000,
			OverflowPolicy: OverflowReject,
		},
		Flusher: FlusherConfig{
			Interval:       60 * time.Second,
			FlushThreshold: 1000,
			MaxBatchSize:   500,
			Retry: RetryConfig{
				MaxRetries:      5,
				InitialInterval: time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
			},
			Spill: SpillConfig{
				Dir:      "spill",
				MaxBytes: 64 << 20,
			},
		},
	}
}
