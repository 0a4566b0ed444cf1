// buffer.go: Bounded thread-safe metric buffer
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// MetricBuffer is a bounded FIFO of validated metrics awaiting persistence.
//
// The buffer never exceeds its configured capacity. When full, behavior
// depends on the overflow policy: OverflowReject fails the push and the
// caller drops the metric; OverflowEvictOldest drops the oldest buffered
// entry to make room, incrementing the eviction counter.
//
// The buffer is safe for concurrent use by many producers (executor
// workers) and one consumer (the flusher). Threshold crossings are
// signaled on C so the flusher can trigger an early drain.
type MetricBuffer struct {
	mu      sync.Mutex
	entries []BufferEntry
	head    int
	count   int

	capacity  int
	policy    OverflowPolicy
	threshold int

	evicted  int64
	rejected int64

	notify chan struct{}
}

// NewMetricBuffer creates an empty buffer with the given configuration.
// threshold is the depth at which a signal is sent on C; zero disables
// threshold signaling.
func NewMetricBuffer(config BufferConfig, threshold int) *MetricBuffer {
	return &MetricBuffer{
		entries:   make([]BufferEntry, config.Capacity),
		capacity:  config.Capacity,
		policy:    config.OverflowPolicy,
		threshold: threshold,
		notify:    make(chan struct{}, 1),
	}
}

// C signals (with at-most-one pending notification) whenever the buffer
// depth reaches the flush threshold.
func (b *MetricBuffer) C() <-chan struct{} {
	return b.notify
}

// Push appends a metric to the buffer.
//
// Returns a BufferOverflowError when the buffer is full under the reject
// policy; under evict-oldest the push always succeeds and the oldest
// entry is discarded. Overflow is a soft failure: callers log and count
// it, but it is never reported to the plugin's circuit breaker.
func (b *MetricBuffer) Push(metric Metric) error {
	b.mu.Lock()

	if b.count == b.capacity {
		switch b.policy {
		case OverflowEvictOldest:
			b.head = (b.head + 1) % b.capacity
			b.count--
			b.evicted++
		default:
			b.rejected++
			b.mu.Unlock()
			return NewBufferOverflowError(b.capacity)
		}
	}

	b.entries[(b.head+b.count)%b.capacity] = BufferEntry{
		Metric:     metric,
		EnqueuedAt: timecache.CachedTime(),
	}
	b.count++
	depth := b.count
	threshold := b.threshold
	b.mu.Unlock()

	if threshold > 0 && depth >= threshold {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// SetThreshold adjusts the early-flush signaling depth at runtime. Zero
// disables signaling.
func (b *MetricBuffer) SetThreshold(threshold int) {
	b.mu.Lock()
	b.threshold = threshold
	b.mu.Unlock()
}

// Drain removes and returns up to max metrics in FIFO order. A max of
// zero or less drains the entire buffer.
func (b *MetricBuffer) Drain(max int) []Metric {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]Metric, n)
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.head+i)%b.capacity].Metric
	}
	b.head = (b.head + n) % b.capacity
	b.count -= n
	return out
}

// Len returns the current buffer depth.
func (b *MetricBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the configured capacity.
func (b *MetricBuffer) Cap() int {
	return b.capacity
}

// OldestAge returns how long the oldest buffered entry has been waiting,
// or zero when the buffer is empty.
func (b *MetricBuffer) OldestAge() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return 0
	}
	return timecache.CachedTime().Sub(b.entries[b.head].EnqueuedAt)
}

// Stats returns the buffer's loss counters.
func (b *MetricBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Depth:    b.count,
		Capacity: b.capacity,
		Evicted:  b.evicted,
		Rejected: b.rejected,
	}
}

// BufferStats is a monitoring snapshot of the buffer.
type BufferStats struct {
	Depth    int   `json:"depth"`
	Capacity int   `json:"capacity"`
	Evicted  int64 `json:"evicted"`
	Rejected int64 `json:"rejected"`
}
