// flusher.go: Batch flusher draining the buffer to the storage sink
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

// FatalAlertFunc is invoked when the flusher detects unrecoverable
// data-loss risk: sink retries exhausted while the spill is full. This is
// the only condition the subsystem surfaces as fatal.
type FatalAlertFunc func(err error)

// BatchFlusher drains the metric buffer to the storage sink.
//
// A drain is triggered by the flush timer or early by the buffer
// reaching its size threshold, whichever occurs first. Batches that fail
// delivery are retried with exponential backoff; once retries are
// exhausted the batch is appended to the disk-backed spill instead of
// being discarded. Spilled segments are re-delivered ahead of new
// batches as soon as the sink recovers.
type BatchFlusher struct {
	config  FlusherConfig
	buffer  *MetricBuffer
	sink    Sink
	spill   *Spill
	logger  Logger
	metrics MetricsCollector

	alertMu    sync.Mutex
	fatalAlert FatalAlertFunc

	// sinkDown marks the sink as failing so spill redelivery is not
	// attempted again until a buffer batch goes through.
	sinkDown bool

	// interval is kept in an atomic so tunables can adjust the flush
	// timer without restarting the loop.
	interval    atomic.Int64
	reconfigure chan struct{}

	running  bool
	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewBatchFlusher creates a stopped flusher.
func NewBatchFlusher(config FlusherConfig, buffer *MetricBuffer, sink Sink, spill *Spill, logger Logger, metrics MetricsCollector) *BatchFlusher {
	f := &BatchFlusher{
		config:      config,
		buffer:      buffer,
		sink:        sink,
		spill:       spill,
		logger:      NewLogger(logger),
		metrics:     metrics,
		reconfigure: make(chan struct{}, 1),
	}
	f.interval.Store(int64(config.Interval))
	return f
}

// SetInterval adjusts the flush timer period at runtime. Non-positive
// values are ignored.
func (f *BatchFlusher) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	f.interval.Store(int64(interval))
	select {
	case f.reconfigure <- struct{}{}:
	default:
	}
}

// OnFatalAlert registers the handler invoked on spill-capacity
// exhaustion. Only one handler is kept; the pipeline fans out.
func (f *BatchFlusher) OnFatalAlert(fn FatalAlertFunc) {
	f.alertMu.Lock()
	f.fatalAlert = fn
	f.alertMu.Unlock()
}

// Start launches the flush loop. Idempotent.
func (f *BatchFlusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopChan = make(chan struct{})
	f.doneChan = make(chan struct{})
	go f.run()
}

// Stop halts the flush loop, performs a final drain, and waits for the
// loop to exit.
func (f *BatchFlusher) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	close(f.stopChan)
	done := f.doneChan
	f.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return NewShutdownTimeoutError("flusher")
	}

	// Final drain so buffered metrics are not lost on clean shutdown.
	f.Flush(ctx)
	return nil
}

func (f *BatchFlusher) run() {
	defer close(f.doneChan)
	defer withStackRecover(f.logger)()

	ticker := time.NewTicker(time.Duration(f.interval.Load()))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Flush(context.Background())
		case <-f.buffer.C():
			// Early flush: size threshold reached before the timer.
			f.Flush(context.Background())
		case <-f.reconfigure:
			ticker.Reset(time.Duration(f.interval.Load()))
		case <-f.stopChan:
			return
		}
	}
}

// Flush performs one complete drain cycle: spilled segments first (oldest
// first), then buffered metrics in MaxBatchSize chunks. Exposed for
// deterministic testing and for the final drain on shutdown.
func (f *BatchFlusher) Flush(ctx context.Context) {
	f.sinkDown = false
	f.redeliverSpill(ctx)

	for {
		batch := f.buffer.Drain(f.config.MaxBatchSize)
		if len(batch) == 0 {
			break
		}
		f.dispatchBatch(ctx, batch)
	}

	f.metrics.SetGauge(MetricBufferDepth, nil, float64(f.buffer.Len()))
	f.metrics.SetGauge(MetricSpillSegments, nil, float64(f.spill.Segments()))
	f.metrics.SetGauge(MetricSpillBytes, nil, float64(f.spill.Size()))
}

// redeliverSpill replays pending spill segments until one fails or the
// spill is empty. Redelivery relies on the sink deduplicating on the
// natural metric key, since a segment may have been partially persisted
// before a previous failure.
func (f *BatchFlusher) redeliverSpill(ctx context.Context) {
	for f.spill.Segments() > 0 {
		batch, segmentID, err := f.spill.ReadOldest()
		if err != nil {
			f.logger.Error("Spill segment unreadable, removing", "segment", segmentID, "error", err)
			if segmentID != "" {
				_ = f.spill.Remove(segmentID)
			}
			return
		}
		if segmentID == "" {
			return
		}

		if err := f.deliverWithRetry(ctx, batch); err != nil {
			f.sinkDown = true
			f.logger.Warn("Spill redelivery failed, sink still unavailable",
				"segment", segmentID, "pending_segments", f.spill.Segments())
			return
		}

		if err := f.spill.Remove(segmentID); err != nil {
			f.logger.Error("Failed to remove redelivered spill segment", "segment", segmentID, "error", err)
			return
		}
		f.metrics.IncrementCounter(MetricFlushBatchesTotal, map[string]string{"status": "redelivered"}, 1)
		f.logger.Info("Spill segment redelivered", "segment", segmentID, "metrics", len(batch))
	}
}

// dispatchBatch delivers one batch, falling back to the spill when the
// sink stays unavailable. Once the sink is known to be down, subsequent
// batches in the same cycle spill directly instead of burning the full
// retry schedule again.
func (f *BatchFlusher) dispatchBatch(ctx context.Context, batch []Metric) {
	var err error
	if f.sinkDown {
		err = NewSinkExhaustedError(nil, 0)
	} else {
		err = f.deliverWithRetry(ctx, batch)
	}

	if err == nil {
		f.metrics.IncrementCounter(MetricFlushBatchesTotal, map[string]string{"status": "delivered"}, 1)
		return
	}

	f.sinkDown = true
	if spillErr := f.spill.Append(batch); spillErr != nil {
		f.metrics.IncrementCounter(MetricFlushBatchesTotal, map[string]string{"status": "lost"}, 1)
		f.metrics.IncrementCounter(MetricDroppedTotal, map[string]string{"plugin": "", "reason": "spill"}, int64(len(batch)))
		f.raiseFatalAlert(spillErr)
		return
	}
	f.metrics.IncrementCounter(MetricFlushBatchesTotal, map[string]string{"status": "spilled"}, 1)
	f.logger.Warn("Batch spilled after sink retries exhausted",
		"metrics", len(batch), "spill_segments", f.spill.Segments(), "spill_bytes", f.spill.Size())
}

// deliverWithRetry writes a batch to the sink under the configured retry
// schedule. Safe to replay: the sink deduplicates on the natural key.
func (f *BatchFlusher) deliverWithRetry(ctx context.Context, batch []Metric) error {
	var lastErr error
	for attempt := 0; attempt < f.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			f.metrics.IncrementCounter(MetricSinkRetriesTotal, nil, 1)
			backoff := calculateBackoff(attempt-1, f.config.Retry.InitialInterval, f.config.Retry.MaxInterval, f.config.Retry.Multiplier)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return NewSinkExhaustedError(ctx.Err(), attempt)
			case <-f.stopChanSnapshot():
				return NewSinkExhaustedError(lastErr, attempt)
			}
		}

		if err := f.sink.WriteBatch(ctx, batch); err != nil {
			lastErr = err
			f.logger.Warn("Sink write failed", "attempt", attempt+1, "error", err)
			continue
		}
		return nil
	}
	return NewSinkExhaustedError(lastErr, f.config.Retry.MaxRetries)
}

// stopChanSnapshot returns the current stop channel, or a nil channel
// (blocking forever) when the flusher was never started. Retries must
// abort promptly on shutdown so Stop cannot hang behind a down sink.
func (f *BatchFlusher) stopChanSnapshot() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopChan
}

// raiseFatalAlert logs, counts, and hands the fatal condition to the
// registered handler.
func (f *BatchFlusher) raiseFatalAlert(err error) {
	f.metrics.IncrementCounter(MetricFatalAlertsTotal, nil, 1)
	f.logger.Error("FATAL: sink unavailable and spill exhausted, metrics are being lost", "error", err)

	f.alertMu.Lock()
	handler := f.fatalAlert
	f.alertMu.Unlock()
	if handler != nil {
		handler(err)
	}
}
