// sink.go: Storage sink boundary consumed by the batch flusher
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"context"
)

// Sink is the external storage boundary the flusher delivers batches to.
//
// Implementations must be idempotent-safe under retry: the flusher may
// redeliver a batch after a transient failure, and the sink is expected
// to deduplicate on the natural key (device_id, timestamp, metric_type),
// see Metric.DedupKey. WriteBatch must honor the context for cancellation
// during shutdown.
type Sink interface {
	WriteBatch(ctx context.Context, metrics []Metric) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, metrics []Metric) error

// WriteBatch implements Sink.
func (f SinkFunc) WriteBatch(ctx context.Context, metrics []Metric) error {
	return f(ctx, metrics)
}
