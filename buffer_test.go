// buffer_test.go: Metric buffer capacity and overflow policy tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetric(deviceID string, seq int) Metric {
	return Metric{
		DeviceID: deviceID,
		Type:     "power_active",
		Value:    float64(seq),
		Unit:     "W",
		Quality:  1,
	}
}

func fillBuffer(t *testing.T, b *MetricBuffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, b.Push(testMetric(fmt.Sprintf("dev-%d", i), i)))
	}
}

func TestMetricBuffer_RejectPolicy(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 3, OverflowPolicy: OverflowReject}, 0)
	fillBuffer(t, b, 3)

	err := b.Push(testMetric("dev-late", 99))
	require.Error(t, err)
	assert.True(t, IsBufferOverflow(err))
	assert.Equal(t, 3, b.Len(), "capacity invariant: depth never exceeds capacity")

	// The rejected metric is lost, the three oldest survive.
	drained := b.Drain(0)
	require.Len(t, drained, 3)
	assert.Equal(t, "dev-0", drained[0].DeviceID)
	assert.Equal(t, int64(1), b.Stats().Rejected)
}

func TestMetricBuffer_EvictOldestPolicy(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 3, OverflowPolicy: OverflowEvictOldest}, 0)
	fillBuffer(t, b, 3)

	require.NoError(t, b.Push(testMetric("dev-new", 3)))
	assert.Equal(t, 3, b.Len())

	drained := b.Drain(0)
	require.Len(t, drained, 3)
	assert.Equal(t, "dev-1", drained[0].DeviceID, "oldest entry must be evicted")
	assert.Equal(t, "dev-new", drained[2].DeviceID)
	assert.Equal(t, int64(1), b.Stats().Evicted)
}

func TestMetricBuffer_DrainFIFO(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 10, OverflowPolicy: OverflowReject}, 0)
	fillBuffer(t, b, 5)

	first := b.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, "dev-0", first[0].DeviceID)
	assert.Equal(t, "dev-1", first[1].DeviceID)

	rest := b.Drain(0)
	require.Len(t, rest, 3)
	assert.Equal(t, "dev-2", rest[0].DeviceID)
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain(10), "draining an empty buffer returns nothing")
}

func TestMetricBuffer_WrapAround(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 4, OverflowPolicy: OverflowReject}, 0)

	// Interleave pushes and drains so head wraps past the end of the
	// backing array.
	for cycle := 0; cycle < 5; cycle++ {
		fillBuffer(t, b, 3)
		drained := b.Drain(0)
		require.Len(t, drained, 3)
		assert.Equal(t, "dev-0", drained[0].DeviceID)
		assert.Equal(t, "dev-2", drained[2].DeviceID)
	}
}

func TestMetricBuffer_ThresholdSignal(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 10, OverflowPolicy: OverflowReject}, 3)

	fillBuffer(t, b, 2)
	select {
	case <-b.C():
		t.Fatal("threshold signal must not fire below the threshold")
	default:
	}

	require.NoError(t, b.Push(testMetric("dev-2", 2)))
	select {
	case <-b.C():
	default:
		t.Fatal("threshold signal must fire when depth reaches the threshold")
	}
}

func TestMetricBuffer_SetThreshold(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 10, OverflowPolicy: OverflowReject}, 8)
	b.SetThreshold(2)

	fillBuffer(t, b, 2)
	select {
	case <-b.C():
	default:
		t.Fatal("updated threshold must take effect")
	}
}

func TestMetricBuffer_OldestAge(t *testing.T) {
	b := NewMetricBuffer(BufferConfig{Capacity: 4, OverflowPolicy: OverflowReject}, 0)
	assert.Zero(t, b.OldestAge(), "empty buffer has no oldest entry")

	fillBuffer(t, b, 1)
	assert.GreaterOrEqual(t, b.OldestAge(), time.Duration(0))
}
