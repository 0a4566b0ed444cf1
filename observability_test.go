// observability_test.go: Metrics collector tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		m := family.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue(), true
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue(), true
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount()), true
		}
	}
	return 0, false
}

func TestPrometheusMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPrometheusMetricsCollector(reg)

	t.Run("counter_accumulates", func(t *testing.T) {
		collector.IncrementCounter(MetricCollectionsTotal, map[string]string{"plugin": "meter-1"}, 1)
		collector.IncrementCounter(MetricCollectionsTotal, map[string]string{"plugin": "meter-1"}, 2)
		value, ok := gatherValue(t, reg, MetricCollectionsTotal)
		require.True(t, ok)
		assert.Equal(t, 3.0, value)
	})

	t.Run("gauge_overwrites", func(t *testing.T) {
		collector.SetGauge(MetricBufferDepth, nil, 42)
		collector.SetGauge(MetricBufferDepth, nil, 7)
		value, ok := gatherValue(t, reg, MetricBufferDepth)
		require.True(t, ok)
		assert.Equal(t, 7.0, value)
	})

	t.Run("histogram_counts_observations", func(t *testing.T) {
		collector.RecordHistogram(MetricCollectionSeconds, map[string]string{"plugin": "meter-1"}, 0.05)
		collector.RecordHistogram(MetricCollectionSeconds, map[string]string{"plugin": "meter-1"}, 0.10)
		count, ok := gatherValue(t, reg, MetricCollectionSeconds)
		require.True(t, ok)
		assert.Equal(t, 2.0, count)
	})
}

func TestNoOpMetricsCollector(t *testing.T) {
	collector := NewNoOpMetricsCollector()
	assert.NotPanics(t, func() {
		collector.IncrementCounter(MetricCollectedTotal, nil, 1)
		collector.SetGauge(MetricBufferDepth, map[string]string{"plugin": "x"}, 1)
		collector.RecordHistogram(MetricCollectionSeconds, nil, 0.1)
	})
}
