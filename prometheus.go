// prometheus.go: Prometheus-backed MetricsCollector
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector on top of a
// prometheus.Registerer. Metric families are created lazily on first use
// and keyed by name; the label set of the first observation fixes the
// family's label names, matching how the runtime reports each series.
//
// The host application owns the registry and the scrape endpoint:
//
//	reg := prometheus.NewRegistry()
//	collector := harvest.NewPrometheusMetricsCollector(reg)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
type PrometheusMetricsCollector struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsCollector creates a collector registering its
// families on reg. A nil reg falls back to the default registerer.
func NewPrometheusMetricsCollector(reg prometheus.Registerer) *PrometheusMetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetricsCollector{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IncrementCounter implements MetricsCollector.
func (p *PrometheusMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	if labels == nil {
		labels = map[string]string{}
	}
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name},
			labelNames(labels),
		)
		p.registerer.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()

	vec.With(prometheus.Labels(labels)).Add(float64(value))
}

// SetGauge implements MetricsCollector.
func (p *PrometheusMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	if labels == nil {
		labels = map[string]string{}
	}
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: name},
			labelNames(labels),
		)
		p.registerer.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	vec.With(prometheus.Labels(labels)).Set(value)
}

// RecordHistogram implements MetricsCollector.
func (p *PrometheusMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	if labels == nil {
		labels = map[string]string{}
	}
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: name},
			labelNames(labels),
		)
		p.registerer.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	vec.With(prometheus.Labels(labels)).Observe(value)
}
