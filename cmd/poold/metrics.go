// metrics.go - Metrics collection for the shielded pool daemon
package main

import (
	"sort"
	"strings"
	"sync"
	"time"

	"shieldpool/internal/ledger"
	"shieldpool/internal/types"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// histogramWindow is how many recent samples a histogram keeps.
const histogramWindow = 1000

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HistogramSummary condenses the retained samples of a histogram.
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// MetricsCollector manages metrics collection
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.counters[key]++
	mc.updateMetric(key, name, Counter, float64(mc.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.gauges[key] = value
	mc.updateMetric(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	values := append(mc.histograms[key], value)
	if len(values) > histogramWindow {
		values = values[len(values)-histogramWindow:]
	}
	mc.histograms[key] = values
	mc.updateMetric(key, name, Histogram, value, labels)
}

// GetMetric retrieves a metric by name and labels
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) *Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics[makeKey(name, labels)]
}

// Counter returns the value of a counter, zero if it was never incremented.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[makeKey(name, labels)]
}

// GetAllMetrics returns all collected metrics ordered by key.
func (mc *MetricsCollector) GetAllMetrics() []*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	keys := make([]string, 0, len(mc.metrics))
	for k := range mc.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	metrics := make([]*Metric, 0, len(keys))
	for _, k := range keys {
		metrics = append(metrics, mc.metrics[k])
	}
	return metrics
}

// Histogram summarises a histogram.
func (mc *MetricsCollector) Histogram(name string, labels map[string]string) (HistogramSummary, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	values := mc.histograms[makeKey(name, labels)]
	if len(values) == 0 {
		return HistogramSummary{}, false
	}
	s := HistogramSummary{Count: len(values), Min: values[0], Max: values[0]}
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		s.Sum += v
	}
	s.Avg = s.Sum / float64(s.Count)
	return s, true
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
	mc.counters = make(map[string]int64)
	mc.gauges = make(map[string]float64)
	mc.histograms = make(map[string][]float64)
}

// makeKey creates a deterministic key for a metric name and labels.
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (mc *MetricsCollector) updateMetric(key, name string, metricType MetricType, value float64, labels map[string]string) {
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricSubmitted     = "operations_submitted"
	MetricAccepted      = "operations_accepted"
	MetricRejected      = "operations_rejected"
	MetricRateLimited   = "operations_rate_limited"
	MetricSubmitLatency = "submit_latency_seconds"
	MetricProveTime     = "proof_generation_seconds"
	MetricCommitments   = "accumulator_commitments"
	MetricNullifiers    = "nullifiers_spent"
	MetricStoreErrors   = "store_errors"
)

// RecordSubmission records the outcome of one operation.
func (mc *MetricsCollector) RecordSubmission(kind types.Kind, latency time.Duration, err error) {
	labels := map[string]string{"kind": kind.String()}
	mc.IncrementCounter(MetricSubmitted, labels)
	mc.RecordHistogram(MetricSubmitLatency, latency.Seconds(), labels)
	if err != nil {
		mc.IncrementCounter(MetricRejected, map[string]string{"kind": kind.String(), "reason": string(ledger.Classify(err))})
		return
	}
	mc.IncrementCounter(MetricAccepted, labels)
}

func (mc *MetricsCollector) RecordProofGeneration(kind types.Kind, duration time.Duration) {
	mc.RecordHistogram(MetricProveTime, duration.Seconds(), map[string]string{"kind": kind.String()})
}

// RecordLedger publishes ledger size gauges.
func (mc *MetricsCollector) RecordLedger(s ledger.Stats) {
	mc.SetGauge(MetricCommitments, float64(s.Commitments), nil)
	mc.SetGauge(MetricNullifiers, float64(s.Nullifiers), nil)
}
