package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/ledger"
	"shieldpool/internal/types"
)

func TestMakeKeyIsOrderIndependent(t *testing.T) {
	a := makeKey("m", map[string]string{"kind": "mint", "reason": "x"})
	b := makeKey("m", map[string]string{"reason": "x", "kind": "mint"})
	assert.Equal(t, a, b)
	assert.Equal(t, "m{kind=mint,reason=x}", a)
	assert.Equal(t, "m", makeKey("m", nil))
}

func TestRecordSubmission(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordSubmission(types.KindReclaim, time.Millisecond, nil)
	mc.RecordSubmission(types.KindReclaim, 3*time.Millisecond, fmt.Errorf("wrapped: %w", ledger.ErrPoolOverdrawn))
	mc.RecordSubmission(types.KindReclaim, 2*time.Millisecond, errors.New("disk on fire"))

	kind := map[string]string{"kind": "reclaim"}
	assert.Equal(t, int64(3), mc.Counter(MetricSubmitted, kind))
	assert.Equal(t, int64(1), mc.Counter(MetricAccepted, kind))
	assert.Equal(t, int64(1), mc.Counter(MetricRejected, map[string]string{"kind": "reclaim", "reason": "pool_overdrawn"}))
	assert.Equal(t, int64(1), mc.Counter(MetricRejected, map[string]string{"kind": "reclaim", "reason": "internal"}))

	h, ok := mc.Histogram(MetricSubmitLatency, kind)
	require.True(t, ok)
	assert.Equal(t, 3, h.Count)
	assert.InDelta(t, 0.001, h.Min, 1e-9)
	assert.InDelta(t, 0.003, h.Max, 1e-9)
	assert.InDelta(t, 0.002, h.Avg, 1e-9)
}

func TestHistogramWindow(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < histogramWindow+10; i++ {
		mc.RecordHistogram("h", float64(i), nil)
	}
	h, ok := mc.Histogram("h", nil)
	require.True(t, ok)
	assert.Equal(t, histogramWindow, h.Count)
	assert.Equal(t, float64(10), h.Min)

	_, ok = mc.Histogram("missing", nil)
	assert.False(t, ok)
}

func TestGetAllMetricsAndReset(t *testing.T) {
	mc := NewMetricsCollector()
	mc.SetGauge("b", 2, nil)
	mc.IncrementCounter("a", nil)
	mc.RecordLedger(ledger.Stats{Commitments: 5, Nullifiers: 3})

	all := mc.GetAllMetrics()
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, Counter, all[0].Type)
	assert.Equal(t, float64(5), mc.GetMetric(MetricCommitments, nil).Value)

	mc.Reset()
	assert.Empty(t, mc.GetAllMetrics())
	assert.Nil(t, mc.GetMetric("a", nil))
}
