// SPDX-License-Identifier: MIT
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to get metric value from a gauge
func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	err := gauge.Write(metric)
	require.NoError(t, err)
	return metric.GetGauge().GetValue()
}

// Helper function to get metric value from a counter
func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	err := counter.Write(metric)
	require.NoError(t, err)
	return metric.GetCounter().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return getCounterValue(t, counterVec.WithLabelValues(labels...))
}

func TestRecordCacheUsage(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		max     int64
		entries int
	}{
		{"empty cache", 0, 512 << 20, 0},
		{"partial cache", 1 << 20, 512 << 20, 12},
		{"full cache", 512 << 20, 512 << 20, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordCacheUsage(tt.size, tt.max, tt.entries)
			assert.Equal(t, float64(tt.size), getGaugeValue(t, cacheSizeBytes))
			assert.Equal(t, float64(tt.max), getGaugeValue(t, cacheMaxBytes))
			assert.Equal(t, float64(tt.entries), getGaugeValue(t, cacheEntries))
		})
	}
}

func TestIncGatewayRequestByOutcome(t *testing.T) {
	before := getCounterVecValue(t, gatewayRequestsTotal, OutcomeHit)
	IncGatewayRequest(OutcomeHit)
	IncGatewayRequest(OutcomeHit)
	after := getCounterVecValue(t, gatewayRequestsTotal, OutcomeHit)
	assert.Equal(t, before+2, after)

	beforeMiss := getCounterVecValue(t, gatewayRequestsTotal, OutcomeMiss)
	IncGatewayRequest(OutcomeMiss)
	assert.Equal(t, beforeMiss+1, getCounterVecValue(t, gatewayRequestsTotal, OutcomeMiss))
}

func TestIncEvictionsIgnoresNonPositive(t *testing.T) {
	before := getCounterValue(t, cacheEvictionsTotal)
	IncEvictions(0)
	IncEvictions(-3)
	assert.Equal(t, before, getCounterValue(t, cacheEvictionsTotal))

	IncEvictions(4)
	assert.Equal(t, before+4, getCounterValue(t, cacheEvictionsTotal))
}

func TestJournalRecoveryKinds(t *testing.T) {
	for _, kind := range []string{"clean", "truncated", "rebuilt", "backup"} {
		before := getCounterVecValue(t, journalRecoveriesTotal, kind)
		IncJournalRecovery(kind)
		assert.Equal(t, before+1, getCounterVecValue(t, journalRecoveriesTotal, kind))
	}
}

func TestPrewarmResults(t *testing.T) {
	for _, result := range []string{"warmed", "hit", "notfound", "negcache", "dedup", "dropped", "error"} {
		before := getCounterVecValue(t, prewarmResultsTotal, result)
		IncPrewarmResult(result)
		assert.Equal(t, before+1, getCounterVecValue(t, prewarmResultsTotal, result))
	}

	SetPrewarmQueueDepth(7)
	assert.Equal(t, 7.0, getGaugeValue(t, prewarmQueueDepth))
}

func TestBreakerStateGauge(t *testing.T) {
	SetBreakerState(2)
	assert.Equal(t, 2.0, getGaugeValue(t, originBreakerState))
	SetBreakerState(0)
	assert.Equal(t, 0.0, getGaugeValue(t, originBreakerState))
}

func TestVerifyMetrics(t *testing.T) {
	before := getCounterVecValue(t, verifyRunsTotal, "pass")
	IncVerifyRun("pass")
	assert.Equal(t, before+1, getCounterVecValue(t, verifyRunsTotal, "pass"))

	beforeCheck := getCounterVecValue(t, verifyChecksTotal, "journal", "fail")
	IncVerifyCheck("journal", "fail")
	assert.Equal(t, beforeCheck+1, getCounterVecValue(t, verifyChecksTotal, "journal", "fail"))

	SetVerifyLastSuccess(1700000000)
	assert.Equal(t, 1700000000.0, getGaugeValue(t, verifyLastSuccess))
}
