// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway outcome labels for thumbgate_gateway_requests_total.
const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeStale       = "stale"
	OutcomeRevalidated = "revalidated"
	OutcomeBypass      = "bypass"
	OutcomeError       = "error"
	OutcomeUnsatisfied = "unsatisfiable"
)

var (
	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_gateway_requests_total",
		Help: "Gateway requests by cache outcome",
	}, []string{"outcome"}) // outcome=hit|miss|stale|revalidated|bypass|error|unsatisfiable

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "thumbgate_gateway_request_duration_seconds",
		Help:    "Gateway request latency by cache outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	cacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbgate_cache_size_bytes",
		Help: "Accounted bytes of all published cache entries",
	})

	cacheMaxBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbgate_cache_max_bytes",
		Help: "Configured cache size ceiling",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbgate_cache_entries",
		Help: "Number of published cache entries",
	})

	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbgate_cache_evictions_total",
		Help: "Entries evicted to hold the size ceiling",
	})

	cacheStoreFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_cache_store_failures_total",
		Help: "Failed entry writes by stage",
	}, []string{"stage"}) // stage=edit|body|commit

	journalCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbgate_journal_compactions_total",
		Help: "Journal rewrites triggered by redundant record growth",
	})

	journalRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_journal_recoveries_total",
		Help: "Journal recoveries at open by kind",
	}, []string{"kind"}) // kind=clean|truncated|rebuilt|backup
)

func IncGatewayRequest(outcome string) { gatewayRequestsTotal.WithLabelValues(outcome).Inc() }

func ObserveGateway(outcome string, seconds float64) {
	gatewayRequestDuration.WithLabelValues(outcome).Observe(seconds)
}

func RecordCacheUsage(sizeBytes, maxBytes int64, entries int) {
	cacheSizeBytes.Set(float64(sizeBytes))
	cacheMaxBytes.Set(float64(maxBytes))
	cacheEntries.Set(float64(entries))
}

func IncEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

func IncStoreFailure(stage string) { cacheStoreFailuresTotal.WithLabelValues(stage).Inc() }
func IncJournalCompaction()        { journalCompactionsTotal.Inc() }
func IncJournalRecovery(kind string) {
	journalRecoveriesTotal.WithLabelValues(kind).Inc()
}
