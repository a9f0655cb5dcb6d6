// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_verify_runs_total",
		Help: "Verification suite runs by overall result",
	}, []string{"overall"}) // overall=pass|warn|fail

	verifyChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_verify_checks_total",
		Help: "Individual verification check results",
	}, []string{"check", "status"})

	verifyLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbgate_verify_last_success_timestamp_seconds",
		Help: "Unix time of the last fully passing verification run",
	})

	verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thumbgate_verify_duration_seconds",
		Help:    "Wall time of a full verification run",
		Buckets: prometheus.DefBuckets,
	})
)

func IncVerifyRun(overall string) { verifyRunsTotal.WithLabelValues(overall).Inc() }

func IncVerifyCheck(check, status string) {
	verifyChecksTotal.WithLabelValues(check, status).Inc()
}

func SetVerifyLastSuccess(unixSeconds float64) { verifyLastSuccess.Set(unixSeconds) }

func ObserveVerifyDuration(seconds float64) { verifyDuration.Observe(seconds) }
