// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prewarmResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_prewarm_results_total",
		Help: "Prewarm pool task results",
	}, []string{"result"}) // result=warmed|hit|notfound|negcache|dedup|dropped|error

	prewarmQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbgate_prewarm_queue_depth",
		Help: "Tasks currently waiting in the prewarm queue",
	})

	originRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "thumbgate_origin_request_duration_seconds",
		Help:    "Origin round-trip latency by method and status class",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "class"}) // class=2xx|3xx|4xx|5xx|error

	originBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbgate_origin_breaker_state",
		Help: "Origin circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	originBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_origin_breaker_transitions_total",
		Help: "Origin circuit breaker transitions by target state",
	}, []string{"state"})

	originBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbgate_origin_blocked_total",
		Help: "Origin requests refused before dialing",
	}, []string{"reason"}) // reason=allowlist|ratelimit|breaker
)

func IncPrewarmResult(result string) { prewarmResultsTotal.WithLabelValues(result).Inc() }

func SetPrewarmQueueDepth(n int) { prewarmQueueDepth.Set(float64(n)) }

func ObserveOriginRequest(method, class string, seconds float64) {
	originRequestDuration.WithLabelValues(method, class).Observe(seconds)
}

func SetBreakerState(state float64) { originBreakerState.Set(state) }

func IncBreakerTransition(state string) { originBreakerTransitions.WithLabelValues(state).Inc() }

func IncOriginBlocked(reason string) { originBlockedTotal.WithLabelValues(reason).Inc() }
