// SPDX-License-Identifier: MIT

package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "thumbgate_ratelimit_rejected_total",
		Help: "Requests refused by a rate budget",
	},
	[]string{"limit"},
)

// Reject records a refusal decided outside this package, such as the
// httprate middleware in front of the gateway and admin routes.
func Reject(limit string) { rejectedTotal.WithLabelValues(limit).Inc() }
