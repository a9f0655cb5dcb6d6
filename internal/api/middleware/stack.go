// SPDX-License-Identifier: MIT

// Package middleware provides the HTTP ingress middleware stack shared by
// the admin API and the public object surface.
package middleware

import (
	"net"
	"time"

	"github.com/go-chi/chi/v5"
)

// StackConfig configures the canonical ingress middleware stack. Both
// listeners apply the same stack so cross-cutting concerns cannot drift
// between the public and admin surfaces.
type StackConfig struct {
	// CORS
	EnableCORS     bool
	AllowedOrigins []string

	// Security headers
	EnableSecurityHeaders bool
	CSP                   string

	// TrustedProxies defines which peers may set X-Forwarded-For and
	// X-Forwarded-Proto. Empty means no proxy is trusted.
	TrustedProxies []*net.IPNet

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Per-client rate limiting
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r.
func ApplyStack(r chi.Router, cfg StackConfig) {
	// 1. Recoverer (outermost safety net)
	r.Use(Recoverer)
	// 2. RequestID (correlation early, so every later layer can log it)
	r.Use(RequestID)
	// 3. RealIP (client address before anything keyed on it)
	r.Use(RealIP(cfg.TrustedProxies))
	// 4. CORS (so OPTIONS and browser clients behave)
	if cfg.EnableCORS {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	// 5. Security headers
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP, cfg.TrustedProxies))
	}
	// 6. Metrics (track all requests)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	// 7. Tracing (distributed tracing with OpenTelemetry)
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	// 8. Logging (wraps handlers, captures full latency)
	if cfg.EnableLogging {
		r.Use(RequestLogger())
	}
	// 9. Rate limit (per-client, innermost so rejected requests still carry
	// request IDs and show up in metrics)
	if cfg.RateLimitRPS > 0 {
		r.Use(RateLimit(RateLimitConfig{
			RequestLimit: perMinute(cfg.RateLimitRPS, cfg.RateLimitBurst),
			WindowSize:   time.Minute,
		}))
	}
}

// perMinute converts a sustained requests-per-second limit plus burst
// headroom into a sliding one-minute window budget.
func perMinute(rps float64, burst int) int {
	n := int(rps*60) + burst
	if n < 1 {
		n = 1
	}
	return n
}
