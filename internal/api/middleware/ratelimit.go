// SPDX-License-Identifier: MIT

package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/httprate"

	"github.com/thumbgate/thumbgate/internal/ratelimit"
)

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the time window for rate limiting.
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request. Nil defaults
	// to keying by client IP, which assumes RealIP ran first when the
	// service sits behind a proxy.
	KeyFunc func(r *http.Request) (string, error)
	// Name labels refusals in the ratelimit_rejected_total metric.
	// Empty defaults to "per_ip".
	Name string
}

// RateLimit creates a rate limiting middleware using the httprate
// library's sliding window counter. Rejected requests are counted per
// budget name and get a 429 with a JSON body and a Retry-After header.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	name := cfg.Name
	if name == "" {
		name = "per_ip"
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			ratelimit.Reject(name)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

// PerIPLimit converts a steady requests-per-second rate plus a burst
// allowance into a one-minute sliding-window limiter keyed by client IP.
func PerIPLimit(rps float64, burst int) func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute(rps, burst),
		WindowSize:   time.Minute,
		Name:         "gateway",
	})
}

// MutationRateLimit returns a tighter limiter for expensive admin
// mutations such as purge-all, verify, and manifest prewarm.
func MutationRateLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: 10,
		WindowSize:   time.Minute,
		Name:         "admin_mutation",
	})
}

// RetunableLimit is a per-IP limiter whose rate can change at runtime.
// Retuning rebuilds the httprate limiter, so counting windows restart.
// A rate of zero or less disables limiting entirely.
type RetunableLimit struct {
	mu      sync.Mutex
	rps     float64
	burst   int
	next    http.Handler
	current atomic.Pointer[http.Handler]
}

// NewRetunableLimit builds a limiter starting at the given rate.
func NewRetunableLimit(rps float64, burst int) *RetunableLimit {
	return &RetunableLimit{rps: rps, burst: burst}
}

// Middleware wires the limiter in front of next. It must wrap exactly one
// handler chain; a second call replaces the first chain.
func (l *RetunableLimit) Middleware(next http.Handler) http.Handler {
	l.mu.Lock()
	l.next = next
	l.rebuildLocked()
	l.mu.Unlock()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*l.current.Load()).ServeHTTP(w, r)
	})
}

// Retune applies a new rate. No-op before Middleware has wired a chain
// beyond remembering the rate for when it does.
func (l *RetunableLimit) Retune(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rps == rps && l.burst == burst {
		return
	}
	l.rps = rps
	l.burst = burst
	if l.next != nil {
		l.rebuildLocked()
	}
}

func (l *RetunableLimit) rebuildLocked() {
	h := l.next
	if l.rps > 0 {
		h = PerIPLimit(l.rps, l.burst)(l.next)
	}
	l.current.Store(&h)
}
