// SPDX-License-Identifier: MIT

// Package fetch performs origin round trips for the gateway. Every
// request passes the outbound allowlist, the circuit breaker and the
// per-host rate budget before dialing.
package fetch

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/metrics"
	"github.com/thumbgate/thumbgate/internal/netutil"
	"github.com/thumbgate/thumbgate/internal/ratelimit"
	"github.com/thumbgate/thumbgate/internal/resilience"
	"github.com/thumbgate/thumbgate/internal/telemetry"
	"github.com/thumbgate/thumbgate/internal/version"
)

const (
	defaultTimeout               = 10 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 8
)

// Client is the gateway's origin HTTP client.
type Client struct {
	http      *http.Client
	allowlist *netutil.Allowlist
	limiter   *ratelimit.KeyedLimiter
	breaker   *resilience.CircuitBreaker
	userAgent string
}

// NewClient builds the origin client from configuration. The allowlist
// is constructed by the caller so its hosts can also surface in status
// output.
func NewClient(cfg config.OriginConfig, allow *netutil.Allowlist) *Client {
	c := &Client{
		http:      newHTTPClient(cfg.Timeout),
		allowlist: allow,
		breaker: resilience.NewCircuitBreaker(
			cfg.Breaker.FailureThreshold,
			cfg.Breaker.SuccessThreshold,
			cfg.Breaker.OpenInterval,
		),
		userAgent: version.UserAgent(),
	}
	if cfg.RateRPS > 0 {
		c.limiter = ratelimit.NewKeyed(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}
	return c
}

// Do executes one origin request. Refusals before dialing are counted
// per reason; 5xx responses and transport failures feed the breaker.
// The caller's active span, if any, is annotated with the origin result.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	span := trace.SpanFromContext(req.Context())

	if err := c.allowlist.Check(req.URL); err != nil {
		metrics.IncOriginBlocked("allowlist")
		span.SetAttributes(telemetry.ErrorAttributes(err, "origin_allowlist")...)
		return nil, fmt.Errorf("origin blocked: %w", err)
	}
	if !c.breaker.Allow() {
		metrics.IncOriginBlocked("breaker")
		span.SetAttributes(telemetry.ErrorAttributes(resilience.ErrCircuitOpen, "origin_breaker")...)
		return nil, resilience.ErrCircuitOpen
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context(), req.URL.Hostname()); err != nil {
			metrics.IncOriginBlocked("ratelimit")
			span.SetAttributes(telemetry.ErrorAttributes(err, "origin_ratelimit")...)
			return nil, fmt.Errorf("origin rate budget: %w", err)
		}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.ObserveOriginRequest(req.Method, "error", elapsed)
		c.breaker.RecordResult(true)
		span.SetAttributes(telemetry.ErrorAttributes(err, "origin_unreachable")...)
		return nil, err
	}
	metrics.ObserveOriginRequest(req.Method, statusClass(resp.StatusCode), elapsed)
	c.breaker.RecordResult(resp.StatusCode >= 500)
	span.SetAttributes(telemetry.OriginAttributes(req.URL.Hostname(), resp.StatusCode)...)
	return resp, nil
}

// BreakerState exposes the breaker for readiness reporting.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "error"
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}
	headerTimeout := timeout
	if headerTimeout > defaultResponseHeaderTimeout {
		headerTimeout = defaultResponseHeaderTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		// Stored bodies must hash and replay byte for byte, so the
		// transport never negotiates compression on its own.
		DisableCompression: true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
		// Redirects are cached and served as-is; following them here
		// would hide the redirect from clients.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
