// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitEnforcesLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	limited := RateLimit(RateLimitConfig{
		RequestLimit: 3,
		WindowSize:   time.Second,
	})(handler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	limited.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON 429 body, got content type %q", ct)
	}
}

func TestRateLimitDifferentIPsIndependent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	limited := RateLimit(RateLimitConfig{
		RequestLimit: 2,
		WindowSize:   time.Second,
	})(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("IP1 request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	// A second client still has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	w := httptest.NewRecorder()
	limited.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("IP2 request: expected 200, got %d", w.Code)
	}

	// The first client is now over budget.
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w = httptest.NewRecorder()
	limited.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("IP1 3rd request: expected 429, got %d", w.Code)
	}
}

func TestMutationRateLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	limited := MutationRateLimit()(handler)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		if w.Code != http.StatusAccepted {
			t.Errorf("request %d: expected 202, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	limited.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("11th mutation: expected 429, got %d", w.Code)
	}
}

func TestRetunableLimitDisabledPassesThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	lim := NewRetunableLimit(0, 0)
	limited := lim.Middleware(handler)

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/o/a.jpg", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with limiting disabled, got %d", i+1, w.Code)
		}
	}
}

func TestRetunableLimitRetune(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// rps well under 1/60 so the minute budget is just the burst.
	lim := NewRetunableLimit(0.001, 2)
	limited := lim.Middleware(handler)

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/o/a.jpg", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		return w.Code
	}

	if got := send(); got != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", got)
	}
	if got := send(); got != http.StatusOK {
		t.Fatalf("second request: expected 200, got %d", got)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", got)
	}

	// Lifting the limit replaces the exhausted window.
	lim.Retune(0, 0)
	for i := 0; i < 10; i++ {
		if got := send(); got != http.StatusOK {
			t.Fatalf("post-retune request %d: expected 200, got %d", i+1, got)
		}
	}

	// Tightening again installs a fresh budget.
	lim.Retune(0.001, 1)
	if got := send(); got != http.StatusOK {
		t.Fatalf("fresh budget: expected 200, got %d", got)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Fatalf("fresh budget exhausted: expected 429, got %d", got)
	}
}
