// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStackAppliesCrossCuttingConcerns(t *testing.T) {
	r := NewRouter(StackConfig{
		EnableSecurityHeaders: true,
		EnableLogging:         true,
	})

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Error("expected request ID header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestStackRecoversFromPanic(t *testing.T) {
	r := NewRouter(StackConfig{})

	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaput")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected error field in panic response")
	}
}

func TestStackRateLimits(t *testing.T) {
	// A fractional RPS floors to zero, leaving only the burst budget of
	// two requests per window.
	r := NewRouter(StackConfig{
		RateLimitRPS:   0.01,
		RateLimitBurst: 2,
	})

	r.Get("/limited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		lastCode = w.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting budget, got %d", lastCode)
	}
}

func TestStackRateLimitDisabledWhenZero(t *testing.T) {
	r := NewRouter(StackConfig{})

	r.Get("/open", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/open", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with no limiter, got %d", i+1, w.Code)
		}
	}
}

func TestPerMinute(t *testing.T) {
	tests := []struct {
		rps   float64
		burst int
		want  int
	}{
		{50, 100, 3100},
		{1, 0, 60},
		{0.01, 0, 1},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := perMinute(tt.rps, tt.burst); got != tt.want {
			t.Errorf("perMinute(%v, %d) = %d, want %d", tt.rps, tt.burst, got, tt.want)
		}
	}
}
