// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/thumbgate/thumbgate/internal/log"
)

func TestRequestIDGenerated(t *testing.T) {
	var fromCtx string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = log.RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	got := w.Header().Get(HeaderRequestID)
	if got == "" {
		t.Fatal("expected generated request ID header")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("generated ID %q is not a UUID: %v", got, err)
	}
	if fromCtx != got {
		t.Errorf("context ID %q does not match header %q", fromCtx, got)
	}
}

func TestRequestIDHonorsIncoming(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-id-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(HeaderRequestID); got != "upstream-id-42" {
		t.Errorf("expected incoming ID echoed, got %q", got)
	}
}
