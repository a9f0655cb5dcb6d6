// SPDX-License-Identifier: MIT

// Package testutil holds shared helpers for tests that need an
// instrumented origin, a throwaway disk store, or a metrics scrape.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// Origin is an upstream test server that counts how often it was hit.
type Origin struct {
	*httptest.Server
	hits atomic.Int64
}

// NewOrigin starts an origin around h and closes it with the test.
func NewOrigin(t *testing.T, h http.HandlerFunc) *Origin {
	t.Helper()
	o := &Origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(o.Close)
	return o
}

// Hits returns how many requests reached the origin.
func (o *Origin) Hits() int64 { return o.hits.Load() }

// NewConditionalOrigin serves body under the given ETag and answers
// matching If-None-Match revalidations with 304. Responses are stale
// immediately so every fresh request revalidates.
func NewConditionalOrigin(t *testing.T, etag string, body []byte) *Origin {
	t.Helper()
	return NewOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "max-age=0")
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write(body)
	})
}
