// SPDX-License-Identifier: MIT

package httpcache

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbgate/thumbgate/internal/config"
)

func TestWarmStoresEntry(t *testing.T) {
	var hits atomic.Int64
	srv := originServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "warmed-body")
	})
	gw, _ := newTestGateway(t, srv, testCacheConfig(config.ModeForce))
	url := srv.URL + "/img.png"

	res, err := gw.Warm(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, WarmOutcomeWarmed, res.Outcome)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, int64(1), hits.Load())

	// The warmed entry serves without another origin fetch.
	rr := doRequest(gw, http.MethodGet, url, nil)
	assert.Equal(t, XCacheHit, rr.Header().Get("X-Cache"))
	assert.Equal(t, "warmed-body", rr.Body.String())
	assert.Equal(t, int64(1), hits.Load())
}

func TestWarmHitOnFreshEntry(t *testing.T) {
	var hits atomic.Int64
	srv := originServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "x")
	})
	gw, _ := newTestGateway(t, srv, testCacheConfig(config.ModeForce))
	url := srv.URL + "/a"

	_, err := gw.Warm(context.Background(), url)
	require.NoError(t, err)

	res, err := gw.Warm(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, WarmOutcomeHit, res.Outcome)
	assert.Equal(t, int64(1), hits.Load())
}

func TestWarmNotFound(t *testing.T) {
	var hits atomic.Int64
	srv := originServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	gw, _ := newTestGateway(t, srv, testCacheConfig(config.ModeForce))
	url := srv.URL + "/missing"

	res, err := gw.Warm(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, WarmOutcomeNotFound, res.Outcome)
	assert.Equal(t, http.StatusNotFound, res.Status)

	// The stored negative also reports notfound, without origin spend.
	res, err = gw.Warm(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, WarmOutcomeNotFound, res.Outcome)
	assert.Equal(t, int64(1), hits.Load())
}

func TestWarmOffline(t *testing.T) {
	srv := originServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("offline warm must not reach the origin")
	})
	cfg := testCacheConfig(config.ModeForce)
	cfg.Offline = true
	gw, _ := newTestGateway(t, srv, cfg)

	_, err := gw.Warm(context.Background(), srv.URL+"/a")
	assert.ErrorIs(t, err, ErrOffline)
}

func TestWarmUnstorable(t *testing.T) {
	srv := originServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprint(w, "x")
	})
	gw, _ := newTestGateway(t, srv, testCacheConfig(config.ModeOrigin))

	res, err := gw.Warm(context.Background(), srv.URL+"/a")
	assert.Error(t, err)
	assert.Equal(t, WarmOutcomeError, res.Outcome)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestWarmBadURL(t *testing.T) {
	srv := originServer(t, func(w http.ResponseWriter, r *http.Request) {})
	gw, _ := newTestGateway(t, srv, testCacheConfig(config.ModeForce))

	res, err := gw.Warm(context.Background(), "ftp://nope/a")
	assert.Error(t, err)
	assert.Equal(t, WarmOutcomeError, res.Outcome)
}
