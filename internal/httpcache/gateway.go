// SPDX-License-Identifier: MIT

package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/metrics"
	"github.com/thumbgate/thumbgate/internal/telemetry"
)

// Fetcher performs origin round trips. *fetch.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrOffline is returned by Warm while origin access is disabled.
var ErrOffline = errors.New("httpcache: offline, origin access disabled")

// X-Cache values attached to every gateway response.
const (
	XCacheHit         = "HIT"
	XCacheMiss        = "MISS"
	XCacheStale       = "STALE"
	XCacheRevalidated = "REVALIDATED"
	XCacheBypass      = "BYPASS"
)

// hopByHop fields never cross the cache in either direction.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// clientConditional fields are dropped from fill fetches; the stored
// entry answers conditionals and ranges from disk instead.
var clientConditional = map[string]bool{
	"If-None-Match":       true,
	"If-Modified-Since":   true,
	"If-Match":            true,
	"If-Unmodified-Since": true,
	"If-Range":            true,
	"Range":               true,
}

type policy struct {
	mode         string
	overrideTTL  time.Duration
	heuristicMax time.Duration
	staleIfError time.Duration
	entryMax     int64
	offline      bool
}

// Gateway serves origin resources through the disk cache, applying the
// shared-cache decision tree on every request.
type Gateway struct {
	store  *diskcache.Store
	origin Fetcher
	logger zerolog.Logger

	polMu sync.RWMutex
	pol   policy

	group singleflight.Group
	now   func() time.Time
}

// New builds a gateway over store and origin with the configured policy.
func New(store *diskcache.Store, origin Fetcher, cfg config.CacheConfig) *Gateway {
	return &Gateway{
		store:  store,
		origin: origin,
		logger: log.WithComponent("httpcache"),
		pol: policy{
			mode:         cfg.Mode,
			overrideTTL:  cfg.OverrideTTL,
			heuristicMax: cfg.HeuristicMax,
			staleIfError: cfg.StaleIfError,
			entryMax:     cfg.EntryMaxBytes,
			offline:      cfg.Offline,
		},
		now: time.Now,
	}
}

func (g *Gateway) policy() policy {
	g.polMu.RLock()
	defer g.polMu.RUnlock()
	return g.pol
}

// UpdatePolicy applies the hot-reloadable policy subset. Mode and the
// entry size cap stay fixed for the process lifetime.
func (g *Gateway) UpdatePolicy(cfg config.CacheConfig) {
	g.polMu.Lock()
	defer g.polMu.Unlock()
	g.pol.overrideTTL = cfg.OverrideTTL
	g.pol.staleIfError = cfg.StaleIfError
	g.pol.offline = cfg.Offline
}

// Offline reports whether origin access is currently disabled.
func (g *Gateway) Offline() bool { return g.policy().offline }

// Store exposes the underlying disk store for the admin surface.
func (g *Gateway) Store() *diskcache.Store { return g.store }

// Serve handles one gateway request for the resource at rawURL.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, rawURL string) {
	start := time.Now()
	outcome := g.serve(w, r, rawURL)
	metrics.IncGatewayRequest(outcome)
	metrics.ObserveGateway(outcome, time.Since(start).Seconds())
	telemetry.EmitCacheObs(r.Context(), "", outcome, g.policy().mode)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, rawURL string) string {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, "invalid target url")
		return metrics.OutcomeError
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		// A successful write at the origin invalidates the cached copy.
		return g.relay(w, r, canonical, true)
	default:
		return g.relay(w, r, canonical, false)
	}

	reqCC := ParseCacheControl(r.Header)
	if reqCC.NoStore {
		return g.relay(w, r, canonical, false)
	}

	key := Key(canonical)
	now := g.now()
	pol := g.policy()

	rec, sn := g.lookup(key, r)
	if sn != nil {
		defer sn.Close()
	}

	if rec != nil {
		if g.freshEnough(rec, reqCC, now) {
			g.serveSnapshot(w, r, rec, sn, XCacheHit, now)
			return metrics.OutcomeHit
		}
		if pol.offline {
			g.serveSnapshot(w, r, rec, sn, XCacheStale, now)
			return metrics.OutcomeStale
		}
		if reqCC.OnlyIfCached {
			g.writeError(w, r, http.StatusGatewayTimeout, "stored response not fresh enough")
			return metrics.OutcomeUnsatisfied
		}
		return g.refreshFlight(w, r, canonical, key, rec, sn, now)
	}

	if pol.offline || reqCC.OnlyIfCached {
		g.writeError(w, r, http.StatusGatewayTimeout, "no cached response available")
		return metrics.OutcomeUnsatisfied
	}
	return g.refreshFlight(w, r, canonical, key, nil, nil, now)
}

// lookup returns the stored record and snapshot when a usable variant
// exists. Undecodable entries are dropped on sight.
func (g *Gateway) lookup(key string, r *http.Request) (*Record, *diskcache.Snapshot) {
	sn, err := g.store.Get(key)
	if err != nil {
		return nil, nil
	}
	rec, err := DecodeRecord(sn.Meta())
	if err != nil {
		g.logger.Warn().
			Str(log.FieldEvent, "httpcache.record_drop").
			Str(log.FieldCacheKey, key).
			Err(err).
			Msg("dropping undecodable entry")
		_ = sn.Close()
		_ = g.store.Remove(key)
		return nil, nil
	}
	if !rec.VaryMatches(r.Header) {
		_ = sn.Close()
		return nil, nil
	}
	return rec, sn
}

// freshEnough evaluates stored freshness against the request
// constraints. Force mode ignores stored no-cache and must-revalidate;
// a client's own no-cache always wins.
func (g *Gateway) freshEnough(rec *Record, reqCC CacheControl, now time.Time) bool {
	if reqCC.NoCache {
		return false
	}

	pol := g.policy()
	mustReval := false
	if pol.mode != config.ModeForce {
		respCC := ParseCacheControl(rec.Header)
		if respCC.NoCache {
			return false
		}
		mustReval = respCC.MustRevalidate
	}

	age := rec.Age(now)
	fresh := age < rec.TTL
	if reqCC.HasMaxAge && age > reqCC.MaxAge {
		fresh = false
	}
	if reqCC.HasMinFresh && rec.TTL-age < reqCC.MinFresh {
		fresh = false
	}
	if !fresh && !mustReval {
		if reqCC.MaxStaleAny {
			fresh = true
		} else if reqCC.HasMaxStale && age-rec.TTL <= reqCC.MaxStale {
			fresh = true
		}
	}
	return fresh
}

const (
	kindStored      = "stored"
	kindRevalidated = "revalidated"
	kindPassthrough = "passthrough"
)

type flightResult struct {
	kind   string
	status int
}

// refreshFlight fetches the origin once per key, stores or revalidates,
// and lets every collapsed caller replay the published entry. The
// caller whose goroutine runs the flight streams unstorable responses
// directly; followers fall back to their own fetch for those.
func (g *Gateway) refreshFlight(w http.ResponseWriter, r *http.Request, canonical, key string, rec *Record, sn *diskcache.Snapshot, now time.Time) string {
	var leaderOutcome string
	v, err, _ := g.group.Do(key, func() (any, error) {
		res, resp, ferr := g.refresh(r.Context(), canonical, key, r.Header, rec)
		if ferr != nil {
			return flightResult{}, ferr
		}
		if resp != nil {
			leaderOutcome = g.serveOrigin(w, r, resp, rec, sn, now)
		}
		return res, nil
	})
	if leaderOutcome != "" {
		return leaderOutcome
	}

	if err != nil {
		if rec != nil && g.staleAllowed(rec, now) {
			g.logger.Warn().
				Str(log.FieldEvent, "httpcache.stale_serve").
				Str(log.FieldCacheKey, key).
				Err(err).
				Msg("origin unreachable, serving stale")
			g.serveSnapshot(w, r, rec, sn, XCacheStale, now)
			return metrics.OutcomeStale
		}
		g.writeError(w, r, http.StatusBadGateway, "origin fetch failed")
		return metrics.OutcomeError
	}

	res := v.(flightResult)
	switch res.kind {
	case kindRevalidated:
		return g.replay(w, r, canonical, key, XCacheRevalidated, metrics.OutcomeRevalidated)
	case kindStored:
		return g.replay(w, r, canonical, key, XCacheMiss, metrics.OutcomeMiss)
	default:
		// The flight ended in a passthrough this caller cannot replay.
		if res.status >= 500 && rec != nil && g.staleAllowed(rec, now) {
			g.serveSnapshot(w, r, rec, sn, XCacheStale, now)
			return metrics.OutcomeStale
		}
		return g.passthrough(w, r, canonical)
	}
}

// refresh performs the origin round trip for a miss or a stale entry.
// When nothing was stored the raw response is returned and the caller
// owns its body.
func (g *Gateway) refresh(ctx context.Context, canonical, key string, fwd http.Header, prev *Record) (flightResult, *http.Response, error) {
	// Collapsed callers outlive the flight runner's client; the fetch
	// client's own timeout bounds the request instead.
	ctx = context.WithoutCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonical, nil)
	if err != nil {
		return flightResult{}, nil, err
	}
	forwardHeaders(req.Header, fwd)
	if prev != nil {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		} else if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}

	resp, err := g.origin.Do(req)
	if err != nil {
		return flightResult{}, nil, err
	}

	if prev != nil && resp.StatusCode == http.StatusNotModified {
		drainClose(resp.Body)
		g.mergeRevalidated(canonical, key, prev, resp.Header)
		return flightResult{kind: kindRevalidated, status: prev.Status}, nil, nil
	}

	pol := g.policy()
	respCC := ParseCacheControl(resp.Header)
	tooLong := pol.entryMax > 0 && resp.ContentLength > pol.entryMax
	if tooLong || !storable(pol.mode, resp.StatusCode, respCC, resp.Header) {
		return flightResult{kind: kindPassthrough, status: resp.StatusCode}, resp, nil
	}

	ed, err := g.store.Edit(key)
	if err != nil {
		// Another writer owns the key; hand the response through.
		return flightResult{kind: kindPassthrough, status: resp.StatusCode}, resp, nil
	}

	if err := g.writeEntry(ed, canonical, key, resp, fwd); err != nil {
		if errors.Is(err, diskcache.ErrEntryTooLarge) {
			// The body overflowed mid-copy without a Content-Length. The
			// consumed bytes are gone, so fetch once more without storing.
			g.logger.Warn().
				Str(log.FieldEvent, "httpcache.entry_too_large").
				Str(log.FieldCacheKey, key).
				Msg("unsized response exceeded the entry cap")
			resp2, rerr := g.plainFetch(ctx, canonical, fwd)
			if rerr != nil {
				return flightResult{}, nil, rerr
			}
			return flightResult{kind: kindPassthrough, status: resp2.StatusCode}, resp2, nil
		}
		return flightResult{}, nil, err
	}
	return flightResult{kind: kindStored, status: resp.StatusCode}, nil, nil
}

// writeEntry streams the response into the editor and commits the
// metadata record. It owns both the response body and the editor.
func (g *Gateway) writeEntry(ed *diskcache.Editor, canonical, key string, resp *http.Response, reqHeader http.Header) error {
	defer resp.Body.Close()

	pol := g.policy()
	now := g.now()
	stored := storedHeaders(resp.Header, pol.mode)
	fields := varyFields(stored)

	bw, err := ed.Body()
	if err != nil {
		_ = ed.Abort()
		return fmt.Errorf("open body %s: %w", key, err)
	}
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(bw, hasher), resp.Body)
	if err != nil {
		_ = ed.Abort()
		return err
	}

	rec := &Record{
		URL:          canonical,
		Status:       resp.StatusCode,
		Proto:        "HTTP/1.1",
		Header:       stored,
		ReqVary:      capturedVary(fields, reqHeader),
		StoredAt:     now,
		TTL:          computeTTL(pol.mode, pol.overrideTTL, pol.heuristicMax, stored, now),
		ETag:         stored.Get("Etag"),
		LastModified: stored.Get("Last-Modified"),
		BodySize:     n,
		BodySHA256:   hex.EncodeToString(hasher.Sum(nil)),
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		_ = ed.Abort()
		return err
	}
	ed.SetMeta(raw)
	if err := ed.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// mergeRevalidated folds 304 headers into the stored record and
// rewrites the metadata in place. The body on disk is untouched.
func (g *Gateway) mergeRevalidated(canonical, key string, prev *Record, h304 http.Header) {
	pol := g.policy()
	now := g.now()

	merged := prev.Header.Clone()
	drop := connectionNamed(h304)
	for k, vv := range h304 {
		ck := http.CanonicalHeaderKey(k)
		if hopByHop[ck] || drop[ck] {
			continue
		}
		switch ck {
		case "Content-Length", "Content-Range", "Age", "X-Cache":
			continue
		}
		merged[ck] = append([]string(nil), vv...)
	}
	if h304.Get("Date") == "" {
		// Without a fresh Date the old one would age the entry instantly.
		merged.Set("Date", now.UTC().Format(http.TimeFormat))
	}

	rec := &Record{
		URL:          canonical,
		Status:       prev.Status,
		Proto:        prev.Proto,
		Header:       merged,
		ReqVary:      prev.ReqVary,
		StoredAt:     now,
		TTL:          computeTTL(pol.mode, pol.overrideTTL, pol.heuristicMax, merged, now),
		ETag:         merged.Get("Etag"),
		LastModified: merged.Get("Last-Modified"),
		BodySize:     prev.BodySize,
		BodySHA256:   prev.BodySHA256,
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		g.logger.Error().
			Str(log.FieldEvent, "httpcache.reval_encode").
			Str(log.FieldCacheKey, key).
			Err(err).
			Msg("revalidated record encode failed")
		return
	}

	ed, err := g.store.Edit(key)
	if err != nil {
		g.logger.Debug().
			Str(log.FieldEvent, "httpcache.reval_skip").
			Str(log.FieldCacheKey, key).
			Err(err).
			Msg("metadata rewrite skipped, key busy")
		return
	}
	ed.SetMeta(raw)
	if err := ed.Commit(); err != nil {
		g.logger.Error().
			Str(log.FieldEvent, "httpcache.reval_commit").
			Str(log.FieldCacheKey, key).
			Err(err).
			Msg("metadata rewrite failed")
	}
}

// replay serves the entry a finished flight just published.
func (g *Gateway) replay(w http.ResponseWriter, r *http.Request, canonical, key, xcache, outcome string) string {
	rec, sn := g.lookup(key, r)
	if rec == nil {
		// Evicted or variant mismatch between commit and replay.
		return g.passthrough(w, r, canonical)
	}
	defer sn.Close()
	g.serveSnapshot(w, r, rec, sn, xcache, g.now())
	return outcome
}

// serveOrigin streams an unstorable origin response to the client,
// falling back to a stale copy when the origin is failing.
func (g *Gateway) serveOrigin(w http.ResponseWriter, r *http.Request, resp *http.Response, rec *Record, sn *diskcache.Snapshot, now time.Time) string {
	if resp.StatusCode >= 500 && rec != nil && g.staleAllowed(rec, now) {
		drainClose(resp.Body)
		g.serveSnapshot(w, r, rec, sn, XCacheStale, now)
		return metrics.OutcomeStale
	}

	defer resp.Body.Close()
	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Cache", XCacheMiss)
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, resp.Body)
	}
	if resp.StatusCode >= 500 {
		return metrics.OutcomeError
	}
	return metrics.OutcomeMiss
}

// passthrough relays an individual origin fetch without storing.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request, canonical string) string {
	resp, err := g.plainFetch(r.Context(), canonical, r.Header)
	if err != nil {
		g.writeError(w, r, http.StatusBadGateway, "origin fetch failed")
		return metrics.OutcomeError
	}
	defer resp.Body.Close()
	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Cache", XCacheMiss)
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, resp.Body)
	}
	if resp.StatusCode >= 500 {
		return metrics.OutcomeError
	}
	return metrics.OutcomeMiss
}

// relay forwards a request verbatim, outside the caching path. A
// successful unsafe request invalidates the stored GET entry.
func (g *Gateway) relay(w http.ResponseWriter, r *http.Request, canonical string, invalidate bool) string {
	if g.policy().offline {
		g.writeError(w, r, http.StatusGatewayTimeout, "offline: origin access disabled")
		return metrics.OutcomeUnsatisfied
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, canonical, r.Body)
	if err != nil {
		g.writeError(w, r, http.StatusBadGateway, "build origin request failed")
		return metrics.OutcomeError
	}
	req.ContentLength = r.ContentLength
	drop := connectionNamed(r.Header)
	for k, vv := range r.Header {
		ck := http.CanonicalHeaderKey(k)
		if hopByHop[ck] || drop[ck] {
			continue
		}
		for _, v := range vv {
			req.Header.Add(ck, v)
		}
	}

	resp, err := g.origin.Do(req)
	if err != nil {
		g.writeError(w, r, http.StatusBadGateway, "origin fetch failed")
		return metrics.OutcomeError
	}
	defer resp.Body.Close()

	if invalidate && resp.StatusCode < 400 {
		key := Key(canonical)
		if err := g.store.Remove(key); err != nil && !errors.Is(err, diskcache.ErrNotFound) {
			g.logger.Debug().
				Str(log.FieldEvent, "httpcache.invalidate_skip").
				Str(log.FieldCacheKey, key).
				Err(err).
				Msg("invalidation skipped")
		}
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Cache", XCacheBypass)
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, resp.Body)
	}
	return metrics.OutcomeBypass
}

// serveSnapshot writes a stored response. 200s go through
// http.ServeContent so client conditionals and ranges are answered from
// the cached copy.
func (g *Gateway) serveSnapshot(w http.ResponseWriter, r *http.Request, rec *Record, sn *diskcache.Snapshot, xcache string, now time.Time) {
	h := w.Header()
	copyHeaders(h, rec.Header)
	h.Set("Age", strconv.FormatInt(int64(rec.Age(now)/time.Second), 10))
	h.Set("X-Cache", xcache)

	if rec.Status == http.StatusOK {
		var modtime time.Time
		if lm, err := http.ParseTime(rec.LastModified); err == nil {
			modtime = lm
		}
		http.ServeContent(w, r, "", modtime, sn.Body())
		return
	}

	if rec.Status != http.StatusNoContent {
		h.Set("Content-Length", strconv.FormatInt(sn.BodySize(), 10))
	}
	w.WriteHeader(rec.Status)
	if r.Method != http.MethodHead && rec.Status != http.StatusNoContent {
		_, _ = io.Copy(w, sn.Body())
	}
}

func (g *Gateway) staleAllowed(rec *Record, now time.Time) bool {
	pol := g.policy()
	if pol.offline {
		return true
	}
	if pol.staleIfError <= 0 {
		return false
	}
	return rec.Age(now)-rec.TTL <= pol.staleIfError
}

func (g *Gateway) plainFetch(ctx context.Context, canonical string, fwd http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonical, nil)
	if err != nil {
		return nil, err
	}
	forwardHeaders(req.Header, fwd)
	return g.origin.Do(req)
}

// writeError emits the JSON error envelope used across the HTTP surface.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": msg}
	if rid := log.RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	_ = json.NewEncoder(w).Encode(body)
}

// storedHeaders returns the response headers to persist: hop-by-hop and
// Connection-named fields dropped, cache-owned fields dropped, and
// Set-Cookie stripped under the force policy.
func storedHeaders(h http.Header, mode string) http.Header {
	out := make(http.Header, len(h))
	drop := connectionNamed(h)
	for k, vv := range h {
		ck := http.CanonicalHeaderKey(k)
		if hopByHop[ck] || drop[ck] {
			continue
		}
		switch ck {
		case "Content-Length", "Age", "X-Cache":
			continue
		case "Set-Cookie":
			if mode == config.ModeForce {
				continue
			}
		}
		out[ck] = append([]string(nil), vv...)
	}
	return out
}

// forwardHeaders copies request headers onto a fill fetch. Hop-by-hop
// fields, client conditionals and the client's own cache directives
// stay behind.
func forwardHeaders(dst, src http.Header) {
	drop := connectionNamed(src)
	for k, vv := range src {
		ck := http.CanonicalHeaderKey(k)
		if hopByHop[ck] || drop[ck] || clientConditional[ck] {
			continue
		}
		if ck == "Cache-Control" || ck == "Pragma" {
			continue
		}
		for _, v := range vv {
			dst.Add(ck, v)
		}
	}
}

func copyHeaders(dst, src http.Header) {
	drop := connectionNamed(src)
	for k, vv := range src {
		ck := http.CanonicalHeaderKey(k)
		if hopByHop[ck] || drop[ck] {
			continue
		}
		for _, v := range vv {
			dst.Add(ck, v)
		}
	}
}

// connectionNamed collects the field names listed in Connection headers.
func connectionNamed(h http.Header) map[string]bool {
	named := make(map[string]bool)
	for _, line := range h.Values("Connection") {
		for _, tok := range strings.Split(line, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				named[http.CanonicalHeaderKey(tok)] = true
			}
		}
	}
	return named
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<18))
	_ = rc.Close()
}
