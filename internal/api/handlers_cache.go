// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/fetch"
	"github.com/thumbgate/thumbgate/internal/httpcache"
	"github.com/thumbgate/thumbgate/internal/log"
)

// maxRequestBody caps admin request payloads. A prewarm manifest of ten
// thousand URLs still fits comfortably.
const maxRequestBody = 1 << 20

// maxEntryPage bounds a single entries listing.
const maxEntryPage = 10000

type statsResponse struct {
	Cache   diskcache.Stats `json:"cache"`
	Prewarm *fetch.Stats    `json:"prewarm,omitempty"`
	Breaker string          `json:"breaker,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Cache: s.deps.Store.Stats()}
	if s.deps.Pool != nil {
		st := s.deps.Pool.Stats()
		resp.Prewarm = &st
	}
	if s.deps.Origin != nil {
		resp.Breaker = string(s.deps.Origin.BreakerState())
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type entriesResponse struct {
	Entries []diskcache.EntryInfo `json:"entries"`
	Count   int                   `json:"count"`
	Total   int                   `json:"total"`
}

// handleEntries lists cached entries in most- to least-recently-used
// order. Total carries the store-wide entry count so clients can tell a
// truncated page from the full set.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEntryPage)
	}
	entries := s.deps.Store.Entries(limit)
	writeJSON(w, r, http.StatusOK, entriesResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   s.deps.Store.Stats().Entries,
	})
}

type purgeRequest struct {
	URL string `json:"url"`
	All bool   `json:"all"`
}

type purgeResponse struct {
	Purged int    `json:"purged"`
	URL    string `json:"url,omitempty"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch {
	case req.All && req.URL != "":
		RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, `"url" and "all" are mutually exclusive`)
	case req.All:
		before := s.deps.Store.Stats().Entries
		if err := s.deps.Store.Clear(); err != nil {
			log.FromContext(r.Context()).Error().Err(err).
				Str(log.FieldEvent, "api.purge_failed").
				Msg("clearing cache failed")
			RespondError(w, r, http.StatusInternalServerError, ErrInternal)
			return
		}
		writeJSON(w, r, http.StatusOK, purgeResponse{Purged: before})
	case req.URL != "":
		canonical, err := httpcache.Canonicalize(req.URL)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, "url: "+err.Error())
			return
		}
		switch err := s.deps.Store.Remove(httpcache.Key(canonical)); {
		case errors.Is(err, diskcache.ErrNotFound):
			RespondError(w, r, http.StatusNotFound, ErrNotFound, "no cached entry for that URL")
		case err != nil:
			log.FromContext(r.Context()).Error().Err(err).
				Str(log.FieldEvent, "api.purge_failed").
				Str(log.FieldURL, canonical).
				Msg("removing cache entry failed")
			RespondError(w, r, http.StatusInternalServerError, ErrInternal)
		default:
			writeJSON(w, r, http.StatusOK, purgeResponse{Purged: 1, URL: canonical})
		}
	default:
		RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, `either "url" or "all" is required`)
	}
}

type prewarmRequest struct {
	URLs []string `json:"urls"`
}

type prewarmResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// handlePrewarm enqueues warm-ahead work. 202 because the pool fetches in
// the background; Dropped counts URLs rejected by a full queue.
func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		RespondError(w, r, http.StatusServiceUnavailable, ErrUnavailable, "prewarm pool is not running")
		return
	}
	var req prewarmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, `"urls" must not be empty`)
		return
	}
	accepted := s.deps.Pool.Warm(r.Context(), req.URLs)
	writeJSON(w, r, http.StatusAccepted, prewarmResponse{
		Accepted: accepted,
		Dropped:  len(req.URLs) - accepted,
	})
}

// decodeBody parses a JSON request body into v, answering 400 on garbage
// and false so the handler can bail.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, err.Error())
		return false
	}
	return true
}
