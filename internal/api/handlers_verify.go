// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/verify"
)

// handleVerify runs the verification suite synchronously and returns the
// report. Only one run executes at a time; a second caller gets 409 and
// polls history instead.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Verifier == nil {
		RespondError(w, r, http.StatusServiceUnavailable, ErrUnavailable, "verification suite is not configured")
		return
	}
	report, err := s.deps.Verifier.Run(r.Context(), verify.TriggerAPI)
	switch {
	case errors.Is(err, verify.ErrRunInProgress):
		RespondError(w, r, http.StatusConflict, ErrVerifyInProgress)
		return
	case err != nil && report == nil:
		log.FromContext(r.Context()).Error().Err(err).
			Str(log.FieldEvent, "api.verify_failed").
			Msg("verification run failed")
		RespondError(w, r, http.StatusInternalServerError, ErrInternal)
		return
	case err != nil:
		// The run completed; only persisting it failed. The caller still
		// gets the report.
		log.FromContext(r.Context()).Warn().Err(err).
			Str(log.FieldEvent, "api.verify_save_failed").
			Str(log.FieldRunID, report.ID).
			Msg("verification report not persisted")
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleVerifyLatest(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		RespondError(w, r, http.StatusServiceUnavailable, ErrUnavailable, "verification history is not configured")
		return
	}
	report, err := s.deps.History.Latest(r.Context())
	if err != nil {
		s.respondHistoryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

type verifyRunsResponse struct {
	Runs  []verify.Report `json:"runs"`
	Count int             `json:"count"`
}

func (s *Server) handleVerifyRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		RespondError(w, r, http.StatusServiceUnavailable, ErrUnavailable, "verification history is not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		s.respondHistoryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, verifyRunsResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) handleVerifyRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		RespondError(w, r, http.StatusServiceUnavailable, ErrUnavailable, "verification history is not configured")
		return
	}
	report, err := s.deps.History.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondHistoryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) respondHistoryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, verify.ErrRunNotFound) {
		RespondError(w, r, http.StatusNotFound, ErrNotFound, "no such verification run")
		return
	}
	log.FromContext(r.Context()).Error().Err(err).
		Str(log.FieldEvent, "api.verify_history_failed").
		Msg("reading verification history failed")
	RespondError(w, r, http.StatusInternalServerError, ErrInternal)
}
