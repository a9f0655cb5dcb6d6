// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbgate/thumbgate/internal/verify"
)

func sampleReport(id string) *verify.Report {
	return &verify.Report{
		ID:         id,
		Trigger:    verify.TriggerAPI,
		StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC),
		DurationMS: 1000,
		Overall:    verify.StatusPass,
		Total:      3,
		Passed:     3,
		Results: []verify.Result{
			{Name: "cache_dir", Status: verify.StatusPass, DurationMS: 2},
			{Name: "journal", Status: verify.StatusPass, DurationMS: 5},
			{Name: "size_ceiling", Status: verify.StatusPass, DurationMS: 1},
		},
	}
}

func TestHandleVerifyRunsSuite(t *testing.T) {
	verifier := &stubVerifier{report: sampleReport("run-1")}
	ts := newTestServer(t, func(d *Deps) { d.Verifier = verifier })

	rec := ts.request(t, http.MethodPost, "/api/v1/verify", testRWToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep verify.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "run-1", rep.ID)
	assert.Equal(t, verify.StatusPass, rep.Overall)
	assert.Len(t, rep.Results, 3)
	assert.Equal(t, []string{verify.TriggerAPI}, verifier.triggers)
}

func TestHandleVerifyConflict(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Verifier = &stubVerifier{err: verify.ErrRunInProgress}
	})

	rec := ts.request(t, http.MethodPost, "/api/v1/verify", testRWToken, nil)
	requireErrorBody(t, rec, http.StatusConflict, "verify_in_progress")
}

func TestHandleVerifyPersistFailureStillReports(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Verifier = &stubVerifier{
			report: sampleReport("run-2"),
			err:    errors.New("history: disk full"),
		}
	})

	rec := ts.request(t, http.MethodPost, "/api/v1/verify", testRWToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep verify.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "run-2", rep.ID)
}

func TestHandleVerifyRunFailure(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Verifier = &stubVerifier{err: errors.New("suite exploded")}
	})

	rec := ts.request(t, http.MethodPost, "/api/v1/verify", testRWToken, nil)
	requireErrorBody(t, rec, http.StatusInternalServerError, "internal_error")
}

func TestHandleVerifyUnconfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodPost, "/api/v1/verify", testRWToken, nil)
	requireErrorBody(t, rec, http.StatusServiceUnavailable, "unavailable")
}

func TestHandleVerifyLatest(t *testing.T) {
	t.Run("returns newest report", func(t *testing.T) {
		ts := newTestServer(t, func(d *Deps) {
			d.History = &stubHistory{latest: sampleReport("run-9")}
		})

		rec := ts.request(t, http.MethodGet, "/api/v1/verify/latest", testROToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rep verify.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, "run-9", rep.ID)
	})

	t.Run("empty history", func(t *testing.T) {
		ts := newTestServer(t, func(d *Deps) { d.History = &stubHistory{} })
		rec := ts.request(t, http.MethodGet, "/api/v1/verify/latest", testROToken, nil)
		requireErrorBody(t, rec, http.StatusNotFound, "not_found")
	})
}

func TestHandleVerifyRunsList(t *testing.T) {
	history := &stubHistory{
		runs: []verify.Report{*sampleReport("run-3"), *sampleReport("run-2"), *sampleReport("run-1")},
	}
	ts := newTestServer(t, func(d *Deps) { d.History = history })

	t.Run("default listing", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/verify/runs", testROToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp verifyRunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, "run-3", resp.Runs[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/verify/runs?limit=2", testROToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp verifyRunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/verify/runs?limit=zero", testROToken, nil)
		requireErrorBody(t, rec, http.StatusBadRequest, "invalid_input")
	})
}

func TestHandleVerifyRunByID(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.History = &stubHistory{byID: map[string]*verify.Report{"run-7": sampleReport("run-7")}}
	})

	t.Run("found", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/verify/runs/run-7", testROToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rep verify.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, "run-7", rep.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/api/v1/verify/runs/run-404", testROToken, nil)
		requireErrorBody(t, rec, http.StatusNotFound, "not_found")
	})
}

func TestVerifyHistoryUnconfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, target := range []string{
		"/api/v1/verify/latest",
		"/api/v1/verify/runs",
		"/api/v1/verify/runs/run-1",
	} {
		rec := ts.request(t, http.MethodGet, target, testROToken, nil)
		requireErrorBody(t, rec, http.StatusServiceUnavailable, "unavailable")
	}
}

func TestVerifyHistoryStorageError(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.History = &stubHistory{err: errors.New("database is locked")}
	})

	rec := ts.request(t, http.MethodGet, "/api/v1/verify/latest", testROToken, nil)
	requireErrorBody(t, rec, http.StatusInternalServerError, "internal_error")
}
