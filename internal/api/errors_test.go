// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbgate/thumbgate/internal/log"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		apiErr     *APIError
		details    []string
		wantDetail string
	}{
		{
			name:       "default detail is the error message",
			code:       http.StatusNotFound,
			apiErr:     ErrNotFound,
			wantDetail: ErrNotFound.Message,
		},
		{
			name:       "explicit detail overrides",
			code:       http.StatusBadRequest,
			apiErr:     ErrInvalidInput,
			details:    []string{"limit must be a positive integer"},
			wantDetail: "limit must be a positive integer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req = req.WithContext(log.ContextWithRequestID(req.Context(), "req-42"))
			rec := httptest.NewRecorder()

			RespondError(rec, req, tt.code, tt.apiErr, tt.details...)

			require.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.apiErr.Code, body.Error)
			assert.Equal(t, tt.wantDetail, body.Detail)
			assert.Equal(t, "req-42", body.RequestID)
		})
	}
}

func TestAPIErrorImplementsError(t *testing.T) {
	var err error = ErrVerifyInProgress
	assert.Equal(t, ErrVerifyInProgress.Message, err.Error())
}
