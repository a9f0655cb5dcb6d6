// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/thumbgate/thumbgate/internal/log"
)

// APIError pairs a stable machine-readable code with a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

var (
	ErrUnauthorized = &APIError{
		Code:    "unauthorized",
		Message: "authentication required",
	}
	ErrForbidden = &APIError{
		Code:    "forbidden",
		Message: "token lacks the required scope",
	}
	ErrNotFound = &APIError{
		Code:    "not_found",
		Message: "resource not found",
	}
	ErrInvalidInput = &APIError{
		Code:    "invalid_input",
		Message: "invalid request payload",
	}
	ErrVerifyInProgress = &APIError{
		Code:    "verify_in_progress",
		Message: "a verification run is already in progress",
	}
	ErrMethodNotAllowed = &APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed for this resource",
	}
	ErrUnavailable = &APIError{
		Code:    "unavailable",
		Message: "subsystem not available",
	}
	ErrInternal = &APIError{
		Code:    "internal_error",
		Message: "an internal error occurred",
	}
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes v with the given status. Once the header is out an
// encode failure cannot change the status, so it is only logged.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Error().
			Err(err).
			Int(log.FieldStatus, code).
			Str(log.FieldEvent, "api.encode_error").
			Msg("failed to encode JSON response")
	}
}

// RespondError sends the error envelope, correlating it with the request
// ID so operators can match a client report to the log line.
func RespondError(w http.ResponseWriter, r *http.Request, code int, apiErr *APIError, details ...string) {
	body := errorBody{
		Error:     apiErr.Code,
		Detail:    apiErr.Message,
		RequestID: log.RequestIDFromContext(r.Context()),
	}
	if len(details) > 0 && details[0] != "" {
		body.Detail = details[0]
	}
	writeJSON(w, r, code, body)
}
