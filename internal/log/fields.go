// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Cache fields
	FieldCacheKey = "cache_key"
	FieldOutcome  = "outcome"
	FieldEntries  = "entries"
	FieldBytes    = "bytes"

	// Path / URL fields
	FieldPath    = "path"
	FieldURL     = "url"
	FieldBaseURL = "base_url"
	FieldDir     = "dir"

	// Status of an HTTP exchange or a verify run/check
	FieldStatus = "status"

	// Verify fields
	FieldCheck   = "check"
	FieldTrigger = "trigger"
)
