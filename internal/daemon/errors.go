// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	// ErrMissingLogger is returned when the deps carry a disabled logger.
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingAPIHandler is returned when no API handler is wired.
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrMissingManager is returned when an app is built without a manager.
	ErrMissingManager = errors.New("manager is required")

	// ErrManagerNotStarted is returned by Shutdown before Start has run.
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrInvalidConfig marks wiring failures caused by the configuration
	// itself, so the binary can exit with a usage-style status.
	ErrInvalidConfig = errors.New("invalid configuration")
)
