// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/config"
)

// Deps carries everything the Manager needs to run its servers.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// Config is the gateway configuration the servers were built from.
	Config config.Config

	// APIHandler serves the gateway and admin API.
	APIHandler http.Handler

	// MetricsHandler serves Prometheus metrics on the metrics listener.
	// Nil disables the metrics server.
	MetricsHandler http.Handler
}

// Validate checks that the dependencies are usable.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
