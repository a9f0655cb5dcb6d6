// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/log"
)

// Paths probed every few seconds by orchestrators. Logging them drowns
// out real traffic, so the request logger stays quiet unless they fail.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// RequestLogger emits one structured access log line per request. Status
// picks the level: 5xx logs at error, 4xx at warn, everything else info.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if quietPaths[r.URL.Path] && status < 400 {
				return
			}

			logger := log.WithComponentFromContext(r.Context(), "http")
			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = logger.Error()
			case status >= 400:
				ev = logger.Warn()
			default:
				ev = logger.Info()
			}
			ev = ev.
				Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int(log.FieldStatus, status).
				Int(log.FieldBytes, ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr)
			if xc := ww.Header().Get("X-Cache"); xc != "" {
				ev = ev.Str(log.FieldOutcome, xc)
			}
			ev.Msg("request completed")
		})
	}
}
