// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strings"
)

// CORS returns a middleware that sets Cross-Origin Resource Sharing
// headers from a strict allowed-origins list. An entry of "*" allows any
// origin. Credentials are never allowed: the API authenticates with
// bearer tokens, not cookies, so there is nothing ambient to protect.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	allowAll := allowed["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// A request without Origin is same-origin or a non-browser
			// client; no CORS grant is needed. An origin outside the list
			// gets no Allow-Origin header and the browser blocks it.
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderRequestID)
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, Content-Length, Date, "+HeaderRequestID)
			w.Header().Set("Access-Control-Max-Age", "600")

			// Always vary on Origin so shared caches never serve one
			// origin's grant to another.
			vary := w.Header().Get("Vary")
			switch {
			case vary == "":
				w.Header().Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
			case !strings.Contains(vary, "Origin"):
				w.Header().Set("Vary", vary+", Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Allow", "GET, HEAD, POST, OPTIONS")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
