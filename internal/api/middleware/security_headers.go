// SPDX-License-Identifier: MIT

package middleware

import (
	"net"
	"net/http"
	"strings"
)

// DefaultCSP locks the surface down completely. The gateway serves JSON
// and raw cached objects, never HTML, so nothing may load or frame it.
const DefaultCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders returns a middleware that adds common security headers
// to all responses. X-Forwarded-Proto is only honored for HSTS when the
// direct peer is a trusted proxy.
func SecurityHeaders(csp string, trustedProxies []*net.IPNet) func(http.Handler) http.Handler {
	if csp == "" {
		csp = DefaultCSP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isHTTPS := r.TLS != nil
			if !isHTTPS && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
				if ip := DirectPeer(r); ip != nil && IsIPAllowed(ip, trustedProxies) {
					isHTTPS = true
				}
			}
			if isHTTPS {
				w.Header().Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
			}

			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		})
	}
}
