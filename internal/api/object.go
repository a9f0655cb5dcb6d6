// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"
)

// handleObject resolves the wildcard tail to an origin URL and hands it
// to the gateway. Two forms are accepted: an absolute http(s) URL, which
// the outbound allowlist will vet by host, and an origin-relative path
// joined onto the configured base URL.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.targetURL(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, "object path escapes the origin root")
		return
	}
	if rawURL == "" {
		RespondError(w, r, http.StatusNotFound, ErrNotFound)
		return
	}
	s.deps.Gateway.Serve(w, r, rawURL)
}

// targetURL rebuilds the requested origin URL from the escaped wildcard
// tail, keeping the query byte for byte. The escaped form is used so that
// percent-encoded octets in the client path reach canonicalization
// untouched. Empty target means not found; ok=false means the path tried
// to climb out of the origin root.
func (s *Server) targetURL(r *http.Request) (string, bool) {
	tail, found := strings.CutPrefix(r.URL.EscapedPath(), "/o/")
	if !found || tail == "" {
		return "", true
	}

	var raw string
	if strings.HasPrefix(tail, "http://") || strings.HasPrefix(tail, "https://") {
		raw = tail
	} else {
		// Relative form. Reject textual dot-segments that would resolve
		// above the tail root; anything deeper is resolved during
		// canonicalization and stays under the base path.
		if escapesRoot(tail) {
			return "", false
		}
		base := strings.TrimSuffix(s.config().Origin.BaseURL, "/")
		raw = base + "/" + tail
	}

	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}
	return raw, true
}

// escapesRoot walks the textual segments of an escaped path and reports
// whether "." / ".." resolution would climb above its root. Encoded dots
// are not dot-segments and pass through to the origin unresolved.
func escapesRoot(path string) bool {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		case ".", "":
		default:
			depth++
		}
	}
	return false
}
