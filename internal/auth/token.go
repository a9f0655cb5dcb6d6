// SPDX-License-Identifier: MIT

// Package auth holds the bearer-token primitives for the admin API:
// token extraction, constant-time comparison, and scope resolution.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken extracts the token from the Authorization header. Only the
// Bearer scheme is accepted; tokens never travel in cookies or query
// strings, where proxies and browsers would log them.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// AuthorizeToken reports whether got matches expected using constant-time
// comparison. Empty tokens never authorize.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// Resolve maps a presented token to its scope against the configured
// read-write and read-only tokens. The second return is false when the
// token matches neither.
func Resolve(got, rwToken, roToken string) (Scope, bool) {
	// Compare against both so a miss costs the same as a hit on either.
	isRW := AuthorizeToken(got, rwToken)
	isRO := AuthorizeToken(got, roToken)
	switch {
	case isRW:
		return ScopeWrite, true
	case isRO:
		return ScopeRead, true
	default:
		return "", false
	}
}
