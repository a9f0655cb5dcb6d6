// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// Scope is the permission level a token grants.
type Scope string

const (
	// ScopeRead allows stats, listings, history, and status.
	ScopeRead Scope = "ro"
	// ScopeWrite additionally allows purge, prewarm, and verify runs.
	ScopeWrite Scope = "rw"
)

// Allows reports whether a principal holding s may perform an operation
// requiring required. Write implies read.
func (s Scope) Allows(required Scope) bool {
	if s == ScopeWrite {
		return true
	}
	return s == required
}

// Principal is the authenticated identity of a caller.
type Principal struct {
	// ID is a stable identifier derived from the token, safe to log.
	ID string
	// Scope is the permission level the token granted.
	Scope Scope
}

// NewPrincipal derives a principal from a validated token. The ID is a
// truncated hash so log lines can distinguish callers without ever
// exposing token material.
func NewPrincipal(token string, scope Scope) Principal {
	sum := sha256.Sum256([]byte(token))
	return Principal{
		ID:    "t_" + hex.EncodeToString(sum[:])[:16],
		Scope: scope,
	}
}
