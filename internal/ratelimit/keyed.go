// SPDX-License-Identifier: MIT

// Package ratelimit bounds spend against the origin with per-host token
// buckets and counts refusals across the HTTP admission budgets.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter hands out one token bucket per key. The fetch client uses
// it with host keys so one slow origin cannot drain the budget of
// another. The outbound allowlist bounds key cardinality, so buckets are
// never swept.
type KeyedLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewKeyed creates a keyed limiter where every key gets the same budget.
func NewKeyed(r rate.Limit, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		rate:    r,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the key's bucket grants a token or ctx is done.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return k.bucket(key).Wait(ctx)
}

// Allow reports whether the key's bucket grants a token right now.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.bucket(key).Allow()
}

func (k *KeyedLimiter) bucket(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets[key]
	if !ok {
		b = rate.NewLimiter(k.rate, k.burst)
		k.buckets[key] = b
	}
	return b
}
