// SPDX-License-Identifier: MIT

// Package index is the bookkeeping store next to the disk cache: negative
// fetch results and last-seen validators, keyed by cache key. Backends are
// interchangeable; the memory one is the default.
package index

import (
	"context"
	"time"
)

// Store holds small TTL-bounded records. A miss is (nil, false, nil);
// errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NegativeEntry remembers an origin 404/410 so the prewarm pool skips the
// URL until the record expires.
type NegativeEntry struct {
	Status int       `json:"status"`
	Until  time.Time `json:"until"`
}

// SeenEntry records the validators observed for a warmed key.
type SeenEntry struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// NegativeKey returns the index key for a cache key's negative record.
func NegativeKey(cacheKey string) string { return "neg:" + cacheKey }

// SeenKey returns the index key for a cache key's last-seen record.
func SeenKey(cacheKey string) string { return "seen:" + cacheKey }
