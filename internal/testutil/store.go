// SPDX-License-Identifier: MIT

package testutil

import (
	"path/filepath"
	"testing"

	"github.com/thumbgate/thumbgate/internal/diskcache"
)

// OpenStore opens a disk cache in a fresh temp dir and closes it with
// the test. Closing an already-closed store is harmless, so tests may
// still close it themselves to assert shutdown behavior.
func OpenStore(t *testing.T, maxBytes int64, opts ...diskcache.Option) *diskcache.Store {
	t.Helper()
	s, err := diskcache.Open(filepath.Join(t.TempDir(), "cache"), maxBytes, opts...)
	if err != nil {
		t.Fatalf("open disk cache: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
