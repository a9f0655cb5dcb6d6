// SPDX-License-Identifier: MIT

package index

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbgate/thumbgate/internal/config"
)

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "neg:absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "neg:abc", []byte(`{"status":404}`), time.Minute))
		val, ok, err := store.Get(ctx, "neg:abc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"status":404}`, string(val))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "seen:k", []byte(`{"etag":"a"}`), time.Minute))
		require.NoError(t, store.Set(ctx, "seen:k", []byte(`{"etag":"b"}`), time.Minute))
		val, ok, err := store.Get(ctx, "seen:k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"etag":"b"}`, string(val))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "neg:gone", []byte(`{}`), time.Minute))
		require.NoError(t, store.Delete(ctx, "neg:gone"))
		_, ok, err := store.Get(ctx, "neg:gone")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete absent is a no-op", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "neg:never"))
	})
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory(0)
	defer func() { _ = m.Close() }()
	runStoreSuite(t, m)
}

func TestMemoryStore_Expiration(t *testing.T) {
	m := NewMemory(0)
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "neg:short", []byte(`{}`), 30*time.Millisecond))
	_, ok, err := m.Get(ctx, "neg:short")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok, err = m.Get(ctx, "neg:short")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must miss")
}

func TestMemoryStore_JanitorSweep(t *testing.T) {
	m := NewMemory(20 * time.Millisecond)
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "neg:sweep", []byte(`{}`), 10*time.Millisecond))
	time.Sleep(80 * time.Millisecond)

	m.mu.RLock()
	_, present := m.entries["neg:sweep"]
	m.mu.RUnlock()
	assert.False(t, present, "janitor must delete expired entries")
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	m := NewMemory(0)
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "seen:forever", []byte(`{}`), 0))
	time.Sleep(20 * time.Millisecond)
	_, ok, err := m.Get(ctx, "seen:forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadgerStore(t *testing.T) {
	b, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	runStoreSuite(t, b)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewBadger(dir)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "neg:persist", []byte(`{"status":410}`), time.Hour))
	require.NoError(t, b.Close())

	b2, err := NewBadger(dir)
	require.NoError(t, err)
	defer func() { _ = b2.Close() }()
	val, ok, err := b2.Get(ctx, "neg:persist")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":410}`, string(val))
}

func setupMiniRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Redis{client: client}
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, setupMiniRedis(t))
}

func TestRedisStore_Ping(t *testing.T) {
	r := setupMiniRedis(t)
	assert.NoError(t, r.Ping(context.Background()))
}

func TestFactory(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()

	t.Run("memory", func(t *testing.T) {
		cfg := cfg
		cfg.Index.Backend = "memory"
		store, err := New(cfg)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		_, isMem := store.(*Memory)
		assert.True(t, isMem)
	})

	t.Run("default is memory", func(t *testing.T) {
		cfg := cfg
		cfg.Index.Backend = ""
		store, err := New(cfg)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		_, isMem := store.(*Memory)
		assert.True(t, isMem)
	})

	t.Run("badger", func(t *testing.T) {
		cfg := cfg
		cfg.Index.Backend = "badger"
		cfg.Index.Badger.Dir = t.TempDir()
		store, err := New(cfg)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		_, isBadger := store.(*Badger)
		assert.True(t, isBadger)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := cfg
		cfg.Index.Backend = "etcd"
		_, err := New(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown index backend")
	})
}

func TestEntryShapes(t *testing.T) {
	neg := NegativeEntry{Status: 404, Until: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(neg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":404,"until":"2025-06-01T12:00:00Z"}`, string(data))

	var back NegativeEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, neg, back)

	assert.Equal(t, "neg:abc", NegativeKey("abc"))
	assert.Equal(t, "seen:abc", SeenKey("abc"))
}
