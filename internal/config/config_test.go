// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, ":9090", cfg.MetricsListen)
	assert.Equal(t, int64(512<<20), cfg.Cache.MaxBytes)
	assert.Equal(t, ModeForce, cfg.Cache.Mode)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.OverrideTTL)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Prewarm.Workers)
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("THUMBGATE_LISTEN", ":18080")
	t.Setenv("THUMBGATE_CACHE_MAX_BYTES", "1048576")
	t.Setenv("THUMBGATE_CACHE_MODE", "origin")
	t.Setenv("THUMBGATE_CACHE_OVERRIDE_TTL", "48h")
	t.Setenv("THUMBGATE_CACHE_OFFLINE", "yes")
	t.Setenv("THUMBGATE_ORIGIN_BASE_URL", "https://dms.example.net")
	t.Setenv("THUMBGATE_ORIGIN_ALLOW_HOSTS", "mirror.example.net, cdn.example.net")
	t.Setenv("THUMBGATE_PREWARM_WORKERS", "8")
	t.Setenv("THUMBGATE_INDEX_BACKEND", "redis")
	t.Setenv("THUMBGATE_REDIS_ADDR", "localhost:6379")
	t.Setenv("THUMBGATE_API_RATE_RPS", "12.5")

	cfg := ApplyEnv(Defaults())

	assert.Equal(t, ":18080", cfg.Listen)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxBytes)
	assert.Equal(t, ModeOrigin, cfg.Cache.Mode)
	assert.Equal(t, 48*time.Hour, cfg.Cache.OverrideTTL)
	assert.True(t, cfg.Cache.Offline)
	assert.Equal(t, "https://dms.example.net", cfg.Origin.BaseURL)
	assert.Equal(t, []string{"mirror.example.net", "cdn.example.net"}, cfg.Origin.AllowHosts)
	assert.Equal(t, 8, cfg.Prewarm.Workers)
	assert.Equal(t, "redis", cfg.Index.Backend)
	assert.Equal(t, "localhost:6379", cfg.Index.Redis.Addr)
	assert.InDelta(t, 12.5, cfg.API.RateRPS, 0.001)
}

func TestApplyEnvInvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("THUMBGATE_PREWARM_WORKERS", "not-a-number")
	t.Setenv("THUMBGATE_CACHE_OVERRIDE_TTL", "not-a-duration")
	t.Setenv("THUMBGATE_CACHE_OFFLINE", "maybe")

	cfg := ApplyEnv(Defaults())

	assert.Equal(t, Defaults().Prewarm.Workers, cfg.Prewarm.Workers)
	assert.Equal(t, Defaults().Cache.OverrideTTL, cfg.Cache.OverrideTTL)
	assert.False(t, cfg.Cache.Offline)
}

func TestLoadFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thumbgate.yaml")
	body := `
listen: ":7070"
data_dir: ` + dir + `
cache:
  max_bytes: 2097152
  mode: origin
origin:
  base_url: "http://origin.internal:8000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	// Env beats file.
	t.Setenv("THUMBGATE_LISTEN", ":6060")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.Listen, "env overrides file")
	assert.Equal(t, int64(2097152), cfg.Cache.MaxBytes, "file overrides default")
	assert.Equal(t, ModeOrigin, cfg.Cache.Mode)
	assert.Equal(t, ":9090", cfg.MetricsListen, "untouched default survives")
	require.NoError(t, Validate(cfg))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thumbgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_knob: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thumbgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Listen, cfg.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSanitizedRedactsSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.API.Token = "super-secret"
	cfg.Index.Redis.Password = "hunter2"

	got := cfg.Sanitized()

	assert.Equal(t, "***redacted***", got.API.Token)
	assert.Equal(t, "***redacted***", got.Index.Redis.Password)
	assert.Empty(t, Defaults().Sanitized().API.Token, "empty secrets stay empty")
}

func TestDerivedPaths(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = "/srv/tg"

	assert.Equal(t, "/srv/tg/cache", cfg.CacheDir())
	assert.Equal(t, "/srv/tg/verify/history.db", cfg.HistoryPath())
	assert.Equal(t, "/srv/tg/index", cfg.BadgerDir())

	cfg.Verify.HistoryPath = "/tmp/h.db"
	cfg.Index.Badger.Dir = "/tmp/idx"
	assert.Equal(t, "/tmp/h.db", cfg.HistoryPath())
	assert.Equal(t, "/tmp/idx", cfg.BadgerDir())
}
