// SPDX-License-Identifier: MIT

// Package config resolves the effective configuration from defaults, an
// optional YAML file, and THUMBGATE_* environment variables, in that order
// of increasing precedence.
package config

import (
	"path/filepath"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`
	DataDir       string `yaml:"data_dir"`

	Cache     CacheConfig     `yaml:"cache"`
	Origin    OriginConfig    `yaml:"origin"`
	Prewarm   PrewarmConfig   `yaml:"prewarm"`
	Verify    VerifyConfig    `yaml:"verify"`
	Index     IndexConfig     `yaml:"index"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CacheConfig governs the disk store and the caching policy.
type CacheConfig struct {
	// MaxBytes caps the sum of stored entry bytes; the store evicts
	// least-recently-used entries to stay under it.
	MaxBytes      int64 `yaml:"max_bytes"`
	EntryMaxBytes int64 `yaml:"entry_max_bytes"`

	// Mode selects the freshness policy: "origin" honours origin cache
	// headers, "force" assigns OverrideTTL to storable responses no matter
	// what the origin sent.
	Mode        string        `yaml:"mode"`
	OverrideTTL time.Duration `yaml:"override_ttl"`

	HeuristicMax time.Duration `yaml:"heuristic_max"`
	StaleIfError time.Duration `yaml:"stale_if_error"`

	// Offline serves any stored response regardless of freshness and never
	// contacts the origin.
	Offline bool `yaml:"offline"`

	FreeSpaceFloor float64 `yaml:"free_space_floor"`
}

// OriginConfig describes the upstream the gateway caches for.
type OriginConfig struct {
	BaseURL    string        `yaml:"base_url"`
	AllowHosts []string      `yaml:"allow_hosts"`
	Timeout    time.Duration `yaml:"timeout"`
	RateRPS    float64       `yaml:"rate_rps"`
	RateBurst  int           `yaml:"rate_burst"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the origin circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenInterval     time.Duration `yaml:"open_interval"`
}

// PrewarmConfig tunes the warm-ahead worker pool.
type PrewarmConfig struct {
	Workers     int           `yaml:"workers"`
	Queue       int           `yaml:"queue"`
	Manifest    string        `yaml:"manifest"`
	Interval    time.Duration `yaml:"interval"`
	NegativeTTL time.Duration `yaml:"negative_ttl"`
}

// VerifyConfig tunes the verification suite and its history store.
type VerifyConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ProbeURL    string        `yaml:"probe_url"`
	HistoryPath string        `yaml:"history_path"`
	Keep        int           `yaml:"keep"`
}

// IndexConfig selects the bookkeeping store backend.
type IndexConfig struct {
	Backend string       `yaml:"backend"`
	Badger  BadgerConfig `yaml:"badger"`
	Redis   RedisConfig  `yaml:"redis"`
}

// BadgerConfig configures the embedded index backend.
type BadgerConfig struct {
	Dir string `yaml:"dir"`
}

// RedisConfig configures the shared index backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// APIConfig governs the admin surface and per-client limits.
type APIConfig struct {
	// Token grants read-write admin access; ReadToken grants read-only
	// access. With both empty the admin surface is open (dev mode).
	Token          string   `yaml:"token"`
	ReadToken      string   `yaml:"read_token"`
	RateRPS        float64  `yaml:"rate_rps"`
	RateBurst      int      `yaml:"rate_burst"`
	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Defaults returns the baseline configuration before file and env overlays.
func Defaults() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: ":9090",
		DataDir:       "/var/lib/thumbgate",
		Cache: CacheConfig{
			MaxBytes:       512 << 20,
			EntryMaxBytes:  32 << 20,
			Mode:           ModeForce,
			OverrideTTL:    7 * 24 * time.Hour,
			HeuristicMax:   24 * time.Hour,
			StaleIfError:   24 * time.Hour,
			FreeSpaceFloor: 0.10,
		},
		Origin: OriginConfig{
			Timeout:   10 * time.Second,
			RateRPS:   20,
			RateBurst: 40,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenInterval:     30 * time.Second,
			},
		},
		Prewarm: PrewarmConfig{
			Workers:     4,
			Queue:       256,
			NegativeTTL: 10 * time.Minute,
		},
		Verify: VerifyConfig{
			Keep: 50,
		},
		Index: IndexConfig{
			Backend: "memory",
		},
		API: APIConfig{
			RateRPS:   50,
			RateBurst: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "thumbgate",
			Exporter:     "grpc",
			SamplingRate: 1.0,
		},
	}
}

// Cache policy modes.
const (
	ModeOrigin = "origin"
	ModeForce  = "force"
)

// CacheDir returns the directory holding entry files and the journal.
func (c Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// HistoryPath returns the verify history database path, defaulting to a
// location under the data dir.
func (c Config) HistoryPath() string {
	if c.Verify.HistoryPath != "" {
		return c.Verify.HistoryPath
	}
	return filepath.Join(c.DataDir, "verify", "history.db")
}

// BadgerDir returns the badger index directory, defaulting to a location
// under the data dir.
func (c Config) BadgerDir() string {
	if c.Index.Badger.Dir != "" {
		return c.Index.Badger.Dir
	}
	return filepath.Join(c.DataDir, "index")
}

// Sanitized returns a copy safe for logging and the status endpoint:
// credentials are redacted, everything else is kept.
func (c Config) Sanitized() Config {
	cp := c
	if cp.API.Token != "" {
		cp.API.Token = "***redacted***"
	}
	if cp.API.ReadToken != "" {
		cp.API.ReadToken = "***redacted***"
	}
	if cp.Index.Redis.Password != "" {
		cp.Index.Redis.Password = "***redacted***"
	}
	return cp
}
