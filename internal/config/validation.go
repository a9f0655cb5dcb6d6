// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Validate checks the resolved configuration and returns the first problem
// found, phrased so the operator knows which knob to fix.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen: must not be empty (THUMBGATE_LISTEN)")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir: must not be empty (THUMBGATE_DATA_DIR)")
	}

	if cfg.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes: must be > 0, got %d", cfg.Cache.MaxBytes)
	}
	if cfg.Cache.EntryMaxBytes <= 0 {
		return fmt.Errorf("cache.entry_max_bytes: must be > 0, got %d", cfg.Cache.EntryMaxBytes)
	}
	if cfg.Cache.EntryMaxBytes > cfg.Cache.MaxBytes {
		return fmt.Errorf("cache.entry_max_bytes (%d) exceeds cache.max_bytes (%d)",
			cfg.Cache.EntryMaxBytes, cfg.Cache.MaxBytes)
	}
	switch cfg.Cache.Mode {
	case ModeOrigin, ModeForce:
	default:
		return fmt.Errorf("cache.mode: must be %q or %q, got %q", ModeOrigin, ModeForce, cfg.Cache.Mode)
	}
	if cfg.Cache.Mode == ModeForce && cfg.Cache.OverrideTTL <= 0 {
		return fmt.Errorf("cache.override_ttl: must be > 0 in force mode, got %s", cfg.Cache.OverrideTTL)
	}
	if cfg.Cache.FreeSpaceFloor < 0 || cfg.Cache.FreeSpaceFloor > 0.5 {
		return fmt.Errorf("cache.free_space_floor: must be within [0, 0.5], got %g", cfg.Cache.FreeSpaceFloor)
	}

	if cfg.Origin.BaseURL == "" {
		return fmt.Errorf("origin.base_url: must not be empty (THUMBGATE_ORIGIN_BASE_URL)")
	}
	u, err := url.Parse(cfg.Origin.BaseURL)
	if err != nil {
		return fmt.Errorf("origin.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("origin.base_url: missing host in %q", cfg.Origin.BaseURL)
	}
	if cfg.Origin.Timeout <= 0 {
		return fmt.Errorf("origin.timeout: must be > 0, got %s", cfg.Origin.Timeout)
	}
	if cfg.Origin.RateRPS < 0 {
		return fmt.Errorf("origin.rate_rps: must be >= 0, got %g", cfg.Origin.RateRPS)
	}
	if cfg.Origin.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("origin.breaker.failure_threshold: must be > 0, got %d", cfg.Origin.Breaker.FailureThreshold)
	}
	if cfg.Origin.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("origin.breaker.success_threshold: must be > 0, got %d", cfg.Origin.Breaker.SuccessThreshold)
	}
	if cfg.Origin.Breaker.OpenInterval <= 0 {
		return fmt.Errorf("origin.breaker.open_interval: must be > 0, got %s", cfg.Origin.Breaker.OpenInterval)
	}

	if cfg.Prewarm.Workers < 1 {
		return fmt.Errorf("prewarm.workers: must be >= 1, got %d", cfg.Prewarm.Workers)
	}
	if cfg.Prewarm.Queue < 1 {
		return fmt.Errorf("prewarm.queue: must be >= 1, got %d", cfg.Prewarm.Queue)
	}

	if cfg.Verify.Keep < 1 {
		return fmt.Errorf("verify.keep: must be >= 1, got %d", cfg.Verify.Keep)
	}

	switch cfg.Index.Backend {
	case "memory", "badger":
	case "redis":
		if cfg.Index.Redis.Addr == "" {
			return fmt.Errorf("index.redis.addr: required when index.backend is redis (THUMBGATE_REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("index.backend: must be memory, badger or redis, got %q", cfg.Index.Backend)
	}

	if cfg.API.RateRPS < 0 {
		return fmt.Errorf("api.rate_rps: must be >= 0, got %g", cfg.API.RateRPS)
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: must be json or console, got %q", cfg.Log.Format)
	}

	switch cfg.Telemetry.Exporter {
	case "grpc", "http", "noop":
	default:
		return fmt.Errorf("telemetry.exporter: must be grpc, http or noop, got %q", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate: must be within [0, 1], got %g", cfg.Telemetry.SamplingRate)
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Exporter != "noop" && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint: required when telemetry is enabled with the %s exporter", cfg.Telemetry.Exporter)
	}

	for _, cidr := range cfg.API.TrustedProxies {
		if strings.TrimSpace(cidr) == "" {
			return fmt.Errorf("api.trusted_proxies: empty entry")
		}
	}

	return nil
}
