// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/log"
)

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		lowerKey := strings.ToLower(key)
		switch {
		case strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password"):
			// For sensitive vars, just log that it was set.
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		case value == "":
			logger.Debug().
				Str("key", key).
				Str("default", defaultValue).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		default:
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	logger.Debug().
		Str("key", key).
		Str("default", defaultValue).
		Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if i, err := strconv.Atoi(v); err == nil {
			logger.Debug().
				Str("key", key).
				Int("value", i).
				Str("source", "environment").
				Msg("using environment variable")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseInt64 reads an int64 (byte sizes and the like) from environment
// variable or returns default value.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			logger.Debug().
				Str("key", key).
				Int64("value", i).
				Str("source", "environment").
				Msg("using environment variable")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int64("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if d, err := time.ParseDuration(v); err == nil {
			logger.Debug().
				Str("key", key).
				Dur("value", d).
				Str("source", "environment").
				Msg("using environment variable")
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		default:
			logger.Warn().
				Str("key", key).
				Str("value", v).
				Bool("default", defaultValue).
				Msg("invalid boolean in environment variable, using default")
		}
	}
	return defaultValue
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			logger.Debug().
				Str("key", key).
				Float64("value", f).
				Str("source", "environment").
				Msg("using environment variable")
			return f
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

// ParseStringSlice reads a comma-separated list from environment variable.
// Empty elements are dropped; an unset variable keeps the default.
func ParseStringSlice(key string, defaultValue []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		if strings.TrimSpace(v) == "" {
			return defaultValue
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// ApplyEnv overlays THUMBGATE_* environment variables onto cfg.
func ApplyEnv(cfg Config) Config {
	cfg.Listen = ParseString("THUMBGATE_LISTEN", cfg.Listen)
	cfg.MetricsListen = ParseString("THUMBGATE_METRICS_LISTEN", cfg.MetricsListen)
	cfg.DataDir = ParseString("THUMBGATE_DATA_DIR", cfg.DataDir)

	cfg.Cache.MaxBytes = ParseInt64("THUMBGATE_CACHE_MAX_BYTES", cfg.Cache.MaxBytes)
	cfg.Cache.EntryMaxBytes = ParseInt64("THUMBGATE_CACHE_ENTRY_MAX_BYTES", cfg.Cache.EntryMaxBytes)
	cfg.Cache.Mode = ParseString("THUMBGATE_CACHE_MODE", cfg.Cache.Mode)
	cfg.Cache.OverrideTTL = ParseDuration("THUMBGATE_CACHE_OVERRIDE_TTL", cfg.Cache.OverrideTTL)
	cfg.Cache.HeuristicMax = ParseDuration("THUMBGATE_CACHE_HEURISTIC_MAX", cfg.Cache.HeuristicMax)
	cfg.Cache.StaleIfError = ParseDuration("THUMBGATE_CACHE_STALE_IF_ERROR", cfg.Cache.StaleIfError)
	cfg.Cache.Offline = ParseBool("THUMBGATE_CACHE_OFFLINE", cfg.Cache.Offline)
	cfg.Cache.FreeSpaceFloor = ParseFloat("THUMBGATE_CACHE_FREE_SPACE_FLOOR", cfg.Cache.FreeSpaceFloor)

	cfg.Origin.BaseURL = ParseString("THUMBGATE_ORIGIN_BASE_URL", cfg.Origin.BaseURL)
	cfg.Origin.AllowHosts = ParseStringSlice("THUMBGATE_ORIGIN_ALLOW_HOSTS", cfg.Origin.AllowHosts)
	cfg.Origin.Timeout = ParseDuration("THUMBGATE_ORIGIN_TIMEOUT", cfg.Origin.Timeout)
	cfg.Origin.RateRPS = ParseFloat("THUMBGATE_ORIGIN_RATE_RPS", cfg.Origin.RateRPS)
	cfg.Origin.RateBurst = ParseInt("THUMBGATE_ORIGIN_RATE_BURST", cfg.Origin.RateBurst)
	cfg.Origin.Breaker.FailureThreshold = ParseInt("THUMBGATE_BREAKER_FAILURE_THRESHOLD", cfg.Origin.Breaker.FailureThreshold)
	cfg.Origin.Breaker.SuccessThreshold = ParseInt("THUMBGATE_BREAKER_SUCCESS_THRESHOLD", cfg.Origin.Breaker.SuccessThreshold)
	cfg.Origin.Breaker.OpenInterval = ParseDuration("THUMBGATE_BREAKER_OPEN_INTERVAL", cfg.Origin.Breaker.OpenInterval)

	cfg.Prewarm.Workers = ParseInt("THUMBGATE_PREWARM_WORKERS", cfg.Prewarm.Workers)
	cfg.Prewarm.Queue = ParseInt("THUMBGATE_PREWARM_QUEUE", cfg.Prewarm.Queue)
	cfg.Prewarm.Manifest = ParseString("THUMBGATE_PREWARM_MANIFEST", cfg.Prewarm.Manifest)
	cfg.Prewarm.Interval = ParseDuration("THUMBGATE_PREWARM_INTERVAL", cfg.Prewarm.Interval)
	cfg.Prewarm.NegativeTTL = ParseDuration("THUMBGATE_PREWARM_NEGATIVE_TTL", cfg.Prewarm.NegativeTTL)

	cfg.Verify.Interval = ParseDuration("THUMBGATE_VERIFY_INTERVAL", cfg.Verify.Interval)
	cfg.Verify.ProbeURL = ParseString("THUMBGATE_VERIFY_PROBE_URL", cfg.Verify.ProbeURL)
	cfg.Verify.HistoryPath = ParseString("THUMBGATE_VERIFY_HISTORY_PATH", cfg.Verify.HistoryPath)
	cfg.Verify.Keep = ParseInt("THUMBGATE_VERIFY_KEEP", cfg.Verify.Keep)

	cfg.Index.Backend = ParseString("THUMBGATE_INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Badger.Dir = ParseString("THUMBGATE_BADGER_DIR", cfg.Index.Badger.Dir)
	cfg.Index.Redis.Addr = ParseString("THUMBGATE_REDIS_ADDR", cfg.Index.Redis.Addr)
	cfg.Index.Redis.Password = ParseString("THUMBGATE_REDIS_PASSWORD", cfg.Index.Redis.Password)
	cfg.Index.Redis.DB = ParseInt("THUMBGATE_REDIS_DB", cfg.Index.Redis.DB)

	cfg.API.Token = ParseString("THUMBGATE_API_TOKEN", cfg.API.Token)
	cfg.API.ReadToken = ParseString("THUMBGATE_API_READ_TOKEN", cfg.API.ReadToken)
	cfg.API.RateRPS = ParseFloat("THUMBGATE_API_RATE_RPS", cfg.API.RateRPS)
	cfg.API.RateBurst = ParseInt("THUMBGATE_API_RATE_BURST", cfg.API.RateBurst)
	cfg.API.CORSOrigins = ParseStringSlice("THUMBGATE_CORS_ORIGINS", cfg.API.CORSOrigins)
	cfg.API.TrustedProxies = ParseStringSlice("THUMBGATE_TRUSTED_PROXIES", cfg.API.TrustedProxies)

	cfg.Log.Level = ParseString("THUMBGATE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = ParseString("THUMBGATE_LOG_FORMAT", cfg.Log.Format)

	cfg.Telemetry.Enabled = ParseBool("THUMBGATE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = ParseString("THUMBGATE_OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Exporter = ParseString("THUMBGATE_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("THUMBGATE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("THUMBGATE_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	return cfg
}
