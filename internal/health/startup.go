// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/fsutil"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/netutil"
)

// PerformStartupChecks validates directories, listen addresses and origin
// wiring before the daemon starts serving.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := ensureWritableDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := ensureWritableDir(logger, cfg.CacheDir()); err != nil {
		return fmt.Errorf("cache directory check failed: %w", err)
	}

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func ensureWritableDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := fsutil.WriteProbe(path); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	logger.Info().Str(log.FieldPath, path).Msg("✓ Directory is writable")
	return nil
}

// checkTargetedValidations covers the security and runtime-critical parts
// of the configuration.
func checkTargetedValidations(logger zerolog.Logger, cfg config.Config) error {
	// a. Listen addresses (parseable, sane ports)
	if err := checkListenAddr(cfg.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	if cfg.MetricsListen != "" {
		if err := checkListenAddr(cfg.MetricsListen); err != nil {
			return fmt.Errorf("invalid metrics listen address %q: %w", cfg.MetricsListen, err)
		}
	}
	logger.Info().Str("addr", cfg.Listen).Msg("✓ Listen addresses are valid")

	// b. Origin allowlist (base URL syntax, hosts normalizable, non-empty)
	if _, err := netutil.NewAllowlist(cfg.Origin.BaseURL, cfg.Origin.AllowHosts, false); err != nil {
		return fmt.Errorf("origin allowlist: %w", err)
	}
	logger.Info().
		Str(log.FieldBaseURL, cfg.Origin.BaseURL).
		Int("extra_hosts", len(cfg.Origin.AllowHosts)).
		Msg("✓ Origin allowlist is valid")

	// c. Prewarm manifest (readable when configured)
	if cfg.Prewarm.Manifest != "" {
		if err := checkFileReadable(cfg.Prewarm.Manifest); err != nil {
			return fmt.Errorf("prewarm manifest error: %w", err)
		}
		logger.Info().Str(log.FieldPath, cfg.Prewarm.Manifest).Msg("✓ Prewarm manifest is readable")
	}

	// d. Verify probe URL (syntax + scheme when configured)
	if cfg.Verify.ProbeURL == "" {
		logger.Warn().Msg("verify probe URL not configured; probe checks will report warn")
	} else {
		u, err := url.Parse(cfg.Verify.ProbeURL)
		if err != nil {
			return fmt.Errorf("invalid verify probe URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("verify probe URL scheme must be http or https, got: %s", u.Scheme)
		}
		logger.Info().Str("url", cfg.Verify.ProbeURL).Msg("✓ Verify probe URL is valid")
	}

	// e. Data under temp survives nothing; say so once at startup.
	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; cached entries may be lost on reboot")
	}

	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config; verifying readability is expected
	if err != nil {
		return err
	}
	return f.Close()
}
