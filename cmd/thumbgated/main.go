// SPDX-License-Identifier: MIT

// Command thumbgated runs the caching gateway daemon. It also carries the
// small operational entry points that ship in the same binary: a config
// validator, a container healthcheck probe, and a status query.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thumbgate/thumbgate/internal/daemon"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		os.Exit(runConfigCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	healthcheck := flag.Bool("healthcheck", false, "probe the running daemon's readiness endpoint and exit")
	status := flag.Bool("status", false, "print the running daemon's status document and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("thumbgated %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Explicit -config wins; otherwise fall back to THUMBGATE_CONFIG or a
	// thumbgate.yaml sitting in the data dir.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
	}

	if *healthcheck {
		os.Exit(runHealthcheck(effectiveConfigPath))
	}
	if *status {
		os.Exit(runStatus(effectiveConfigPath))
	}

	// Safe logging defaults until the effective config is loaded;
	// WireServices reconfigures the global logger from it.
	log.Configure(log.Config{
		Level:   "info",
		Format:  "json",
		Service: "thumbgate",
	})
	logger := log.WithComponent("main")

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	container, err := daemon.WireServices(ctx, effectiveConfigPath)
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "daemon.wire_failed").
			Msg("failed to initialize services")
		if errors.Is(err, daemon.ErrInvalidConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if err := container.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "daemon.run_failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("server exiting")
}

// resolveDefaultConfigPath locates a config file when -config is not given:
// $THUMBGATE_CONFIG if set, else thumbgate.yaml in the data dir if present.
// An empty result means run on defaults and environment alone.
func resolveDefaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("THUMBGATE_CONFIG")); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(os.Getenv("THUMBGATE_DATA_DIR"))
	if dataDir == "" {
		dataDir = "/var/lib/thumbgate"
	}
	autoPath := filepath.Join(dataDir, "thumbgate.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}
