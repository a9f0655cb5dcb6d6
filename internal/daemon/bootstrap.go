// SPDX-License-Identifier: MIT

// Package daemon wires the gateway's services together and owns their
// lifecycle: server startup, config reload, background jobs, and ordered
// graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/api"
	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/fetch"
	"github.com/thumbgate/thumbgate/internal/health"
	"github.com/thumbgate/thumbgate/internal/httpcache"
	"github.com/thumbgate/thumbgate/internal/index"
	"github.com/thumbgate/thumbgate/internal/jobs"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/netutil"
	"github.com/thumbgate/thumbgate/internal/telemetry"
	"github.com/thumbgate/thumbgate/internal/verify"
	"github.com/thumbgate/thumbgate/internal/version"
)

// Container is the production composition root output.
type Container struct {
	Config  config.Config
	Holder  *config.Holder
	Logger  zerolog.Logger
	Server  *api.Server
	Manager Manager
	App     *App

	Store     *diskcache.Store
	Gateway   *httpcache.Gateway
	Pool      *fetch.Pool
	Janitor   *jobs.Janitor
	Scheduler *jobs.Scheduler
	Verifier  *verify.Runner
	History   *verify.Store
}

// WireServices builds the production dependency graph from the configuration
// at configPath (empty means defaults plus environment) and returns a
// runnable container. Shutdown hooks are registered here so a caller only
// has to run the app and cancel its context.
func WireServices(ctx context.Context, configPath string) (*Container, error) {
	if ctx == nil {
		return nil, fmt.Errorf("wire services context is nil")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", ErrInvalidConfig, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "thumbgate",
	})
	logger := log.WithComponent("bootstrap")

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Listen).
		Msg("starting thumbgate")
	logger.Info().Msgf("→ Origin: %s", maskURL(cfg.Origin.BaseURL))
	logger.Info().Msgf("→ Cache: %s max, %s per entry, mode %s",
		humanize.IBytes(uint64(cfg.Cache.MaxBytes)),
		humanize.IBytes(uint64(cfg.Cache.EntryMaxBytes)),
		cfg.Cache.Mode)
	logger.Info().Msgf("→ Index: %s", cfg.Index.Backend)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	if cfg.API.Token != "" || cfg.API.ReadToken != "" {
		logger.Info().Str(log.FieldEvent, "auth.configured").Msg("→ API tokens: configured")
	} else {
		logger.Warn().Str(log.FieldEvent, "auth.open").Msg("→ API tokens: none, admin surface is open")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks failed: %w", err)
	}

	store, err := diskcache.Open(cfg.CacheDir(), cfg.Cache.MaxBytes,
		diskcache.WithEntryMaxBytes(cfg.Cache.EntryMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}

	idx, err := index.New(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open index backend: %w", err)
	}

	allow, err := netutil.NewAllowlist(cfg.Origin.BaseURL, cfg.Origin.AllowHosts, false)
	if err != nil {
		_ = idx.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build origin allowlist: %w", err)
	}

	client := fetch.NewClient(cfg.Origin, allow)
	gateway := httpcache.New(store, client, cfg.Cache)
	pool := fetch.NewPool(gateway, idx, cfg.Prewarm)

	history, err := verify.OpenStore(cfg.HistoryPath())
	if err != nil {
		_ = idx.Close()
		_ = store.Close()
		return nil, fmt.Errorf("open verify history: %w", err)
	}

	verifier := verify.NewRunner(history, verify.Suite(verify.SuiteConfig{
		Store:       store,
		Gateway:     gateway,
		DataDir:     cfg.DataDir,
		ProbeURL:    cfg.Verify.ProbeURL,
		HistoryPath: cfg.HistoryPath(),
		FreeFloor:   cfg.Cache.FreeSpaceFloor,
	})...)
	verifier.SetRetention(cfg.Verify.Keep)

	janitor := jobs.NewJanitor(store, idx, 0)
	scheduler := jobs.NewScheduler(jobs.SchedulerConfig{
		Verifier:     verifier,
		Warmer:       pool,
		Manifest:     cfg.Prewarm.Manifest,
		VerifyEvery:  cfg.Verify.Interval,
		PrewarmEvery: cfg.Prewarm.Interval,
	})

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewCacheDirChecker(cfg.CacheDir()))
	healthMgr.RegisterChecker(health.NewMaintenanceChecker(janitor.LastRun, 0))
	healthMgr.RegisterChecker(health.NewIndexChecker(idx))
	healthMgr.RegisterChecker(health.NewBreakerChecker(client.BreakerState))

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		Environment:    "production",
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		_ = history.Close()
		_ = idx.Close()
		_ = store.Close()
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	server, err := api.New(api.Deps{
		Gateway:  gateway,
		Store:    store,
		Health:   healthMgr,
		Config:   cfg,
		Pool:     pool,
		Origin:   client,
		Verifier: verifier,
		History:  history,
		Tasks:    scheduler,
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		_ = history.Close()
		_ = idx.Close()
		_ = store.Close()
		return nil, fmt.Errorf("initialize api server: %w", err)
	}

	mgr, err := NewManager(ServerConfig{
		ListenAddr:  cfg.Listen,
		MetricsAddr: cfg.MetricsListen,
	}, Deps{
		Logger:         log.Base(),
		Config:         cfg,
		APIHandler:     server.Handler(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		_ = history.Close()
		_ = idx.Close()
		_ = store.Close()
		return nil, fmt.Errorf("create daemon manager: %w", err)
	}

	// Hooks run LIFO: the disk cache registers first so it flushes and
	// closes last, after everything that still writes to it has stopped.
	mgr.RegisterShutdownHook("disk_cache", func(context.Context) error {
		return errors.Join(store.Flush(), store.Close())
	})
	mgr.RegisterShutdownHook("index", func(context.Context) error {
		return idx.Close()
	})
	mgr.RegisterShutdownHook("verify_history", func(context.Context) error {
		return history.Close()
	})
	mgr.RegisterShutdownHook("telemetry", func(hctx context.Context) error {
		return provider.Shutdown(hctx)
	})
	mgr.RegisterShutdownHook("prewarm_pool", func(context.Context) error {
		pool.Stop()
		return nil
	})

	holder := config.NewHolder(cfg, configPath)

	app := NewApp(AppDeps{
		Logger:    logger,
		Manager:   mgr,
		Holder:    holder,
		Server:    server,
		Gateway:   gateway,
		Pool:      pool,
		Janitor:   janitor,
		Scheduler: scheduler,
		Verifier:  verifier,
		Manifest:  cfg.Prewarm.Manifest,
	})

	return &Container{
		Config:    cfg,
		Holder:    holder,
		Logger:    logger,
		Server:    server,
		Manager:   mgr,
		App:       app,
		Store:     store,
		Gateway:   gateway,
		Pool:      pool,
		Janitor:   janitor,
		Scheduler: scheduler,
		Verifier:  verifier,
		History:   history,
	}, nil
}

// Run starts the app loop and blocks until ctx is cancelled or a fatal
// error occurs.
func (c *Container) Run(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("run context is nil")
	}
	if c == nil || c.App == nil {
		return fmt.Errorf("container is not fully initialized")
	}
	return c.App.Run(ctx)
}

// WaitForShutdown returns a context cancelled on SIGINT or SIGTERM. Callers
// defer the stop func so a second signal terminates the process immediately.
// SIGHUP is not handled; config reload is file-watch driven.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid_url]"
	}
	parsed.User = nil
	return parsed.String()
}
