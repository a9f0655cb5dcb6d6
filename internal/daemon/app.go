// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thumbgate/thumbgate/internal/api"
	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/fetch"
	"github.com/thumbgate/thumbgate/internal/httpcache"
	"github.com/thumbgate/thumbgate/internal/jobs"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/verify"
)

// startupGrace lets the servers come up before background work competes
// for origin capacity.
const startupGrace = 100 * time.Millisecond

// AppDeps carries the subsystems the App runs and rewires on reload.
// Only Manager is required; nil members are skipped.
type AppDeps struct {
	Logger    zerolog.Logger
	Manager   Manager
	Holder    *config.Holder
	Server    *api.Server
	Gateway   *httpcache.Gateway
	Pool      *fetch.Pool
	Janitor   *jobs.Janitor
	Scheduler *jobs.Scheduler
	Verifier  *verify.Runner

	// Manifest is the prewarm manifest path; non-empty enables the
	// startup warm pass.
	Manifest string
}

// App owns the long-lived runtime: the config watcher and reload fan-out,
// the background jobs, and the server lifecycle via Manager.
type App struct {
	logger    zerolog.Logger
	manager   Manager
	holder    *config.Holder
	server    *api.Server
	gateway   *httpcache.Gateway
	pool      *fetch.Pool
	janitor   *jobs.Janitor
	scheduler *jobs.Scheduler
	verifier  *verify.Runner
	manifest  string
}

// NewApp creates the runtime orchestrator.
func NewApp(deps AppDeps) *App {
	return &App{
		logger:    deps.Logger,
		manager:   deps.Manager,
		holder:    deps.Holder,
		server:    deps.Server,
		gateway:   deps.Gateway,
		pool:      deps.Pool,
		janitor:   deps.Janitor,
		scheduler: deps.Scheduler,
		verifier:  deps.Verifier,
		manifest:  deps.Manifest,
	}
}

// Run starts all owned subsystems and blocks until ctx is cancelled or a
// fatal error occurs. Shutdown order is handled by the Manager's hooks;
// everything started here stops via ctx.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Watcher startup is best-effort: a broken watch must not keep the
	// gateway from serving.
	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "config.watcher_start_failed").
				Msg("failed to start config watcher")
		}

		applyCh := make(chan config.Config, 1)
		a.holder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.applyConfig(cfg)
				}
			}
		})
	}

	if a.pool != nil {
		a.pool.Start()
	}

	if a.pool != nil && a.manifest != "" {
		g.Go(func() error {
			a.runStartupWarm(ctx)
			return nil
		})
	}

	if a.verifier != nil {
		g.Go(func() error {
			a.runStartupVerify(ctx)
			return nil
		})
	}

	if a.janitor != nil {
		g.Go(func() error {
			a.janitor.Run(ctx)
			return nil
		})
	}

	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// applyConfig fans a reloaded configuration out to the subsystems that
// accept runtime changes. Static fields were already pinned by the Holder.
func (a *App) applyConfig(cfg config.Config) {
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Msg("applying reloaded configuration")

	if err := log.SetLevel(cfg.Log.Level); err != nil {
		a.logger.Warn().
			Err(err).
			Str("level", cfg.Log.Level).
			Msg("cannot apply log level")
	}
	if a.gateway != nil {
		a.gateway.UpdatePolicy(cfg.Cache)
	}
	if a.server != nil {
		a.server.ApplyConfig(cfg)
	}
	if a.scheduler != nil {
		a.scheduler.SetPrewarmEvery(cfg.Prewarm.Interval)
	}
}

// runStartupWarm enqueues the manifest once at boot so a restarted gateway
// does not wait a full prewarm interval to refill.
func (a *App) runStartupWarm(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupGrace):
	}

	urls, err := fetch.ReadManifest(a.manifest)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "prewarm.manifest_failed").
			Str("manifest", a.manifest).
			Msg("startup prewarm skipped")
		return
	}
	if len(urls) == 0 {
		return
	}

	a.logger.Info().
		Str(log.FieldEvent, "prewarm.startup").
		Int("urls", len(urls)).
		Msg("performing startup prewarm (background)")
	enqueued := a.pool.Warm(ctx, urls)
	a.logger.Info().
		Str(log.FieldEvent, "prewarm.startup_done").
		Int("enqueued", enqueued).
		Msg("startup prewarm enqueued")
}

// runStartupVerify records a baseline verification run shortly after boot.
func (a *App) runStartupVerify(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupGrace):
	}

	if _, err := a.verifier.Run(ctx, verify.TriggerStartup); err != nil && !errors.Is(err, verify.ErrRunInProgress) {
		a.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "verify.startup_failed").
			Msg("startup verification failed")
	}
}
