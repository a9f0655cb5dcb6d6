// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/log"
)

// Holder holds configuration with atomic reloading capability. It provides
// thread-safe access and supports hot reloading from file changes or a
// manual trigger.
type Holder struct {
	mu         sync.RWMutex
	current    Config
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config
}

// NewHolder creates a configuration holder around the initial config.
func NewHolder(initial Config, configPath string) *Holder {
	return &Holder{
		current:         initial,
		configPath:      configPath,
		logger:          log.WithComponent("config"),
		reloadListeners: make([]chan<- Config, 0),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-resolves configuration from file and environment and validates
// it. If validation fails the old configuration is kept and an error is
// returned. Static fields (listeners, data dir, store sizing, index backend,
// telemetry, api tokens) never change on reload; attempted changes are
// logged and dropped.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := Load(h.configPath)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	if err := Validate(newCfg); err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.validation_failed").
			Msg("new configuration failed validation")
		return fmt.Errorf("validate config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	newCfg = h.pinStatic(oldCfg, newCfg)
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")

	return nil
}

// pinStatic keeps restart-only fields from the old configuration, logging
// any attempted change.
func (h *Holder) pinStatic(old, next Config) Config {
	type pin struct {
		name    string
		differs bool
		restore func()
	}
	pins := []pin{
		{"listen", old.Listen != next.Listen, func() { next.Listen = old.Listen }},
		{"metrics_listen", old.MetricsListen != next.MetricsListen, func() { next.MetricsListen = old.MetricsListen }},
		{"data_dir", old.DataDir != next.DataDir, func() { next.DataDir = old.DataDir }},
		{"cache.max_bytes", old.Cache.MaxBytes != next.Cache.MaxBytes, func() { next.Cache.MaxBytes = old.Cache.MaxBytes }},
		{"cache.entry_max_bytes", old.Cache.EntryMaxBytes != next.Cache.EntryMaxBytes, func() { next.Cache.EntryMaxBytes = old.Cache.EntryMaxBytes }},
		{"index", old.Index != next.Index, func() { next.Index = old.Index }},
		{"telemetry", old.Telemetry != next.Telemetry, func() { next.Telemetry = old.Telemetry }},
		{"origin.base_url", old.Origin.BaseURL != next.Origin.BaseURL, func() { next.Origin.BaseURL = old.Origin.BaseURL }},
		// The api server resolves tokens once at startup; rotating them
		// needs a restart, so a reload must not pretend otherwise.
		{"api.token", old.API.Token != next.API.Token, func() { next.API.Token = old.API.Token }},
		{"api.read_token", old.API.ReadToken != next.API.ReadToken, func() { next.API.ReadToken = old.API.ReadToken }},
	}
	for _, p := range pins {
		if p.differs {
			h.logger.Warn().
				Str("event", "config.static_field_ignored").
				Str("field", p.name).
				Msg("field requires restart; keeping the running value")
			p.restore()
		}
	}
	return next
}

// StartWatcher starts watching the config file for changes.
// If configPath is empty, this is a no-op (config comes from ENV only).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	h.watcher = watcher

	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)

	return nil
}

// watchLoop is the main file watcher loop.
func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce to avoid multiple reloads for rapid successive writes.
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Write and Create cover vim, nano and plain redirection.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// The channel will receive the new config whenever a reload succeeds.
// The caller is responsible for closing the channel.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

// notifyListeners sends the new config to all registered listeners (non-blocking).
func (h *Holder) notifyListeners(newCfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the differences between old and new configuration for the
// dynamic fields.
func (h *Holder) logChanges(old, newCfg Config) {
	if old.Log.Level != newCfg.Log.Level {
		h.logger.Info().
			Str("old", old.Log.Level).
			Str("new", newCfg.Log.Level).
			Msg("config changed: log.level")
	}
	if old.Cache.Mode != newCfg.Cache.Mode {
		h.logger.Info().
			Str("old", old.Cache.Mode).
			Str("new", newCfg.Cache.Mode).
			Msg("config changed: cache.mode")
	}
	if old.Cache.OverrideTTL != newCfg.Cache.OverrideTTL {
		h.logger.Info().
			Dur("old", old.Cache.OverrideTTL).
			Dur("new", newCfg.Cache.OverrideTTL).
			Msg("config changed: cache.override_ttl")
	}
	if old.Cache.Offline != newCfg.Cache.Offline {
		h.logger.Info().
			Bool("old", old.Cache.Offline).
			Bool("new", newCfg.Cache.Offline).
			Msg("config changed: cache.offline")
	}
	if old.API.RateRPS != newCfg.API.RateRPS {
		h.logger.Info().
			Float64("old", old.API.RateRPS).
			Float64("new", newCfg.API.RateRPS).
			Msg("config changed: api.rate_rps")
	}
}
