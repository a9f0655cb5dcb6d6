// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/fetch"
	"github.com/thumbgate/thumbgate/internal/jobs"
	"github.com/thumbgate/thumbgate/internal/version"
)

type statusResponse struct {
	Version       string    `json:"version"`
	Commit        string    `json:"commit"`
	BuildDate     string    `json:"build_date,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	Cache     diskcache.Stats  `json:"cache"`
	Prewarm   *fetch.Stats     `json:"prewarm,omitempty"`
	Origin    originStatus     `json:"origin"`
	Scheduler *schedulerStatus `json:"scheduler,omitempty"`
	Config    configSummary    `json:"config"`
}

type originStatus struct {
	BaseURL    string   `json:"base_url"`
	AllowHosts []string `json:"allow_hosts,omitempty"`
	Breaker    string   `json:"breaker,omitempty"`
}

type schedulerStatus struct {
	LastVerify  *jobs.TaskOutcome `json:"last_verify,omitempty"`
	LastPrewarm *jobs.TaskOutcome `json:"last_prewarm,omitempty"`
}

// configSummary is the operator-facing slice of the effective config.
// Durations are rendered as strings, secrets never appear.
type configSummary struct {
	Listen         string `json:"listen"`
	MetricsListen  string `json:"metrics_listen,omitempty"`
	DataDir        string `json:"data_dir"`
	CacheMode      string `json:"cache_mode"`
	CacheMaxBytes  int64  `json:"cache_max_bytes"`
	EntryMaxBytes  int64  `json:"entry_max_bytes"`
	OverrideTTL    string `json:"override_ttl,omitempty"`
	StaleIfError   string `json:"stale_if_error,omitempty"`
	Offline        bool   `json:"offline"`
	IndexBackend   string `json:"index_backend"`
	PrewarmWorkers int    `json:"prewarm_workers"`
	VerifyInterval string `json:"verify_interval,omitempty"`
}

func summarizeConfig(cfg config.Config) configSummary {
	sum := configSummary{
		Listen:         cfg.Listen,
		MetricsListen:  cfg.MetricsListen,
		DataDir:        cfg.DataDir,
		CacheMode:      cfg.Cache.Mode,
		CacheMaxBytes:  cfg.Cache.MaxBytes,
		EntryMaxBytes:  cfg.Cache.EntryMaxBytes,
		Offline:        cfg.Cache.Offline,
		IndexBackend:   cfg.Index.Backend,
		PrewarmWorkers: cfg.Prewarm.Workers,
	}
	if cfg.Cache.Mode == config.ModeForce {
		sum.OverrideTTL = cfg.Cache.OverrideTTL.String()
	}
	if cfg.Cache.StaleIfError > 0 {
		sum.StaleIfError = cfg.Cache.StaleIfError.String()
	}
	if cfg.Verify.Interval > 0 {
		sum.VerifyInterval = cfg.Verify.Interval.String()
	}
	return sum
}

// handleStatus reports build info, uptime, live counters, and the
// sanitized config summary in one place.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.config().Sanitized()
	resp := statusResponse{
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.Date,
		StartedAt:     s.startTime.UTC(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Cache:         s.deps.Store.Stats(),
		Origin: originStatus{
			BaseURL:    cfg.Origin.BaseURL,
			AllowHosts: cfg.Origin.AllowHosts,
		},
		Config: summarizeConfig(cfg),
	}
	if s.deps.Pool != nil {
		st := s.deps.Pool.Stats()
		resp.Prewarm = &st
	}
	if s.deps.Origin != nil {
		resp.Origin.Breaker = string(s.deps.Origin.BreakerState())
	}
	if s.deps.Tasks != nil {
		sched := &schedulerStatus{}
		if out, ok := s.deps.Tasks.LastVerify(); ok {
			sched.LastVerify = &out
		}
		if out, ok := s.deps.Tasks.LastPrewarm(); ok {
			sched.LastPrewarm = &out
		}
		resp.Scheduler = sched
	}
	writeJSON(w, r, http.StatusOK, resp)
}
