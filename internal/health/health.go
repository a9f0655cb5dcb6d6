// SPDX-License-Identifier: MIT

// Package health answers liveness and readiness probes. Liveness is
// always 200 while the process runs; readiness flips once the first
// maintenance pass has completed and stays down while any registered
// checker reports unhealthy.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/thumbgate/thumbgate/internal/fsutil"
	"github.com/thumbgate/thumbgate/internal/index"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/resilience"
)

// Status grades a component or the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one probed component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs the registered checkers and serves the probe endpoints.
// Register everything before serving; registration is not synchronized.
type Manager struct {
	version   string
	startedAt time.Time
	checkers  []Checker
}

func NewManager(version string) *Manager {
	return &Manager{
		version:   version,
		startedAt: time.Now(),
		checkers:  make([]Checker, 0),
	}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health reports liveness. The process being able to answer is the
// signal; component checks are included only when verbose is set.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.startedAt).Seconds()),
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Ready reports readiness: false while any checker is unhealthy.
// Degraded components keep the gateway in rotation.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	checks := make(map[string]CheckResult, len(m.checkers))
	overall := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return checks, overall
}

// ServeHealth handles the liveness endpoint. Always 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles the readiness endpoint: 200 when ready, 503 when not.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str(log.FieldStatus, string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// CacheDirChecker proves the cache directory still exists and takes writes.
type CacheDirChecker struct {
	dir string
}

func NewCacheDirChecker(dir string) *CacheDirChecker {
	return &CacheDirChecker{dir: dir}
}

func (c *CacheDirChecker) Name() string { return "cache_dir" }

func (c *CacheDirChecker) Check(_ context.Context) CheckResult {
	if err := fsutil.WriteProbe(c.dir); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: c.dir,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

const defaultStaleAfter = 10 * time.Minute

// MaintenanceChecker watches the janitor. Unready until the first pass has
// completed; degraded when the last pass failed or passes stopped landing.
type MaintenanceChecker struct {
	lastRun    func() (time.Time, error)
	staleAfter time.Duration
}

func NewMaintenanceChecker(lastRun func() (time.Time, error), staleAfter time.Duration) *MaintenanceChecker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &MaintenanceChecker{lastRun: lastRun, staleAfter: staleAfter}
}

func (c *MaintenanceChecker) Name() string { return "maintenance" }

func (c *MaintenanceChecker) Check(_ context.Context) CheckResult {
	last, err := c.lastRun()
	if last.IsZero() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "no maintenance pass yet",
		}
	}
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   err.Error(),
			Message: "last maintenance pass failed",
		}
	}
	if age := time.Since(last); age > c.staleAfter {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "last maintenance pass " + age.Round(time.Second).String() + " ago",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "maintenance current"}
}

const indexProbeTimeout = 500 * time.Millisecond

// IndexChecker pings the bookkeeping store. A missing probe key is fine;
// only backend errors count.
type IndexChecker struct {
	idx index.Store
}

func NewIndexChecker(idx index.Store) *IndexChecker {
	return &IndexChecker{idx: idx}
}

func (c *IndexChecker) Name() string { return "index" }

func (c *IndexChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, indexProbeTimeout)
	defer cancel()

	if _, _, err := c.idx.Get(ctx, "health:probe"); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// BreakerChecker reports the origin circuit breaker. An open breaker only
// degrades: cached entries still serve while the origin is avoided.
type BreakerChecker struct {
	state func() resilience.State
}

func NewBreakerChecker(state func() resilience.State) *BreakerChecker {
	return &BreakerChecker{state: state}
}

func (c *BreakerChecker) Name() string { return "origin_breaker" }

func (c *BreakerChecker) Check(_ context.Context) CheckResult {
	st := c.state()
	if st == resilience.StateOpen {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "origin breaker open, serving from cache only",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: string(st)}
}
