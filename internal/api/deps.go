// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/fetch"
	"github.com/thumbgate/thumbgate/internal/health"
	"github.com/thumbgate/thumbgate/internal/jobs"
	"github.com/thumbgate/thumbgate/internal/resilience"
	"github.com/thumbgate/thumbgate/internal/verify"
)

// ObjectGateway serves one origin object through the cache.
type ObjectGateway interface {
	Serve(w http.ResponseWriter, r *http.Request, rawURL string)
}

// PrewarmQueue accepts warm-ahead work and reports pool counters.
type PrewarmQueue interface {
	Warm(ctx context.Context, urls []string) int
	Stats() fetch.Stats
}

// VerifyRunner executes one verification run.
type VerifyRunner interface {
	Run(ctx context.Context, trigger string) (*verify.Report, error)
}

// VerifyHistory reads persisted verification reports.
type VerifyHistory interface {
	Latest(ctx context.Context) (*verify.Report, error)
	Get(ctx context.Context, runID string) (*verify.Report, error)
	List(ctx context.Context, limit int) ([]verify.Report, error)
}

// OriginReporter exposes the origin circuit breaker state.
type OriginReporter interface {
	BreakerState() resilience.State
}

// TaskReporter exposes the latest scheduled task outcomes.
type TaskReporter interface {
	LastVerify() (jobs.TaskOutcome, bool)
	LastPrewarm() (jobs.TaskOutcome, bool)
}

// Deps holds everything the gateway and admin surfaces call into. Store
// and Health stay concrete: both are cheap to construct in tests and have
// no seam worth faking.
type Deps struct {
	Gateway ObjectGateway
	Store   *diskcache.Store
	Health  *health.Manager
	Config  config.Config

	// Optional subsystems. Endpoints backed by a nil dependency answer
	// 503 rather than hiding the route.
	Pool     PrewarmQueue
	Origin   OriginReporter
	Verifier VerifyRunner
	History  VerifyHistory
	Tasks    TaskReporter
}

// Validate reports the first missing required dependency.
func (d Deps) Validate() error {
	switch {
	case d.Gateway == nil:
		return errors.New("api: Gateway is required")
	case d.Store == nil:
		return errors.New("api: Store is required")
	case d.Health == nil:
		return errors.New("api: Health is required")
	}
	return nil
}
