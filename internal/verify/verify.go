// SPDX-License-Identifier: MIT

// Package verify runs the operational check suite: cache directory and
// journal health, size accounting, serving-path probes, free space, and the
// history database itself. Every run is stored in SQLite so operators can
// ask "when did this last pass" without scraping logs.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/metrics"
	"github.com/thumbgate/thumbgate/internal/telemetry"
)

// ErrRunInProgress is returned when a run is requested while another is
// still executing. Callers poll history instead of stacking runs.
var ErrRunInProgress = errors.New("verify: run already in progress")

// Status is the outcome of a single check or of a whole run.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusWarn, StatusFail:
		return true
	default:
		return false
	}
}

var statusRank = map[Status]int{StatusPass: 0, StatusWarn: 1, StatusFail: 2}

func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Run triggers recorded in history.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
)

// Result is the outcome of one check. Run fills Status and Detail; the
// runner stamps Name and DurationMS.
type Result struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Check is one item of the verification suite.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// Report summarizes one suite run.
type Report struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	Overall    Status    `json:"overall"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Warned     int       `json:"warned"`
	Failed     int       `json:"failed"`
	Results    []Result  `json:"results,omitempty"`
}

// runTimeout bounds a whole suite run, probes included.
const runTimeout = 60 * time.Second

// Runner executes the suite and records each run in history.
type Runner struct {
	history *Store
	checks  []Check
	keep    int
	logger  zerolog.Logger
	busy    atomic.Bool
	now     func() time.Time
}

// NewRunner builds a runner over the given history store. history may be
// nil, in which case runs are logged and counted but not persisted.
func NewRunner(history *Store, checks ...Check) *Runner {
	return &Runner{
		history: history,
		checks:  checks,
		logger:  log.WithComponent("verify"),
		now:     time.Now,
	}
}

// SetRetention caps the history at keep runs; older runs are pruned after
// each save. Zero or negative keeps everything.
func (r *Runner) SetRetention(keep int) {
	r.keep = keep
}

// Run executes every check in order, logs and counts the results, persists
// the report, and returns it. Only one run executes at a time; concurrent
// callers get ErrRunInProgress. A persistence failure is returned alongside
// the completed report.
func (r *Runner) Run(ctx context.Context, trigger string) (*Report, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.busy.Store(false)

	if trigger == "" {
		trigger = "manual"
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	rep := &Report{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: r.now().UTC(),
		Overall:   StatusPass,
	}
	start := time.Now()

	// Every line below carries the run ID, plus the caller's request ID
	// when the run was triggered over the API.
	ctx = log.ContextWithRunID(ctx, rep.ID)
	logger := log.WithContext(ctx, r.logger)

	for _, c := range r.checks {
		res := r.runCheck(ctx, c)
		rep.Results = append(rep.Results, res)
		rep.Total++
		switch res.Status {
		case StatusWarn:
			rep.Warned++
		case StatusFail:
			rep.Failed++
		default:
			rep.Passed++
		}
		rep.Overall = worse(rep.Overall, res.Status)
		metrics.IncVerifyCheck(res.Name, string(res.Status))
		logCheck(logger, res)
	}

	rep.FinishedAt = r.now().UTC()
	rep.DurationMS = time.Since(start).Milliseconds()

	metrics.IncVerifyRun(string(rep.Overall))
	metrics.ObserveVerifyDuration(time.Since(start).Seconds())
	if rep.Overall == StatusPass {
		metrics.SetVerifyLastSuccess(float64(rep.FinishedAt.Unix()))
	}
	telemetry.EmitVerifyObs(ctx, rep.ID, string(rep.Overall), rep.Trigger)

	logger.Info().
		Str(log.FieldEvent, "verify.run").
		Str(log.FieldTrigger, rep.Trigger).
		Str(log.FieldStatus, string(rep.Overall)).
		Int("passed", rep.Passed).
		Int("warned", rep.Warned).
		Int("failed", rep.Failed).
		Dur("duration", time.Since(start)).
		Msg("verification run finished")

	if r.history != nil {
		// The run budget may be spent; the report still has to land.
		saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer saveCancel()
		if err := r.history.Save(saveCtx, rep); err != nil {
			logger.Error().
				Str(log.FieldEvent, "verify.history_save_failed").
				Err(err).
				Msg("verification report not persisted")
			return rep, fmt.Errorf("save verify report: %w", err)
		}
		if r.keep > 0 {
			// A failed prune never fails the run; the report is saved.
			if pruned, err := r.history.Prune(saveCtx, r.keep); err != nil {
				logger.Warn().
					Str(log.FieldEvent, "verify.history_prune_failed").
					Err(err).
					Msg("history prune failed")
			} else if pruned > 0 {
				logger.Debug().
					Str(log.FieldEvent, "verify.history_pruned").
					Int64("pruned", pruned).
					Msg("old verification runs pruned")
			}
		}
	}
	return rep, nil
}

func (r *Runner) runCheck(ctx context.Context, c Check) Result {
	name := c.Name()
	if err := ctx.Err(); err != nil {
		return Result{Name: name, Status: StatusFail, Detail: "not run: " + err.Error()}
	}
	start := time.Now()
	res := c.Run(ctx)
	res.Name = name
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

func logCheck(logger zerolog.Logger, res Result) {
	var ev *zerolog.Event
	switch res.Status {
	case StatusWarn:
		ev = logger.Warn()
	case StatusFail:
		ev = logger.Error()
	default:
		ev = logger.Info()
	}
	ev = ev.
		Str(log.FieldEvent, "verify.check").
		Str(log.FieldCheck, res.Name).
		Str(log.FieldStatus, string(res.Status)).
		Int64("duration_ms", res.DurationMS)
	if res.Detail != "" {
		ev = ev.Str("detail", res.Detail)
	}
	ev.Msg("verification check")
}
