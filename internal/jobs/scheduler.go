// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/thumbgate/thumbgate/internal/fetch"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/telemetry"
	"github.com/thumbgate/thumbgate/internal/verify"
)

const defaultStartupDelay = 10 * time.Second

// Clock abstracts timer creation so tests can drive the loop.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors time.Timer behind an interface.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock implements Clock with the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NewTimer(d time.Duration) Timer {
	return &RealTimer{t: time.NewTimer(d)}
}

// RealTimer wraps time.Timer.
type RealTimer struct {
	t *time.Timer
}

func (r *RealTimer) C() <-chan time.Time        { return r.t.C }
func (r *RealTimer) Stop() bool                 { return r.t.Stop() }
func (r *RealTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// VerifyRunner starts a verification run. *verify.Runner satisfies it.
type VerifyRunner interface {
	Run(ctx context.Context, trigger string) (*verify.Report, error)
}

// Prewarmer queues warm-ahead fetches. *fetch.Pool satisfies it.
type Prewarmer interface {
	Warm(ctx context.Context, urls []string) int
}

// TaskOutcome records the last completion of a scheduled task.
type TaskOutcome struct {
	At     time.Time `json:"at"`
	OK     bool      `json:"ok"`
	Detail string    `json:"detail,omitempty"`
}

// SchedulerConfig wires the scheduler. A task stays disarmed when its
// interval is zero or its dependency is nil.
type SchedulerConfig struct {
	Verifier     VerifyRunner
	Warmer       Prewarmer
	Manifest     string
	VerifyEvery  time.Duration
	PrewarmEvery time.Duration
	StartupDelay time.Duration
	Clock        Clock
}

// Scheduler fires periodic verification runs and manifest prewarms on
// jittered intervals.
type Scheduler struct {
	verifier VerifyRunner
	warmer   Prewarmer
	manifest string

	verifyEvery  time.Duration
	startupDelay time.Duration

	clock  Clock
	logger zerolog.Logger
	tracer trace.Tracer

	mu           sync.Mutex
	prewarmEvery time.Duration
	lastVerify   *TaskOutcome
	lastPrewarm  *TaskOutcome
}

// NewScheduler builds a scheduler. Call Run to start the loop.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	delay := cfg.StartupDelay
	if delay <= 0 {
		delay = defaultStartupDelay
	}
	return &Scheduler{
		verifier:     cfg.Verifier,
		warmer:       cfg.Warmer,
		manifest:     cfg.Manifest,
		verifyEvery:  cfg.VerifyEvery,
		prewarmEvery: cfg.PrewarmEvery,
		startupDelay: delay,
		clock:        clock,
		logger:       log.WithComponent("scheduler"),
		tracer:       telemetry.Tracer("thumbgate.jobs"),
	}
}

// Run blocks until ctx is canceled. The first firing of each task waits
// the startup delay instead of a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	verifyArmed := s.verifyEvery > 0 && s.verifier != nil
	prewarmArmed := s.prewarmInterval() > 0 && s.warmer != nil && s.manifest != ""

	if !verifyArmed && !prewarmArmed {
		s.logger.Info().Msg("no periodic tasks configured")
		<-ctx.Done()
		return
	}

	// A disarmed task keeps a nil channel, which never fires.
	var verifyC, prewarmC <-chan time.Time
	var verifyT, prewarmT Timer
	if verifyArmed {
		verifyT = s.clock.NewTimer(s.next(s.verifyEvery, true))
		defer verifyT.Stop()
		verifyC = verifyT.C()
	}
	if prewarmArmed {
		prewarmT = s.clock.NewTimer(s.next(s.prewarmInterval(), true))
		defer prewarmT.Stop()
		prewarmC = prewarmT.C()
	}

	s.logger.Info().
		Bool("verify", verifyArmed).
		Bool("prewarm", prewarmArmed).
		Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return
		case <-verifyC:
			s.runVerify(ctx)
			verifyT.Reset(s.next(s.verifyEvery, false))
		case <-prewarmC:
			s.runPrewarm(ctx)
			prewarmT.Reset(s.next(s.prewarmInterval(), false))
		}
	}
}

// SetPrewarmEvery retunes the prewarm cadence; config reload calls it.
// Takes effect at the next firing. Arming is decided once at Run, so a
// task that started disarmed stays disarmed.
func (s *Scheduler) SetPrewarmEvery(d time.Duration) {
	s.mu.Lock()
	s.prewarmEvery = d
	s.mu.Unlock()
}

func (s *Scheduler) prewarmInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prewarmEvery
}

func (s *Scheduler) runVerify(ctx context.Context) {
	started := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "schedule.verify")
	defer span.End()

	rep, err := s.verifier.Run(ctx, verify.TriggerSchedule)
	if errors.Is(err, verify.ErrRunInProgress) {
		s.logger.Debug().
			Str(log.FieldEvent, "schedule.verify").
			Msg("verify run already in progress, skipping")
		return
	}

	out := TaskOutcome{At: s.clock.Now()}
	status := "error"
	if err != nil {
		out.Detail = err.Error()
		s.logger.Error().
			Str(log.FieldEvent, "schedule.verify").
			Err(err).
			Msg("scheduled verify run failed")
	} else {
		out.OK = rep.Overall != verify.StatusFail
		out.Detail = string(rep.Overall)
		status = string(rep.Overall)
		ev := s.logger.Info()
		if !out.OK {
			ev = s.logger.Warn()
		}
		ev.Str(log.FieldEvent, "schedule.verify").
			Str(log.FieldRunID, rep.ID).
			Str(log.FieldStatus, string(rep.Overall)).
			Msg("scheduled verify run finished")
	}
	span.SetAttributes(telemetry.JobAttributes("verify", status, out.At.Sub(started).Milliseconds())...)

	s.mu.Lock()
	s.lastVerify = &out
	s.mu.Unlock()
}

func (s *Scheduler) runPrewarm(ctx context.Context) {
	started := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "schedule.prewarm")
	defer span.End()

	out := TaskOutcome{At: started}
	status := "error"
	urls, err := fetch.ReadManifest(s.manifest)
	if err != nil {
		out.Detail = err.Error()
		s.logger.Warn().
			Str(log.FieldEvent, "schedule.prewarm").
			Err(err).
			Msg("manifest read failed")
	} else {
		accepted := s.warmer.Warm(ctx, urls)
		out.OK = true
		out.Detail = fmt.Sprintf("%d/%d enqueued", accepted, len(urls))
		status = "ok"
		s.logger.Info().
			Str(log.FieldEvent, "schedule.prewarm").
			Int("accepted", accepted).
			Int("total", len(urls)).
			Msg("manifest prewarm enqueued")
	}
	span.SetAttributes(telemetry.JobAttributes("prewarm", status, s.clock.Now().Sub(started).Milliseconds())...)

	s.mu.Lock()
	s.lastPrewarm = &out
	s.mu.Unlock()
}

// LastVerify reports the most recent scheduled verify outcome.
func (s *Scheduler) LastVerify() (TaskOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastVerify == nil {
		return TaskOutcome{}, false
	}
	return *s.lastVerify, true
}

// LastPrewarm reports the most recent scheduled prewarm outcome.
func (s *Scheduler) LastPrewarm() (TaskOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPrewarm == nil {
		return TaskOutcome{}, false
	}
	return *s.lastPrewarm, true
}

// next computes the delay before the following firing: startup delay for
// the first, else the interval, both skewed by up to a tenth either way so
// replicas do not fire in lockstep.
func (s *Scheduler) next(interval time.Duration, first bool) time.Duration {
	d := interval
	if first {
		d = s.startupDelay
	}
	d += jitter(interval / 10)
	if d < 0 {
		d = 0
	}
	return d
}

func jitter(spread time.Duration) time.Duration {
	ms := int64(spread / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(ms*2)-ms) * time.Millisecond
}
