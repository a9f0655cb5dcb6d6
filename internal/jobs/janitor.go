// SPDX-License-Identifier: MIT

// Package jobs holds the background maintenance loops: the janitor that
// keeps the disk store healthy and the scheduler that drives periodic
// verification runs and manifest prewarms.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/index"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/metrics"
)

const defaultJanitorInterval = time.Minute

// sweeper is the optional fast path the in-memory index backend offers.
type sweeper interface {
	Sweep() int
}

// Janitor flushes and compacts the journal, refreshes the cache usage
// gauges, and sweeps the index on a fixed cadence. Readiness watches its
// last-run timestamp.
type Janitor struct {
	store    *diskcache.Store
	idx      index.Store
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewJanitor builds a janitor over the disk store and index backend.
// interval <= 0 falls back to one minute.
func NewJanitor(store *diskcache.Store, idx index.Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	return &Janitor{
		store:    store,
		idx:      idx,
		interval: interval,
		logger:   log.WithComponent("janitor"),
	}
}

// Run blocks until ctx is canceled. The first pass happens immediately so
// readiness does not wait a full interval.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	_ = j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance pass. The API purge path reuses it
// so manual and scheduled maintenance stay one code path.
func (j *Janitor) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var firstErr error
	if err := j.store.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	compacted, err := j.store.CompactIfNeeded()
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("compact journal: %w", err)
	}

	st := j.store.Stats()
	metrics.RecordCacheUsage(st.Size, st.MaxSize, st.Entries)

	swept := 0
	if sw, ok := j.idx.(sweeper); ok {
		swept = sw.Sweep()
	}

	j.mu.Lock()
	j.lastRun = time.Now()
	j.lastErr = firstErr
	j.mu.Unlock()

	switch {
	case firstErr != nil:
		j.logger.Error().
			Str(log.FieldEvent, "janitor.pass").
			Err(firstErr).
			Msg("maintenance pass failed")
	case compacted:
		j.logger.Info().
			Str(log.FieldEvent, "janitor.pass").
			Int(log.FieldEntries, st.Entries).
			Int64(log.FieldBytes, st.Size).
			Int("swept", swept).
			Bool("compacted", true).
			Msg("maintenance pass")
	default:
		j.logger.Debug().
			Str(log.FieldEvent, "janitor.pass").
			Int(log.FieldEntries, st.Entries).
			Int64(log.FieldBytes, st.Size).
			Int("swept", swept).
			Msg("maintenance pass")
	}
	return firstErr
}

// LastRun returns when the last pass finished and its error, zero time if
// no pass has completed yet.
func (j *Janitor) LastRun() (time.Time, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.lastErr
}
