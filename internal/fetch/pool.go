// SPDX-License-Identifier: MIT

package fetch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/httpcache"
	"github.com/thumbgate/thumbgate/internal/index"
	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/metrics"
)

// Warmer fills cache entries ahead of demand. *httpcache.Gateway
// satisfies it.
type Warmer interface {
	Warm(ctx context.Context, rawURL string) (httpcache.WarmResult, error)
}

const (
	defaultWorkers = 4
	defaultQueue   = 256
	defaultNegTTL  = 10 * time.Minute
)

type task struct {
	rawURL string
	key    string
}

// Pool warms cache entries through a bounded worker queue. Keys already
// in flight are deduplicated, and keys with a live negative record skip
// the origin entirely.
type Pool struct {
	warmer Warmer
	idx    index.Store
	negTTL time.Duration

	jobs    chan task
	workers int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	enqueued atomic.Int64
	warmed   atomic.Int64
	hits     atomic.Int64
	notFound atomic.Int64
	negative atomic.Int64
	deduped  atomic.Int64
	dropped  atomic.Int64
	errors   atomic.Int64

	logger zerolog.Logger
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	QueueCap   int   `json:"queue_cap"`
	Enqueued   int64 `json:"enqueued"`
	Warmed     int64 `json:"warmed"`
	Hits       int64 `json:"hits"`
	NotFound   int64 `json:"notfound"`
	Negative   int64 `json:"negative"`
	Deduped    int64 `json:"deduped"`
	Dropped    int64 `json:"dropped"`
	Errors     int64 `json:"errors"`
}

// NewPool builds the prewarm pool. Call Start before enqueueing.
func NewPool(warmer Warmer, idx index.Store, cfg config.PrewarmConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queue := cfg.Queue
	if queue <= 0 {
		queue = defaultQueue
	}
	negTTL := cfg.NegativeTTL
	if negTTL <= 0 {
		negTTL = defaultNegTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		warmer:   warmer,
		idx:      idx,
		negTTL:   negTTL,
		jobs:     make(chan task, queue),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
		logger:   log.WithComponent("prewarm"),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for t := range p.jobs {
					metrics.SetPrewarmQueueDepth(len(p.jobs))
					p.handle(p.ctx, t)
				}
			}()
		}
		p.logger.Info().
			Int("workers", p.workers).
			Int("queue", cap(p.jobs)).
			Msg("prewarm pool started")
	})
}

// Stop discards queued warms, lets the in-flight ones finish, and waits
// for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		metrics.SetPrewarmQueueDepth(0)
	})
}

// Enqueue submits one URL. The return value reports whether the URL was
// handled: queued, already in flight, or skipped on a negative record.
func (p *Pool) Enqueue(ctx context.Context, rawURL string) bool {
	canonical, err := httpcache.Canonicalize(rawURL)
	if err != nil {
		p.errors.Add(1)
		metrics.IncPrewarmResult("error")
		p.logger.Warn().Str(log.FieldURL, rawURL).Err(err).Msg("prewarm url rejected")
		return false
	}
	key := httpcache.Key(canonical)

	p.inflightMu.Lock()
	if _, busy := p.inflight[key]; busy {
		p.inflightMu.Unlock()
		p.deduped.Add(1)
		metrics.IncPrewarmResult("dedup")
		return true
	}
	p.inflight[key] = struct{}{}
	p.inflightMu.Unlock()

	if p.negCached(ctx, key) {
		p.clearInflight(key)
		p.negative.Add(1)
		metrics.IncPrewarmResult("negcache")
		return true
	}

	select {
	case <-ctx.Done():
		p.clearInflight(key)
		return false
	case p.jobs <- task{rawURL: canonical, key: key}:
		p.enqueued.Add(1)
		metrics.SetPrewarmQueueDepth(len(p.jobs))
		return true
	default:
		p.clearInflight(key)
		p.dropped.Add(1)
		metrics.IncPrewarmResult("dropped")
		return false
	}
}

// Warm enqueues many URLs and reports how many were handled.
func (p *Pool) Warm(ctx context.Context, urls []string) int {
	accepted := 0
	for _, u := range urls {
		if p.Enqueue(ctx, u) {
			accepted++
		}
	}
	return accepted
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.jobs),
		QueueCap:   cap(p.jobs),
		Enqueued:   p.enqueued.Load(),
		Warmed:     p.warmed.Load(),
		Hits:       p.hits.Load(),
		NotFound:   p.notFound.Load(),
		Negative:   p.negative.Load(),
		Deduped:    p.deduped.Load(),
		Dropped:    p.dropped.Load(),
		Errors:     p.errors.Load(),
	}
}

func (p *Pool) handle(ctx context.Context, t task) {
	defer p.clearInflight(t.key)

	// Tasks still queued when Stop cancels the pool context are discarded.
	if ctx.Err() != nil {
		return
	}

	// A negative record may have landed while the task sat queued.
	if p.negCached(ctx, t.key) {
		p.negative.Add(1)
		metrics.IncPrewarmResult("negcache")
		return
	}

	res, err := p.warmer.Warm(ctx, t.rawURL)
	if err != nil && ctx.Err() != nil {
		// Shutdown, not an origin problem.
		return
	}

	switch res.Outcome {
	case httpcache.WarmOutcomeWarmed:
		p.warmed.Add(1)
		metrics.IncPrewarmResult("warmed")
		p.saveSeen(ctx, t.key, res)
	case httpcache.WarmOutcomeHit:
		p.hits.Add(1)
		metrics.IncPrewarmResult("hit")
		p.saveSeen(ctx, t.key, res)
	case httpcache.WarmOutcomeNotFound:
		p.notFound.Add(1)
		metrics.IncPrewarmResult("notfound")
		p.saveNegative(ctx, t.key, res.Status)
	default:
		p.errors.Add(1)
		metrics.IncPrewarmResult("error")
		p.logger.Warn().
			Str(log.FieldCacheKey, t.key).
			Str(log.FieldURL, t.rawURL).
			Int(log.FieldStatus, res.Status).
			Err(err).
			Msg("prewarm failed")
	}
}

func (p *Pool) negCached(ctx context.Context, key string) bool {
	raw, ok, err := p.idx.Get(ctx, index.NegativeKey(key))
	if err != nil || !ok {
		return false
	}
	var ent index.NegativeEntry
	if json.Unmarshal(raw, &ent) != nil {
		return false
	}
	return time.Now().Before(ent.Until)
}

func (p *Pool) saveNegative(ctx context.Context, key string, status int) {
	ent := index.NegativeEntry{Status: status, Until: time.Now().Add(p.negTTL)}
	raw, err := json.Marshal(ent)
	if err != nil {
		return
	}
	if err := p.idx.Set(ctx, index.NegativeKey(key), raw, p.negTTL); err != nil {
		p.logger.Debug().Str(log.FieldCacheKey, key).Err(err).Msg("negative record write failed")
	}
}

func (p *Pool) saveSeen(ctx context.Context, key string, res httpcache.WarmResult) {
	ent := index.SeenEntry{
		ETag:         res.ETag,
		LastModified: res.LastModified,
		CheckedAt:    time.Now(),
	}
	raw, err := json.Marshal(ent)
	if err != nil {
		return
	}
	if err := p.idx.Set(ctx, index.SeenKey(key), raw, 0); err != nil {
		p.logger.Debug().Str(log.FieldCacheKey, key).Err(err).Msg("seen record write failed")
	}
}

func (p *Pool) clearInflight(key string) {
	p.inflightMu.Lock()
	delete(p.inflight, key)
	p.inflightMu.Unlock()
}
