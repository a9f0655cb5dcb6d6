// SPDX-License-Identifier: MIT

package verify

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/fsutil"
	"github.com/thumbgate/thumbgate/internal/httpcache"
)

// Check names as stored in history and exposed on metrics labels.
const (
	CheckCacheDir         = "cache_dir"
	CheckJournal          = "journal"
	CheckSizeCeiling      = "size_ceiling"
	CheckOrphans          = "orphans"
	CheckHitServing       = "hit_serving"
	CheckOfflineReadiness = "offline_readiness"
	CheckFreeSpace        = "free_space"
	CheckHistoryDB        = "history_db"
)

func pass(detail string) Result { return Result{Status: StatusPass, Detail: detail} }
func warn(detail string) Result { return Result{Status: StatusWarn, Detail: detail} }
func fail(detail string) Result { return Result{Status: StatusFail, Detail: detail} }

// Prober serves one URL through the gateway the way a client request would
// be served. *httpcache.Gateway satisfies it.
type Prober interface {
	Serve(w http.ResponseWriter, r *http.Request, rawURL string)
}

// SuiteConfig collects everything the default suite probes.
type SuiteConfig struct {
	Store       *diskcache.Store
	Gateway     Prober
	DataDir     string
	ProbeURL    string
	HistoryPath string
	FreeFloor   float64
}

// Suite assembles the default check list. Order matters: hit_serving warms
// the probe URL that offline_readiness then relies on.
func Suite(cfg SuiteConfig) []Check {
	return []Check{
		NewCacheDirCheck(cfg.Store.Dir(), cfg.DataDir),
		NewJournalCheck(cfg.Store.Dir()),
		NewSizeCeilingCheck(cfg.Store),
		NewOrphanCheck(cfg.Store),
		NewHitServingCheck(cfg.Gateway, cfg.ProbeURL),
		NewOfflineReadinessCheck(cfg.Gateway, cfg.ProbeURL),
		NewFreeSpaceCheck(cfg.Store.Dir(), cfg.FreeFloor),
		NewHistoryDBCheck(cfg.HistoryPath),
	}
}

// CacheDirCheck verifies the cache directory exists, is writable, and sits
// inside the data directory.
type CacheDirCheck struct {
	dir  string
	root string
}

// NewCacheDirCheck builds the check. root may be empty to skip confinement.
func NewCacheDirCheck(dir, root string) *CacheDirCheck {
	return &CacheDirCheck{dir: dir, root: root}
}

func (c *CacheDirCheck) Name() string { return CheckCacheDir }

func (c *CacheDirCheck) Run(_ context.Context) Result {
	info, err := os.Stat(c.dir)
	if err != nil {
		return fail(fmt.Sprintf("stat cache dir: %v", err))
	}
	if !info.IsDir() {
		return fail(c.dir + " is not a directory")
	}
	if c.root != "" {
		absDir, err := filepath.Abs(c.dir)
		if err != nil {
			return fail(fmt.Sprintf("resolve cache dir: %v", err))
		}
		if _, err := fsutil.ConfineAbsPath(c.root, absDir); err != nil {
			return fail(fmt.Sprintf("cache dir escapes data dir: %v", err))
		}
	}
	if err := fsutil.WriteProbe(c.dir); err != nil {
		return fail(err.Error())
	}
	return pass("")
}

// JournalCheck parses the journal offline and flags dangling edits,
// truncation, and overdue compaction.
type JournalCheck struct {
	dir string
}

func NewJournalCheck(dir string) *JournalCheck { return &JournalCheck{dir: dir} }

func (c *JournalCheck) Name() string { return CheckJournal }

func (c *JournalCheck) Run(_ context.Context) Result {
	rep, err := diskcache.InspectJournal(c.dir)
	if err != nil {
		return fail(fmt.Sprintf("parse journal: %v", err))
	}
	switch {
	case rep.Dangling > 0:
		return warn(fmt.Sprintf("%d dangling edit(s), repaired on next open", rep.Dangling))
	case rep.Truncated:
		return warn("journal ends mid-record")
	case rep.Redundant > diskcache.DefaultCompactThreshold && rep.Redundant >= rep.Live:
		return warn(fmt.Sprintf("compaction overdue, %d redundant records over %d live entries", rep.Redundant, rep.Live))
	}
	return pass(fmt.Sprintf("%d records, %d live", rep.Records, rep.Live))
}

// sizeSlack absorbs a commit racing the on-disk scan on small caches.
const sizeSlack = 64 << 10

// SizeCeilingCheck compares accounted size against the cap and against the
// bytes actually on disk.
type SizeCeilingCheck struct {
	store *diskcache.Store
}

func NewSizeCeilingCheck(store *diskcache.Store) *SizeCeilingCheck {
	return &SizeCeilingCheck{store: store}
}

func (c *SizeCeilingCheck) Name() string { return CheckSizeCeiling }

func (c *SizeCeilingCheck) Run(_ context.Context) Result {
	st := c.store.Stats()
	if st.Size > st.MaxSize {
		return fail(fmt.Sprintf("accounted %d bytes over the %d byte cap", st.Size, st.MaxSize))
	}
	onDisk, err := entryBytes(c.store.Dir())
	if err != nil {
		return fail(fmt.Sprintf("scan cache dir: %v", err))
	}
	diff := onDisk - st.Size
	if diff < 0 {
		diff = -diff
	}
	tol := st.Size / 20
	if tol < sizeSlack {
		tol = sizeSlack
	}
	if diff > tol {
		return fail(fmt.Sprintf("accounted %d bytes but found %d on disk", st.Size, onDisk))
	}
	return pass(fmt.Sprintf("%d of %d bytes, %d entries", st.Size, st.MaxSize, st.Entries))
}

func entryBytes(dir string) (int64, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, de := range des {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		if _, ok := diskcache.EntryFileKey(de.Name()); !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// OrphanCheck reports entry-shaped files the journal does not know about.
// Recovery deletes them at the next open; their presence while running
// means something other than the store wrote into the cache directory.
type OrphanCheck struct {
	store *diskcache.Store
}

func NewOrphanCheck(store *diskcache.Store) *OrphanCheck {
	return &OrphanCheck{store: store}
}

func (c *OrphanCheck) Name() string { return CheckOrphans }

func (c *OrphanCheck) Run(_ context.Context) Result {
	live := make(map[string]struct{})
	for _, key := range c.store.Keys() {
		live[key] = struct{}{}
	}
	des, err := os.ReadDir(c.store.Dir())
	if err != nil {
		return fail(fmt.Sprintf("scan cache dir: %v", err))
	}
	var orphans []string
	for _, de := range des {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		key, ok := diskcache.EntryFileKey(de.Name())
		if !ok {
			continue
		}
		if _, ok := live[key]; !ok {
			orphans = append(orphans, de.Name())
		}
	}
	if len(orphans) == 0 {
		return pass("")
	}
	sort.Strings(orphans)
	sample := orphans
	if len(sample) > 3 {
		sample = sample[:3]
	}
	return warn(fmt.Sprintf("%d entry file(s) unknown to the journal: %s", len(orphans), strings.Join(sample, ", ")))
}

// HitServingCheck fetches the probe URL twice through the gateway; the
// second response must come from the cache.
type HitServingCheck struct {
	gateway  Prober
	probeURL string
}

func NewHitServingCheck(gateway Prober, probeURL string) *HitServingCheck {
	return &HitServingCheck{gateway: gateway, probeURL: probeURL}
}

func (c *HitServingCheck) Name() string { return CheckHitServing }

func (c *HitServingCheck) Run(ctx context.Context) Result {
	if c.probeURL == "" {
		return warn("probe_url not configured")
	}
	first := probeGateway(ctx, c.gateway, c.probeURL, "")
	if first.status >= http.StatusInternalServerError {
		return fail(fmt.Sprintf("probe fetch returned %d", first.status))
	}
	second := probeGateway(ctx, c.gateway, c.probeURL, "")
	xc := second.header.Get("X-Cache")
	switch xc {
	case httpcache.XCacheHit, httpcache.XCacheRevalidated:
		return pass(xc)
	case httpcache.XCacheStale:
		return warn("second probe served stale")
	default:
		return fail(fmt.Sprintf("second probe was %q, want HIT or REVALIDATED", xc))
	}
}

// OfflineReadinessCheck probes with only-if-cached: the warmed probe URL
// must answer from disk, an unknown key must yield 504. Runs after
// hit_serving in the default suite so the probe URL is already cached.
type OfflineReadinessCheck struct {
	gateway  Prober
	probeURL string
}

func NewOfflineReadinessCheck(gateway Prober, probeURL string) *OfflineReadinessCheck {
	return &OfflineReadinessCheck{gateway: gateway, probeURL: probeURL}
}

func (c *OfflineReadinessCheck) Name() string { return CheckOfflineReadiness }

func (c *OfflineReadinessCheck) Run(ctx context.Context) Result {
	if c.probeURL == "" {
		return warn("probe_url not configured")
	}
	warmed := probeGateway(ctx, c.gateway, c.probeURL, "only-if-cached")
	if warmed.status >= http.StatusBadRequest {
		return fail(fmt.Sprintf("cached probe answered %d under only-if-cached", warmed.status))
	}
	sep := "?"
	if strings.Contains(c.probeURL, "?") {
		sep = "&"
	}
	missing := probeGateway(ctx, c.gateway, c.probeURL+sep+"thumbgate_probe="+uuid.NewString(), "only-if-cached")
	if missing.status != http.StatusGatewayTimeout {
		return fail(fmt.Sprintf("unknown key answered %d under only-if-cached, want 504", missing.status))
	}
	return pass("")
}

// defaultFreeSpaceFloor fails the check when less than 10% of the
// filesystem is free.
const defaultFreeSpaceFloor = 0.10

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

func realStatfs(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

// FreeSpaceCheck fails under the configured free-space floor and warns
// under twice the floor.
type FreeSpaceCheck struct {
	dir    string
	floor  float64
	statfs statfsFunc
}

func NewFreeSpaceCheck(dir string, floor float64) *FreeSpaceCheck {
	if floor <= 0 || floor >= 1 {
		floor = defaultFreeSpaceFloor
	}
	return &FreeSpaceCheck{dir: dir, floor: floor, statfs: realStatfs}
}

func (c *FreeSpaceCheck) Name() string { return CheckFreeSpace }

func (c *FreeSpaceCheck) Run(_ context.Context) Result {
	total, free, err := c.statfs(c.dir)
	if err != nil {
		return fail(fmt.Sprintf("statfs: %v", err))
	}
	if total == 0 {
		return fail("statfs reported zero total bytes")
	}
	ratio := float64(free) / float64(total)
	detail := fmt.Sprintf("%.1f%% free, floor %.0f%%", ratio*100, c.floor*100)
	switch {
	case ratio < c.floor:
		return fail(detail)
	case ratio < 2*c.floor:
		return warn(detail)
	}
	return pass(detail)
}

// HistoryDBCheck runs a quick integrity pragma over the history database.
type HistoryDBCheck struct {
	path string
}

func NewHistoryDBCheck(path string) *HistoryDBCheck { return &HistoryDBCheck{path: path} }

func (c *HistoryDBCheck) Name() string { return CheckHistoryDB }

func (c *HistoryDBCheck) Run(_ context.Context) Result {
	if c.path == "" {
		return warn("history database not configured")
	}
	if err := fsutil.IsRegularFile(c.path); err != nil {
		return fail(err.Error())
	}
	problems, err := VerifyIntegrity(c.path, IntegrityQuick)
	if err != nil {
		return fail(err.Error())
	}
	if len(problems) > 0 {
		return fail(strings.Join(problems, "; "))
	}
	return pass("")
}

// probeRecorder is a discard http.ResponseWriter that keeps the status and
// headers of a gateway probe.
type probeRecorder struct {
	header http.Header
	status int
}

func newProbeRecorder() *probeRecorder {
	return &probeRecorder{header: make(http.Header)}
}

func (p *probeRecorder) Header() http.Header { return p.header }

func (p *probeRecorder) WriteHeader(code int) {
	if p.status == 0 {
		p.status = code
	}
}

func (p *probeRecorder) Write(b []byte) (int, error) {
	if p.status == 0 {
		p.status = http.StatusOK
	}
	return len(b), nil
}

func probeGateway(ctx context.Context, g Prober, rawURL, cacheControl string) *probeRecorder {
	rec := newProbeRecorder()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	if err != nil {
		rec.status = http.StatusInternalServerError
		return rec
	}
	if cacheControl != "" {
		req.Header.Set("Cache-Control", cacheControl)
	}
	g.Serve(rec, req, rawURL)
	return rec
}
