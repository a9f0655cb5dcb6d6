// SPDX-License-Identifier: MIT

// Package diskcache is a journaled, size-capped LRU store for HTTP
// responses. Each entry is a pair of files in one flat directory, a
// metadata record (`<key>.0`) and the body bytes (`<key>.1`). Every
// mutation is appended to a journal before it becomes visible, so a crash
// at any point leaves a state the next Open can recover.
package diskcache

import (
	"bufio"
	"container/list"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/metrics"
)

// DefaultCompactThreshold is the redundant-record count that triggers a
// journal rewrite. Compaction additionally requires at least as many
// redundant records as live entries, so busy large caches do not rewrite
// on every janitor pass.
const DefaultCompactThreshold = 2000

const keyLen = 64

// Stats is a point-in-time view of store counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Size      int64  `json:"size"`
	MaxSize   int64  `json:"max_size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Evictions uint64 `json:"evictions"`
}

// Store is the on-disk cache. All methods are safe for concurrent use.
type Store struct {
	dir              string
	maxBytes         int64
	entryMaxBytes    int64
	compactThreshold int
	logger           zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used
	size    int64
	journal *os.File
	bw      *bufio.Writer
	ops     int // journal records since the last compaction
	closed  bool

	hits, misses, sets, evictions uint64
}

// Option tunes a Store at Open time.
type Option func(*Store)

// WithEntryMaxBytes caps single-entry size; 0 disables the cap.
func WithEntryMaxBytes(n int64) Option {
	return func(s *Store) { s.entryMaxBytes = n }
}

// WithCompactThreshold overrides the journal compaction trigger. Tests use
// a low value to force compaction deterministically.
func WithCompactThreshold(n int) Option {
	return func(s *Store) { s.compactThreshold = n }
}

// Open creates or recovers the store rooted at dir. Older journal states
// (backup present, truncated tail, dangling in-flight edits, or a corrupt
// journal with entry files still on disk) are repaired, not discarded.
func Open(dir string, maxBytes int64, opts ...Option) (*Store, error) {
	if maxBytes <= 0 {
		return nil, errInvalidMaxSize
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	s := &Store{
		dir:              dir,
		maxBytes:         maxBytes,
		compactThreshold: DefaultCompactThreshold,
		logger:           log.WithComponent("diskcache"),
		entries:          make(map[string]*entry),
		lru:              list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.trimLocked()
	s.mu.Unlock()
	s.logger.Info().
		Str(log.FieldEvent, "diskcache.open").
		Str(log.FieldDir, dir).
		Int(log.FieldEntries, s.Len()).
		Int64(log.FieldBytes, s.Size()).
		Msg("store opened")
	return s, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string { return s.dir }

// MaxSize returns the configured size cap in bytes.
func (s *Store) MaxSize() int64 { return s.maxBytes }

// Len returns the number of published entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Size returns the accounted bytes of all published entries.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:   s.lru.Len(),
		Size:      s.size,
		MaxSize:   s.maxBytes,
		Hits:      s.hits,
		Misses:    s.misses,
		Sets:      s.sets,
		Evictions: s.evictions,
	}
}

// Keys returns the published keys in most- to least-recently-used order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, s.lru.Len())
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

// Entries lists published entries in most- to least-recently-used order.
// Size is the accounted meta plus body bytes. limit <= 0 lists everything.
func (s *Store) Entries(limit int) []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lru.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	infos := make([]EntryInfo, 0, n)
	for elem := s.lru.Front(); elem != nil && len(infos) < n; elem = elem.Next() {
		ent := elem.Value.(*entry)
		infos = append(infos, EntryInfo{Key: ent.key, Size: ent.metaSize + ent.bodySize})
	}
	return infos
}

// Get returns a snapshot of the entry or ErrNotFound. A hit promotes the
// entry to most recently used and appends a READ record. The snapshot's
// body handle stays valid even if the entry is evicted afterwards.
func (s *Store) Get(key string) (*Snapshot, error) {
	if !isValidKey(key) {
		return nil, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ent, ok := s.entries[key]
	if !ok || !ent.readable || ent.doomed {
		s.misses++
		return nil, ErrNotFound
	}

	meta, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		s.misses++
		s.dropBrokenLocked(ent)
		return nil, ErrNotFound
	}
	body, err := os.Open(s.bodyPath(key))
	if err != nil {
		s.misses++
		s.dropBrokenLocked(ent)
		return nil, ErrNotFound
	}

	s.hits++
	s.appendRecord(opRead, key)
	s.lru.MoveToFront(ent.elem)
	return &Snapshot{key: key, meta: meta, body: body, bodySize: ent.bodySize}, nil
}

// Edit returns an exclusive editor for key, creating the entry if needed.
// A DIRTY record is appended and flushed before any data is staged.
func (s *Store) Edit(key string) (*Editor, error) {
	if !isValidKey(key) {
		return nil, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ent, ok := s.entries[key]
	if ok && ent.editor != nil {
		return nil, ErrEditInProgress
	}
	if !ok {
		ent = &entry{key: key}
		s.entries[key] = ent
	}
	s.appendRecord(opDirty, key)
	ed := &Editor{store: s, ent: ent}
	ent.editor = ed
	return ed, nil
}

// Remove deletes a published entry, its files, and appends a REMOVE
// record. Keys under active edit are refused with ErrEditInProgress.
func (s *Store) Remove(key string) error {
	if !isValidKey(key) {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ent, ok := s.entries[key]
	if !ok || !ent.readable || ent.doomed {
		return ErrNotFound
	}
	if ent.editor != nil {
		return ErrEditInProgress
	}
	s.removeEntryLocked(ent)
	return nil
}

// Clear removes every published entry. Keys under active edit are doomed:
// they disappear now and their staged data is discarded when the edit
// finishes.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, ent := range s.entries {
		if ent.editor != nil {
			s.doomLocked(ent)
			continue
		}
		s.removeEntryLocked(ent)
	}
	s.compactIfNeededLocked()
	return nil
}

// Flush forces buffered journal records to stable storage.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.syncJournalLocked()
}

// Close syncs and closes the journal. Active editors are left to finish;
// their completion becomes a no-op against a closed store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.syncJournalLocked()
	if s.journal != nil {
		if cerr := s.journal.Close(); err == nil {
			err = cerr
		}
		s.journal = nil
		s.bw = nil
	}
	return err
}

// CompactIfNeeded rewrites the journal when enough redundant records have
// accumulated. It reports whether a rewrite happened.
func (s *Store) CompactIfNeeded() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if !s.compactNeededLocked() {
		return false, nil
	}
	if err := s.rewriteJournalLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// completeEdit finishes an editor's lifecycle under the store lock. Commit
// and Abort funnel through here after their file work is done.
func (s *Store) completeEdit(ed *Editor, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := ed.ent
	if ent.editor != ed {
		return
	}
	ent.editor = nil

	if s.closed {
		// Shutdown raced the edit; whatever was staged or renamed in will be
		// reconciled by recovery on the next Open.
		return
	}

	if ent.doomed {
		// Purged while the edit ran. The journal already holds the REMOVE;
		// delete whatever files the edit may have published.
		delete(s.entries, ent.key)
		ent.doomed = false
		s.deleteEntryFiles(ent.key)
		return
	}

	if success {
		wasReadable := ent.readable
		oldTotal := ent.total()
		ent.metaSize = int64(len(ed.meta))
		switch {
		case ed.bodyTouched:
			ent.bodySize = ed.bodyN
		case !wasReadable:
			ent.bodySize = 0
		}
		ent.readable = true
		if wasReadable {
			s.size += ent.total() - oldTotal
		} else {
			s.size += ent.total()
		}
		s.sets++
		s.appendRecord(opClean, ent.key,
			strconv.FormatInt(ent.metaSize, 10), strconv.FormatInt(ent.bodySize, 10))
		if ent.elem == nil {
			ent.elem = s.lru.PushFront(ent)
		} else {
			s.lru.MoveToFront(ent.elem)
		}
		s.trimLocked()
		s.compactIfNeededLocked()
		return
	}

	if ent.readable {
		// Aborted re-edit: the published value stays, re-record its sizes.
		s.appendRecord(opClean, ent.key,
			strconv.FormatInt(ent.metaSize, 10), strconv.FormatInt(ent.bodySize, 10))
		return
	}

	// First edit never published anything.
	delete(s.entries, ent.key)
	s.appendRecord(opRemove, ent.key)
}

// trimLocked evicts least-recently-used entries until the store fits its
// cap. Entries with an active editor are skipped; the post-commit trim
// picks them up once the edit finishes.
func (s *Store) trimLocked() {
	evicted := 0
	for s.size > s.maxBytes {
		var victim *entry
		for elem := s.lru.Back(); elem != nil; elem = elem.Prev() {
			ent := elem.Value.(*entry)
			if ent.editor == nil {
				victim = ent
				break
			}
		}
		if victim == nil {
			break
		}
		s.logger.Debug().
			Str(log.FieldEvent, "diskcache.evict").
			Str(log.FieldCacheKey, victim.key).
			Int64(log.FieldBytes, victim.total()).
			Msg("evicting entry")
		s.removeEntryLocked(victim)
		s.evictions++
		evicted++
	}
	if evicted > 0 {
		metrics.IncEvictions(evicted)
	}
}

// removeEntryLocked unpublishes an entry: files deleted, REMOVE appended,
// accounting adjusted. Open snapshots keep reading the unlinked files.
func (s *Store) removeEntryLocked(ent *entry) {
	s.deleteEntryFiles(ent.key)
	if ent.elem != nil {
		s.lru.Remove(ent.elem)
		ent.elem = nil
	}
	if ent.readable {
		s.size -= ent.total()
	}
	delete(s.entries, ent.key)
	s.appendRecord(opRemove, ent.key)
}

// doomLocked unpublishes an entry that is under active edit. The map entry
// stays (it carries the edit lock); completeEdit disposes of it.
func (s *Store) doomLocked(ent *entry) {
	if ent.doomed {
		return
	}
	ent.doomed = true
	s.deleteEntryFiles(ent.key)
	if ent.elem != nil {
		s.lru.Remove(ent.elem)
		ent.elem = nil
	}
	if ent.readable {
		s.size -= ent.total()
		ent.readable = false
	}
	s.appendRecord(opRemove, ent.key)
}

// dropBrokenLocked retires an entry whose files went missing at read time.
func (s *Store) dropBrokenLocked(ent *entry) {
	if ent.editor != nil {
		s.doomLocked(ent)
		return
	}
	s.removeEntryLocked(ent)
}

func (s *Store) deleteEntryFiles(key string) {
	for _, p := range []string{s.metaPath(key), s.bodyPath(key), s.bodyTmpPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().
				Str(log.FieldEvent, "diskcache.delete_failed").
				Str(log.FieldPath, p).
				Err(err).
				Msg("could not delete entry file")
		}
	}
}

func isValidKey(key string) bool {
	if len(key) != keyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
