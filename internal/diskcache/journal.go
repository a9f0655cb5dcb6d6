// SPDX-License-Identifier: MIT

package diskcache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/thumbgate/thumbgate/internal/log"
	"github.com/thumbgate/thumbgate/internal/metrics"
)

// Journal file layout. The header is four lines (magic, format version,
// files-per-entry, blank), followed by one record per line.
const (
	journalFile    = "journal"
	journalTmpFile = "journal.tmp"
	journalBkpFile = "journal.bkp"

	journalMagic      = "thumbgate.DiskCache"
	journalVersion    = "1"
	journalValueCount = "2"

	opClean  = "CLEAN"
	opDirty  = "DIRTY"
	opRead   = "READ"
	opRemove = "REMOVE"
)

var (
	errInvalidMaxSize = errors.New("diskcache: max size must be positive")
	// errJournalCorrupt marks damage beyond a truncated final line; recovery
	// falls back to rebuilding state from the entry files on disk.
	errJournalCorrupt = errors.New("diskcache: journal corrupt")
)

type record struct {
	op       string
	key      string
	metaSize int64
	bodySize int64
}

func (r record) line() string {
	if r.op == opClean {
		return fmt.Sprintf("%s %s %d %d\n", r.op, r.key, r.metaSize, r.bodySize)
	}
	return r.op + " " + r.key + "\n"
}

// recover brings the store to a consistent state from whatever the last
// process left behind: a clean journal, a truncated one, a stale backup,
// dangling in-flight edits, or no journal at all next to live entry files.
func (s *Store) recover() error {
	journalPath := filepath.Join(s.dir, journalFile)
	bkpPath := filepath.Join(s.dir, journalBkpFile)

	// A backup next to a journal is leftover from a finished compaction; a
	// backup alone means the crash hit between the two renames.
	if _, err := os.Stat(bkpPath); err == nil {
		if _, err := os.Stat(journalPath); err == nil {
			if err := os.Remove(bkpPath); err != nil {
				return fmt.Errorf("drop stale journal backup: %w", err)
			}
		} else {
			if err := os.Rename(bkpPath, journalPath); err != nil {
				return fmt.Errorf("restore journal backup: %w", err)
			}
			metrics.IncJournalRecovery("backup")
			s.logger.Warn().
				Str(log.FieldEvent, "diskcache.recover.backup").
				Str(log.FieldDir, s.dir).
				Msg("restored journal from backup")
		}
	}
	_ = os.Remove(filepath.Join(s.dir, journalTmpFile))

	recs, truncated, err := readJournalFile(journalPath)
	rebuilt := false
	switch {
	case err == nil && truncated:
		metrics.IncJournalRecovery("truncated")
		s.logger.Warn().
			Str(log.FieldEvent, "diskcache.recover.truncated").
			Str(log.FieldDir, s.dir).
			Msg("journal had an incomplete final record, dropped it")
	case err == nil:
		metrics.IncJournalRecovery("clean")
	case os.IsNotExist(err):
		recs, err = s.scanEntries()
		if err != nil {
			return err
		}
		rebuilt = len(recs) > 0
		if rebuilt {
			metrics.IncJournalRecovery("rebuilt")
			s.logger.Warn().
				Str(log.FieldEvent, "diskcache.recover.rebuilt").
				Str(log.FieldDir, s.dir).
				Int(log.FieldEntries, len(recs)).
				Msg("journal missing, rebuilt from entry files")
		}
	case errors.Is(err, errJournalCorrupt):
		recs, err = s.scanEntries()
		if err != nil {
			return err
		}
		rebuilt = true
		metrics.IncJournalRecovery("rebuilt")
		s.logger.Warn().
			Str(log.FieldEvent, "diskcache.recover.rebuilt").
			Str(log.FieldDir, s.dir).
			Int(log.FieldEntries, len(recs)).
			Msg("journal corrupt, rebuilt from entry files")
	default:
		return err
	}

	dangling := s.applyRecords(recs)
	for key := range dangling {
		s.deleteEntryFiles(key)
		delete(s.entries, key)
	}
	s.dropMissing()
	s.deleteOrphans()

	// Persist the repaired state. A clean journal with no redundancy is
	// reopened for append as-is.
	if rebuilt || truncated || len(dangling) > 0 || s.ops > 0 {
		return s.rewriteJournalLocked()
	}
	return s.openJournalForAppend()
}

// readJournalFile parses the journal. A malformed or unterminated final
// line is tolerated (truncated=true, prefix kept); damage anywhere else
// returns errJournalCorrupt.
func readJournalFile(path string) ([]record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	lines := strings.Split(string(data), "\n")
	// A well-formed file ends with a newline, leaving one empty trailer.
	terminated := lines[len(lines)-1] == ""
	if terminated {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 4 {
		return nil, false, errJournalCorrupt
	}
	if lines[0] != journalMagic || lines[1] != journalVersion ||
		lines[2] != journalValueCount || lines[3] != "" {
		return nil, false, fmt.Errorf("%w: bad header", errJournalCorrupt)
	}

	recs := make([]record, 0, len(lines)-4)
	truncated := false
	for i, line := range lines[4:] {
		rec, err := parseRecordLine(line)
		if err != nil {
			last := i == len(lines)-5
			if last {
				truncated = true
				break
			}
			return nil, false, fmt.Errorf("%w: record %d: %v", errJournalCorrupt, i, err)
		}
		if !terminated && i == len(lines)-5 {
			// Complete-looking final line without its newline still counts as
			// a torn write.
			truncated = true
			break
		}
		recs = append(recs, rec)
	}
	return recs, truncated, nil
}

func parseRecordLine(line string) (record, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return record{}, fmt.Errorf("short record %q", line)
	}
	rec := record{op: fields[0], key: fields[1]}
	if !isValidKey(rec.key) {
		return record{}, fmt.Errorf("bad key %q", rec.key)
	}
	switch rec.op {
	case opClean:
		if len(fields) != 4 {
			return record{}, fmt.Errorf("bad CLEAN record %q", line)
		}
		m, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || m < 0 {
			return record{}, fmt.Errorf("bad meta size %q", fields[2])
		}
		b, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil || b < 0 {
			return record{}, fmt.Errorf("bad body size %q", fields[3])
		}
		rec.metaSize, rec.bodySize = m, b
	case opDirty, opRead, opRemove:
		if len(fields) != 2 {
			return record{}, fmt.Errorf("bad %s record %q", rec.op, line)
		}
	default:
		return record{}, fmt.Errorf("unknown op %q", rec.op)
	}
	return rec, nil
}

// applyRecords replays the journal into the in-memory state and returns
// keys whose last record was DIRTY (in-flight at crash time). s.ops ends
// up holding the redundant-record count.
func (s *Store) applyRecords(recs []record) map[string]struct{} {
	dangling := make(map[string]struct{})
	for _, rec := range recs {
		switch rec.op {
		case opClean:
			delete(dangling, rec.key)
			ent, ok := s.entries[rec.key]
			if !ok {
				ent = &entry{key: rec.key}
				s.entries[rec.key] = ent
			}
			if ent.readable {
				s.size -= ent.total()
			}
			ent.metaSize, ent.bodySize = rec.metaSize, rec.bodySize
			ent.readable = true
			s.size += ent.total()
			if ent.elem == nil {
				ent.elem = s.lru.PushFront(ent)
			} else {
				s.lru.MoveToFront(ent.elem)
			}
		case opDirty:
			dangling[rec.key] = struct{}{}
		case opRead:
			if ent, ok := s.entries[rec.key]; ok && ent.elem != nil {
				s.lru.MoveToFront(ent.elem)
			}
		case opRemove:
			delete(dangling, rec.key)
			if ent, ok := s.entries[rec.key]; ok {
				if ent.elem != nil {
					s.lru.Remove(ent.elem)
				}
				if ent.readable {
					s.size -= ent.total()
				}
				delete(s.entries, rec.key)
			}
		}
	}
	// Dangling DIRTY keys may have a published value in the map; drop it,
	// recovery deletes their files wholesale.
	for key := range dangling {
		if ent, ok := s.entries[key]; ok {
			if ent.elem != nil {
				s.lru.Remove(ent.elem)
			}
			if ent.readable {
				s.size -= ent.total()
			}
			delete(s.entries, key)
		}
	}
	s.ops = len(recs) - s.lru.Len()
	if s.ops < 0 {
		s.ops = 0
	}
	return dangling
}

// dropMissing removes entries whose files vanished behind the journal's
// back, adopting actual file sizes where they drifted.
func (s *Store) dropMissing() {
	for _, ent := range s.entries {
		if !ent.readable {
			continue
		}
		mi, merr := os.Stat(s.metaPath(ent.key))
		bi, berr := os.Stat(s.bodyPath(ent.key))
		if merr != nil || berr != nil {
			s.logger.Warn().
				Str(log.FieldEvent, "diskcache.recover.missing_files").
				Str(log.FieldCacheKey, ent.key).
				Msg("dropping entry with missing files")
			s.deleteEntryFiles(ent.key)
			if ent.elem != nil {
				s.lru.Remove(ent.elem)
			}
			s.size -= ent.total()
			delete(s.entries, ent.key)
			s.ops++
			continue
		}
		if mi.Size() != ent.metaSize || bi.Size() != ent.bodySize {
			s.size += (mi.Size() + bi.Size()) - ent.total()
			ent.metaSize, ent.bodySize = mi.Size(), bi.Size()
			s.ops++
		}
	}
}

// deleteOrphans removes entry-shaped files that no live entry claims,
// including tmp leftovers from crashed edits.
func (s *Store) deleteOrphans() {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, de := range names {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if stem, ok := strings.CutPrefix(name, "."); ok {
			// Staging files from an interrupted metadata publish are
			// dot-hidden next to their target (`.<key>.0.<random>`).
			if i := strings.LastIndexByte(stem, '.'); i > 0 {
				if _, isEntry := EntryFileKey(stem[:i]); !isEntry {
					continue
				}
				_ = os.Remove(filepath.Join(s.dir, name))
			}
			continue
		}
		key, ok := EntryFileKey(name)
		if !ok {
			continue
		}
		ent, live := s.entries[key]
		isTmp := strings.HasSuffix(name, ".tmp")
		if live && ent.readable && !isTmp {
			continue
		}
		s.logger.Debug().
			Str(log.FieldEvent, "diskcache.recover.orphan").
			Str(log.FieldPath, name).
			Msg("deleting orphan file")
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

// EntryFileKey extracts the cache key from an entry file name
// (`<key>.0`, `<key>.1`, or their `.tmp` forms).
func EntryFileKey(name string) (string, bool) {
	base := strings.TrimSuffix(name, ".tmp")
	if !strings.HasSuffix(base, ".0") && !strings.HasSuffix(base, ".1") {
		return "", false
	}
	key := base[:len(base)-2]
	if !isValidKey(key) {
		return "", false
	}
	return key, true
}

// scanEntries synthesizes CLEAN records from complete file pairs on disk,
// oldest first so replay yields a sensible LRU order.
func (s *Store) scanEntries() ([]record, error) {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	type found struct {
		rec   record
		mtime int64
	}
	var scanned []found
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".0") {
			continue
		}
		key, ok := EntryFileKey(de.Name())
		if !ok {
			continue
		}
		mi, err := os.Stat(s.metaPath(key))
		if err != nil {
			continue
		}
		bi, err := os.Stat(s.bodyPath(key))
		if err != nil {
			continue
		}
		scanned = append(scanned, found{
			rec:   record{op: opClean, key: key, metaSize: mi.Size(), bodySize: bi.Size()},
			mtime: mi.ModTime().UnixNano(),
		})
	}
	sort.Slice(scanned, func(i, j int) bool { return scanned[i].mtime < scanned[j].mtime })
	recs := make([]record, len(scanned))
	for i, f := range scanned {
		recs[i] = f.rec
	}
	return recs, nil
}

func (s *Store) openJournalForAppend() error {
	f, err := os.OpenFile(filepath.Join(s.dir, journalFile),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.journal = f
	s.bw = bufio.NewWriter(f)
	if fi.Size() == 0 {
		if err := s.writeHeaderLocked(); err != nil {
			_ = f.Close()
			return err
		}
	}
	return nil
}

func (s *Store) writeHeaderLocked() error {
	for _, line := range []string{journalMagic, journalVersion, journalValueCount, ""} {
		if _, err := s.bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write journal header: %w", err)
		}
	}
	return s.bw.Flush()
}

// appendRecord writes one journal line and flushes it to the OS. Failures
// are logged and counted; the in-memory state stays authoritative until
// the next successful compaction.
func (s *Store) appendRecord(op string, parts ...string) {
	if s.bw == nil {
		return
	}
	line := op + " " + strings.Join(parts, " ") + "\n"
	_, err := s.bw.WriteString(line)
	if err == nil {
		err = s.bw.Flush()
	}
	if err != nil {
		metrics.IncStoreFailure("journal")
		s.logger.Error().
			Str(log.FieldEvent, "diskcache.journal_write_failed").
			Err(err).
			Msg("journal write failed")
		return
	}
	if op != opDirty {
		s.ops++
	}
}

func (s *Store) syncJournalLocked() error {
	if s.bw == nil || s.journal == nil {
		return nil
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	return s.journal.Sync()
}

func (s *Store) compactNeededLocked() bool {
	return s.ops >= s.compactThreshold && s.ops >= s.lru.Len()
}

func (s *Store) compactIfNeededLocked() {
	if !s.compactNeededLocked() {
		return
	}
	if err := s.rewriteJournalLocked(); err != nil {
		s.logger.Error().
			Str(log.FieldEvent, "diskcache.compact_failed").
			Err(err).
			Msg("journal compaction failed")
	}
}

// rewriteJournalLocked writes a compacted journal to journal.tmp, rotates
// the old journal to journal.bkp, moves the tmp into place, and drops the
// backup. Recovery handles a crash between any two of those steps.
func (s *Store) rewriteJournalLocked() error {
	if s.bw != nil {
		_ = s.bw.Flush()
	}
	if s.journal != nil {
		_ = s.journal.Close()
		s.journal = nil
		s.bw = nil
	}

	tmpPath := filepath.Join(s.dir, journalTmpFile)
	journalPath := filepath.Join(s.dir, journalFile)
	bkpPath := filepath.Join(s.dir, journalBkpFile)

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create journal tmp: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range []string{journalMagic, journalVersion, journalValueCount, ""} {
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write journal tmp: %w", err)
		}
	}
	// LRU first so replay's move-to-front reconstructs today's order.
	for elem := s.lru.Back(); elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*entry)
		rec := record{op: opClean, key: ent.key, metaSize: ent.metaSize, bodySize: ent.bodySize}
		if _, err := w.WriteString(rec.line()); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write journal tmp: %w", err)
		}
		if ent.editor != nil {
			if _, err := w.WriteString(record{op: opDirty, key: ent.key}.line()); err != nil {
				_ = tmp.Close()
				return fmt.Errorf("write journal tmp: %w", err)
			}
		}
	}
	// Unpublished entries under first edit carry only their DIRTY marker.
	for _, ent := range s.entries {
		if ent.elem == nil && ent.editor != nil {
			if _, err := w.WriteString(record{op: opDirty, key: ent.key}.line()); err != nil {
				_ = tmp.Close()
				return fmt.Errorf("write journal tmp: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush journal tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync journal tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close journal tmp: %w", err)
	}

	if _, err := os.Stat(journalPath); err == nil {
		if err := os.Rename(journalPath, bkpPath); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}
	if err := os.Rename(tmpPath, journalPath); err != nil {
		return fmt.Errorf("publish journal: %w", err)
	}
	_ = os.Remove(bkpPath)

	s.ops = 0
	metrics.IncJournalCompaction()
	s.logger.Debug().
		Str(log.FieldEvent, "diskcache.compact").
		Int(log.FieldEntries, s.lru.Len()).
		Msg("journal compacted")

	f, err := os.OpenFile(journalPath, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	s.journal = f
	s.bw = bufio.NewWriter(f)
	return nil
}

// JournalReport summarizes an offline journal inspection. Orphans are entry
// files the journal does not account for; Missing are live records whose
// files are gone from disk.
type JournalReport struct {
	Records   int      `json:"records"`
	Live      int      `json:"live"`
	Redundant int      `json:"redundant"`
	Dangling  int      `json:"dangling"`
	Truncated bool     `json:"truncated"`
	LiveBytes int64    `json:"live_bytes"`
	Orphans   []string `json:"orphans,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// InspectJournal parses the journal under dir and reconciles it against the
// entry files there, without mutating anything. It backs the offline journal
// check in the CLI and the verify suite.
func InspectJournal(dir string) (*JournalReport, error) {
	recs, truncated, err := readJournalFile(filepath.Join(dir, journalFile))
	if err != nil {
		return nil, err
	}
	type liveEnt struct{ total int64 }
	live := make(map[string]liveEnt)
	dangling := make(map[string]struct{})
	for _, rec := range recs {
		switch rec.op {
		case opClean:
			delete(dangling, rec.key)
			live[rec.key] = liveEnt{total: rec.metaSize + rec.bodySize}
		case opDirty:
			dangling[rec.key] = struct{}{}
		case opRemove:
			delete(dangling, rec.key)
			delete(live, rec.key)
		}
	}
	for key := range dangling {
		delete(live, key)
	}
	rep := &JournalReport{
		Records:   len(recs),
		Live:      len(live),
		Redundant: len(recs) - len(live),
		Dangling:  len(dangling),
		Truncated: truncated,
	}
	if rep.Redundant < 0 {
		rep.Redundant = 0
	}
	for _, ent := range live {
		rep.LiveBytes += ent.total
	}

	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, de := range des {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		key, ok := EntryFileKey(de.Name())
		if !ok {
			continue
		}
		if _, ok := live[key]; !ok {
			rep.Orphans = append(rep.Orphans, de.Name())
		}
	}
	sort.Strings(rep.Orphans)
	for key := range live {
		for _, suffix := range []string{".0", ".1"} {
			if _, err := os.Stat(filepath.Join(dir, key+suffix)); err != nil {
				rep.Missing = append(rep.Missing, key+suffix)
			}
		}
	}
	sort.Strings(rep.Missing)
	return rep, nil
}
