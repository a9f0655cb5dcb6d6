// SPDX-License-Identifier: MIT

package diskcache

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/thumbgate/thumbgate/internal/metrics"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("diskcache: store is closed")
	// ErrNotFound is returned by Get and Remove for absent keys.
	ErrNotFound = errors.New("diskcache: entry not found")
	// ErrEditInProgress is returned when a second editor is requested for a key.
	ErrEditInProgress = errors.New("diskcache: edit already in progress")
	// ErrInvalidKey is returned for keys that are not 64 hex characters.
	ErrInvalidKey = errors.New("diskcache: invalid key")
	// ErrEntryTooLarge is returned by Editor writes that exceed the per-entry cap.
	ErrEntryTooLarge = errors.New("diskcache: entry exceeds size cap")
)

// entry is the in-memory record of one cached object.
type entry struct {
	key      string
	metaSize int64
	bodySize int64

	// readable flips true after the first successful commit.
	readable bool
	// doomed marks an entry purged while an edit was active; the edit's
	// completion disposes of it.
	doomed bool

	editor *Editor
	elem   *list.Element
}

func (e *entry) total() int64 { return e.metaSize + e.bodySize }

func (s *Store) metaPath(key string) string { return filepath.Join(s.dir, key+".0") }
func (s *Store) bodyPath(key string) string { return filepath.Join(s.dir, key+".1") }

func (s *Store) bodyTmpPath(key string) string { return filepath.Join(s.dir, key+".1.tmp") }

// EntryInfo describes a published entry for listings.
type EntryInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Snapshot is a point-in-time read of one entry. The body file handle stays
// valid even if the entry is evicted while the snapshot is open.
type Snapshot struct {
	key      string
	meta     []byte
	body     *os.File
	bodySize int64
}

// Key returns the entry key.
func (s *Snapshot) Key() string { return s.key }

// Meta returns the raw metadata record.
func (s *Snapshot) Meta() []byte { return s.meta }

// Body returns the body reader. It supports seeking for range serving.
func (s *Snapshot) Body() io.ReadSeeker { return s.body }

// BodySize returns the stored body length in bytes.
func (s *Snapshot) BodySize() int64 { return s.bodySize }

// Close releases the body file handle.
func (s *Snapshot) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

// Editor is an exclusive, two-phase write for one key. Data lands in
// temporary files and becomes visible only on Commit.
type Editor struct {
	store *Store
	ent   *entry

	meta    []byte
	metaSet bool

	bodyFile *os.File
	// bodyTouched records that Body() was opened, so Commit publishes a new
	// body file even when zero bytes were streamed.
	bodyTouched bool
	bodyN       int64
	done        bool
}

// SetMeta stages the metadata record for this entry.
func (ed *Editor) SetMeta(meta []byte) {
	ed.meta = meta
	ed.metaSet = true
}

// Body returns a writer for the entry body. Writes beyond the store's
// per-entry cap fail with ErrEntryTooLarge.
func (ed *Editor) Body() (io.Writer, error) {
	if ed.done {
		return nil, ErrClosed
	}
	if ed.bodyFile == nil {
		f, err := os.OpenFile(ed.store.bodyTmpPath(ed.ent.key), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
		if err != nil {
			metrics.IncStoreFailure("body")
			return nil, fmt.Errorf("open body temp: %w", err)
		}
		ed.bodyFile = f
		ed.bodyTouched = true
	}
	return cappedWriter{ed}, nil
}

// cappedWriter enforces the per-entry byte cap during streaming writes.
type cappedWriter struct{ ed *Editor }

func (w cappedWriter) Write(p []byte) (int, error) {
	ed := w.ed
	if max := ed.store.entryMaxBytes; max > 0 && ed.bodyN+int64(len(p)) > max {
		return 0, ErrEntryTooLarge
	}
	n, err := ed.bodyFile.Write(p)
	ed.bodyN += int64(n)
	return n, err
}

// Commit publishes the staged metadata and body atomically and records the
// entry in the journal. The store trims to its size cap afterwards.
func (ed *Editor) Commit() error {
	if ed.done {
		return ErrClosed
	}
	ed.done = true
	s := ed.store

	if !ed.metaSet {
		_ = ed.discardTemp()
		s.completeEdit(ed, false)
		return errors.New("diskcache: commit without metadata")
	}

	// Body first: an entry without a published metadata record is invisible,
	// so a crash between the two renames leaves no half-readable entry.
	if ed.bodyFile != nil {
		if err := ed.bodyFile.Sync(); err != nil {
			_ = ed.discardTemp()
			s.completeEdit(ed, false)
			metrics.IncStoreFailure("commit")
			return fmt.Errorf("sync body: %w", err)
		}
		if err := ed.bodyFile.Close(); err != nil {
			_ = ed.discardTemp()
			s.completeEdit(ed, false)
			metrics.IncStoreFailure("commit")
			return fmt.Errorf("close body: %w", err)
		}
		ed.bodyFile = nil
		if err := os.Rename(s.bodyTmpPath(ed.ent.key), s.bodyPath(ed.ent.key)); err != nil {
			s.completeEdit(ed, false)
			metrics.IncStoreFailure("commit")
			return fmt.Errorf("publish body: %w", err)
		}
	} else {
		// A metadata-only commit keeps any previously published body; a brand
		// new entry gets an empty body file so both files always exist.
		if !ed.ent.readable {
			if err := os.WriteFile(s.bodyPath(ed.ent.key), nil, 0o640); err != nil {
				s.completeEdit(ed, false)
				metrics.IncStoreFailure("commit")
				return fmt.Errorf("publish empty body: %w", err)
			}
		}
	}

	if err := renameio.WriteFile(s.metaPath(ed.ent.key), ed.meta, 0o640); err != nil {
		s.completeEdit(ed, false)
		metrics.IncStoreFailure("commit")
		return fmt.Errorf("publish metadata: %w", err)
	}

	s.completeEdit(ed, true)
	return nil
}

// Abort discards the staged write. A never-published entry is removed.
func (ed *Editor) Abort() error {
	if ed.done {
		return nil
	}
	ed.done = true
	err := ed.discardTemp()
	ed.store.completeEdit(ed, false)
	return err
}

func (ed *Editor) discardTemp() error {
	var err error
	if ed.bodyFile != nil {
		err = ed.bodyFile.Close()
		ed.bodyFile = nil
	}
	if rmErr := os.Remove(ed.store.bodyTmpPath(ed.ent.key)); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
