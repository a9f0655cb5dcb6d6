// SPDX-License-Identifier: MIT

package diskcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRawJournal crafts a journal file from record lines. terminated
// controls whether the final line carries its newline.
func writeRawJournal(t *testing.T, dir string, terminated bool, lines ...string) {
	t.Helper()
	content := journalMagic + "\n" + journalVersion + "\n" + journalValueCount + "\n\n"
	content += strings.Join(lines, "\n")
	if len(lines) > 0 && terminated {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), []byte(content), 0o640))
}

func writeEntryFiles(t *testing.T, dir, key, meta, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".0"), []byte(meta), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".1"), []byte(body), 0o640))
}

func journalLines(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	require.NoError(t, err)
	raw := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.GreaterOrEqual(t, len(raw), 4, "journal must carry its header")
	assert.Equal(t, journalMagic, raw[0])
	assert.Equal(t, journalVersion, raw[1])
	assert.Equal(t, journalValueCount, raw[2])
	assert.Equal(t, "", raw[3])
	return raw[4:]
}

func TestOpen_FreshDirWritesHeader(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir, 1<<20)
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	require.NoError(t, err)
	assert.Equal(t, journalMagic+"\n1\n2\n\n", string(data))
}

func TestOpen_EmptyJournalIsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), nil, 0o640))

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 0, s.Len())
	mustPut(t, s, testKey("a"), "m", "b")
}

func TestOpen_RestoresEntriesAndOrder(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir, 1<<20)
	a, b, c := testKey("a"), testKey("b"), testKey("c")
	mustPut(t, s, a, "meta", "body-a")
	mustPut(t, s, b, "meta", "body-b")
	mustPut(t, s, c, "meta", "body-c")
	snap, err := s.Get(a) // a becomes MRU, journal gains a redundant READ
	require.NoError(t, err)
	require.NoError(t, snap.Close())
	wantSize := s.Size()
	require.NoError(t, s.Close())

	s2 := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 3, s2.Len())
	assert.Equal(t, wantSize, s2.Size())
	assert.Equal(t, []string{a, c, b}, s2.Keys())

	// The redundant READ made Open compact; only CLEAN lines remain.
	for _, line := range journalLines(t, dir) {
		assert.True(t, strings.HasPrefix(line, opClean+" "), "unexpected record %q", line)
	}
}

func TestOpen_DanglingDirtyDeleted(t *testing.T) {
	dir := t.TempDir()
	key := testKey("crashed")
	writeEntryFiles(t, dir, key, "meta", "body")
	writeRawJournal(t, dir, true,
		fmt.Sprintf("%s %s 4 4", opClean, key),
		opDirty+" "+key,
	)

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 0, s.Len(), "entry in flight at crash time must not be published")
	_, err := os.Stat(filepath.Join(dir, key+".0"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, key+".1"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_BackupRotatedIn(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir, 1<<20)
	key := testKey("a")
	mustPut(t, s, key, "meta", "body")
	require.NoError(t, s.Close())

	// Simulate a crash between the compaction renames.
	require.NoError(t, os.Rename(filepath.Join(dir, journalFile), filepath.Join(dir, journalBkpFile)))

	s2 := mustOpen(t, dir, 1<<20)
	snap, err := s2.Get(key)
	require.NoError(t, err)
	require.NoError(t, snap.Close())
	_, err = os.Stat(filepath.Join(dir, journalBkpFile))
	assert.True(t, os.IsNotExist(err), "backup must be consumed by the rotation")
}

func TestOpen_TruncatedTailIgnored(t *testing.T) {
	dir := t.TempDir()
	a, b := testKey("a"), testKey("b")
	writeEntryFiles(t, dir, a, "meta", "body")
	// The final line lost its tail mid-write.
	writeRawJournal(t, dir, false,
		fmt.Sprintf("%s %s 4 4", opClean, a),
		fmt.Sprintf("%s %s 4", opClean, b),
	)

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 1, s.Len())
	snap, err := s.Get(a)
	require.NoError(t, err)
	require.NoError(t, snap.Close())

	// Recovery rewrote the journal without the torn record.
	for _, line := range journalLines(t, dir) {
		assert.NotContains(t, line, b)
	}
}

func TestOpen_CorruptJournalRebuildsFromScan(t *testing.T) {
	dir := t.TempDir()
	x, y := testKey("x"), testKey("y")
	writeEntryFiles(t, dir, x, "meta-x", "body-of-x")
	writeEntryFiles(t, dir, y, "meta-y", "body-of-y")
	writeRawJournal(t, dir, true,
		fmt.Sprintf("%s %s 6 9", opClean, x),
		"GARBAGE not a record",
		fmt.Sprintf("%s %s 6 9", opClean, y),
	)

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 2, s.Len(), "entries must be rebuilt from the files on disk")
	assert.Equal(t, int64(len("meta-x")+len("body-of-x")+len("meta-y")+len("body-of-y")), s.Size())
	for _, k := range []string{x, y} {
		snap, err := s.Get(k)
		require.NoError(t, err)
		require.NoError(t, snap.Close())
	}
}

func TestOpen_OrphansDeleted(t *testing.T) {
	dir := t.TempDir()
	live, orphan := testKey("live"), testKey("orphan")
	writeEntryFiles(t, dir, live, "meta", "body")
	writeEntryFiles(t, dir, orphan, "meta", "body")
	require.NoError(t, os.WriteFile(filepath.Join(dir, live+".1.tmp"), []byte("stale tmp"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "."+live+".0.x91ka3"), []byte("torn publish"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0o640))
	writeRawJournal(t, dir, true, fmt.Sprintf("%s %s 4 4", opClean, live))

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 1, s.Len())
	_, err := os.Stat(filepath.Join(dir, orphan+".0"))
	assert.True(t, os.IsNotExist(err), "orphan meta file must be deleted")
	_, err = os.Stat(filepath.Join(dir, orphan+".1"))
	assert.True(t, os.IsNotExist(err), "orphan body file must be deleted")
	_, err = os.Stat(filepath.Join(dir, live+".1.tmp"))
	assert.True(t, os.IsNotExist(err), "stale tmp file must be deleted")
	_, err = os.Stat(filepath.Join(dir, "."+live+".0.x91ka3"))
	assert.True(t, os.IsNotExist(err), "staging leftovers must be deleted")
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err, "non-entry files are left alone")
	snap, err := s.Get(live)
	require.NoError(t, err)
	require.NoError(t, snap.Close())
}

func TestOpen_MissingFilesDropped(t *testing.T) {
	dir := t.TempDir()
	a, gone := testKey("a"), testKey("gone")
	writeEntryFiles(t, dir, a, "meta", "body")
	writeRawJournal(t, dir, true,
		fmt.Sprintf("%s %s 4 4", opClean, a),
		fmt.Sprintf("%s %s 4 4", opClean, gone),
	)

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(8), s.Size())
	_, err := s.Get(gone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_AdoptsActualFileSizes(t *testing.T) {
	dir := t.TempDir()
	a := testKey("a")
	writeEntryFiles(t, dir, a, "meta", "a body that grew")
	writeRawJournal(t, dir, true, fmt.Sprintf("%s %s 4 4", opClean, a))

	s := mustOpen(t, dir, 1<<20)
	assert.Equal(t, int64(len("meta")+len("a body that grew")), s.Size())
}

func TestStore_CompactionRewritesJournal(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir, 1<<20, WithCompactThreshold(4))
	key := testKey("a")
	mustPut(t, s, key, "meta", "body")

	for i := 0; i < 4; i++ {
		snap, err := s.Get(key)
		require.NoError(t, err)
		require.NoError(t, snap.Close())
	}

	compacted, err := s.CompactIfNeeded()
	require.NoError(t, err)
	assert.True(t, compacted)

	lines := journalLines(t, dir)
	require.Len(t, lines, 1)
	assert.Equal(t, fmt.Sprintf("%s %s 4 4", opClean, key), lines[0])

	// Nothing redundant left, so a second pass is a no-op.
	compacted, err = s.CompactIfNeeded()
	require.NoError(t, err)
	assert.False(t, compacted)

	// The store keeps appending normally after the rewrite.
	mustPut(t, s, testKey("b"), "meta", "body")
	snap, err := s.Get(testKey("b"))
	require.NoError(t, err)
	require.NoError(t, snap.Close())
}

func TestStore_EvictionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir, 30)
	a, b, c, d := testKey("a"), testKey("b"), testKey("c"), testKey("d")
	for _, k := range []string{a, b, c, d} {
		mustPut(t, s, k, "mmmm", "bbbbbb")
	}
	require.NoError(t, s.Close())

	s2 := mustOpen(t, dir, 30)
	assert.Equal(t, 3, s2.Len())
	_, err := s2.Get(a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInspectJournal(t *testing.T) {
	dir := t.TempDir()
	a, b, c := testKey("a"), testKey("b"), testKey("c")
	writeRawJournal(t, dir, true,
		fmt.Sprintf("%s %s 2 3", opClean, a),
		opRead+" "+a,
		opDirty+" "+b,
		fmt.Sprintf("%s %s 1 1", opClean, b),
		opRemove+" "+a,
		opDirty+" "+c,
	)

	rep, err := InspectJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Records)
	assert.Equal(t, 1, rep.Live)
	assert.Equal(t, 5, rep.Redundant)
	assert.Equal(t, 1, rep.Dangling)
	assert.Equal(t, int64(2), rep.LiveBytes)
	assert.False(t, rep.Truncated)
	assert.Equal(t, []string{b + ".0", b + ".1"}, rep.Missing)
	assert.Empty(t, rep.Orphans)
}

func TestInspectJournal_Reconciles(t *testing.T) {
	dir := t.TempDir()
	a, b := testKey("a"), testKey("b")
	writeRawJournal(t, dir, true,
		fmt.Sprintf("%s %s 2 3", opClean, a),
	)
	writeEntryFiles(t, dir, a, "mm", "bbb")
	writeEntryFiles(t, dir, b, "mm", "bbb")
	// Tmp files and foreign files never count as orphans.
	require.NoError(t, os.WriteFile(filepath.Join(dir, a+".0.tmp"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o640))

	rep, err := InspectJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{b + ".0", b + ".1"}, rep.Orphans)
	assert.Empty(t, rep.Missing)
}

func TestInspectJournal_Truncated(t *testing.T) {
	dir := t.TempDir()
	a := testKey("a")
	writeRawJournal(t, dir, false,
		fmt.Sprintf("%s %s 2 3", opClean, a),
		fmt.Sprintf("%s %s 9", opClean, testKey("torn")),
	)

	rep, err := InspectJournal(dir)
	require.NoError(t, err)
	assert.True(t, rep.Truncated)
	assert.Equal(t, 1, rep.Records)
	assert.Equal(t, 1, rep.Live)
}

func TestInspectJournal_Missing(t *testing.T) {
	_, err := InspectJournal(t.TempDir())
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestInspectJournal_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), []byte("not a journal\n"), 0o640))
	_, err := InspectJournal(dir)
	require.ErrorIs(t, err, errJournalCorrupt)
}
