package tuplebox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	b, err := New(Options{})
	require.NoError(t, err)
	return b
}

func TestSeekAfterCommitSeesOwnWrites(t *testing.T) {
	b := newTestBox(t)

	tx1 := b.Begin()
	require.NoError(t, tx1.Insert(RelObjectName, OidKey(1), "room"))
	require.NoError(t, tx1.Commit())

	tx2 := b.Begin()
	v, err := tx2.SeekByDomain(RelObjectName, OidKey(1))
	require.NoError(t, err)
	require.Equal(t, "room", v)
}

func TestConcurrentInsertSameKeyOneWins(t *testing.T) {
	b := newTestBox(t)

	tx1 := b.Begin()
	tx2 := b.Begin()

	require.NoError(t, tx1.Insert(RelObjectName, OidKey(5), "a"))
	require.NoError(t, tx2.Insert(RelObjectName, OidKey(5), "b"))

	err1 := tx1.Commit()
	err2 := tx2.Commit()

	require.True(t, (err1 == nil) != (err2 == nil), "exactly one commit should succeed")
}

func TestReadThenConcurrentWriteConflicts(t *testing.T) {
	b := newTestBox(t)

	setup := b.Begin()
	require.NoError(t, setup.Insert(RelObjectName, OidKey(1), "a"))
	require.NoError(t, setup.Commit())

	tx1 := b.Begin()
	_, err := tx1.SeekByDomain(RelObjectName, OidKey(1))
	require.NoError(t, err)

	tx2 := b.Begin()
	require.NoError(t, tx2.Update(RelObjectName, OidKey(1), "b"))
	require.NoError(t, tx2.Commit())

	require.NoError(t, tx1.Update(RelObjectName, OidKey(1), "c"))
	err = tx1.Commit()
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestSecondaryIndexTracksForwardMapping(t *testing.T) {
	b := newTestBox(t)

	tx := b.Begin()
	require.NoError(t, tx.Insert(RelObjectParent, OidKey(2), OidKey(1)))
	require.NoError(t, tx.Commit())

	tx2 := b.Begin()
	children, err := tx2.SeekByCodomain(RelObjectParent, OidKey(1))
	require.NoError(t, err)
	require.Contains(t, children, Any(OidKey(2)))

	// Reparent: forward mapping updates, old inverse entry disappears.
	tx3 := b.Begin()
	require.NoError(t, tx3.Update(RelObjectParent, OidKey(2), OidKey(9)))
	require.NoError(t, tx3.Commit())

	tx4 := b.Begin()
	childrenOfOld, _ := tx4.SeekByCodomain(RelObjectParent, OidKey(1))
	require.NotContains(t, childrenOfOld, Any(OidKey(2)))
	childrenOfNew, _ := tx4.SeekByCodomain(RelObjectParent, OidKey(9))
	require.Contains(t, childrenOfNew, Any(OidKey(2)))
}

func TestDuplicateInsertFails(t *testing.T) {
	b := newTestBox(t)
	tx := b.Begin()
	require.NoError(t, tx.Insert(RelObjectName, OidKey(1), "a"))
	require.ErrorIs(t, tx.Insert(RelObjectName, OidKey(1), "b"), ErrDuplicate)
	require.NoError(t, tx.Commit())
}

func TestUpdateMissingFails(t *testing.T) {
	b := newTestBox(t)
	tx := b.Begin()
	require.ErrorIs(t, tx.Update(RelObjectName, OidKey(99), "x"), ErrNotFound)
	tx.Rollback()
}

func TestRollbackDiscardsWrites(t *testing.T) {
	b := newTestBox(t)
	tx := b.Begin()
	require.NoError(t, tx.Insert(RelObjectName, OidKey(1), "a"))
	tx.Rollback()

	tx2 := b.Begin()
	_, err := tx2.SeekByDomain(RelObjectName, OidKey(1))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSequences(t *testing.T) {
	b := newTestBox(t)
	require.EqualValues(t, 0, b.Current("oid"))
	require.EqualValues(t, 1, b.Next("oid"))
	require.EqualValues(t, 2, b.Next("oid"))
	require.EqualValues(t, 2, b.Current("oid"))
	b.UpdateMax("oid", 10)
	require.EqualValues(t, 10, b.Current("oid"))
	b.UpdateMax("oid", 3) // lower value never regresses the sequence
	require.EqualValues(t, 10, b.Current("oid"))
}

func TestDurableCommitSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	walDir := dir + "/wal"
	pagesDir := dir + "/pages"

	b, err := New(Options{WALDir: walDir})
	require.NoError(t, err)

	tx := b.Begin()
	require.NoError(t, tx.Insert(RelObjectName, OidKey(1), "persisted"))
	require.NoError(t, tx.Commit())
	require.NoError(t, b.Close())

	b2, err := New(Options{WALDir: walDir})
	require.NoError(t, err)
	truncated, err := b2.Recover(pagesDir, walDir)
	require.NoError(t, err)
	require.False(t, truncated)

	tx2 := b2.Begin()
	v, err := tx2.SeekByDomain(RelObjectName, OidKey(1))
	require.NoError(t, err)
	require.Equal(t, "persisted", v)
}

func TestCheckpointThenRecover(t *testing.T) {
	dir := t.TempDir()
	walDir := dir + "/wal"
	pagesDir := dir + "/pages"

	b, err := New(Options{WALDir: walDir})
	require.NoError(t, err)

	tx := b.Begin()
	require.NoError(t, tx.Insert(RelObjectName, OidKey(1), "checkpointed"))
	require.NoError(t, tx.Commit())
	require.NoError(t, b.Checkpoint(pagesDir))
	require.NoError(t, b.Close())

	entries, err := os.ReadDir(pagesDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	b2, err := New(Options{WALDir: walDir})
	require.NoError(t, err)
	_, err = b2.Recover(pagesDir, walDir)
	require.NoError(t, err)

	tx2 := b2.Begin()
	v, err := tx2.SeekByDomain(RelObjectName, OidKey(1))
	require.NoError(t, err)
	require.Equal(t, "checkpointed", v)
}
