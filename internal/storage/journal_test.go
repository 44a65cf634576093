package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournal_CrashRecovery_RestoresPreImages(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := CreateFile(path, 512)
	r.NoError(err)

	txn, err := db.Begin()
	r.NoError(err)
	mut := NewTableMutator(txn.Source(), 1)
	r.NoError(mut.Insert(1, []byte("hello"), false))
	r.NoError(txn.Commit())
	r.NoError(db.Close())

	// Start a second transaction, mutate, but never commit — simulating
	// a crash before the journal is removed.
	db2, err := OpenFile(path)
	r.NoError(err)
	txn2, err := db2.Begin()
	r.NoError(err)
	mut2 := NewTableMutator(txn2.Source(), 1)
	r.NoError(mut2.Insert(2, []byte("world"), false))
	r.NoError(txn2.src.inner.Flush())
	r.NoError(db2.cache.Close())

	r.FileExists(journalPath(path))

	db3, err := OpenFile(path)
	r.NoError(err)
	defer db3.Close()

	r.NoFileExists(journalPath(path))

	cur, err := NewTableCursor(db3.cache, 1)
	r.NoError(err)
	r.True(cur.Valid())
	rowid, err := cur.RowID()
	r.NoError(err)
	r.Equal(int64(1), rowid)
	r.NoError(cur.MoveNext())
	r.False(cur.Valid())
}

func TestJournal_TornTailIsTolerated(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "torn.db")

	j, err := CreateJournal(path)
	r.NoError(err)
	r.NoError(j.RecordPreImage(1, make([]byte, 512)))

	// Simulate a crash mid-write of a second record: append a partial
	// header with no matching body.
	_, err = j.f.Write([]byte{0, 0, 0, 2, 0, 0})
	r.NoError(err)
	r.NoError(j.f.Close())

	src := newMemorySourceWithPages(1, 512)
	recovered, err := RecoverJournal(path, newPageCache(src, 8))
	r.NoError(err)
	r.True(recovered)
	r.NoFileExists(journalPath(path))
	_ = os.Remove
}

func newMemorySourceWithPages(count, pageSize int) *memorySource {
	s := newMemorySource(pageSize, 0)
	_ = s.growTo(count)
	return s
}
