package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransaction_CommitPersistsAcrossReopen(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "commit.db")

	db, err := CreateFile(path, 512)
	r.NoError(err)

	txn, err := db.Begin()
	r.NoError(err)
	mut := NewTableMutator(txn.Source(), 1)
	r.NoError(mut.Insert(1, []byte("hello"), false))
	r.NoError(txn.Commit())
	r.NoError(db.Close())

	r.NoFileExists(journalPath(path))

	reopened, err := OpenFile(path)
	r.NoError(err)
	defer reopened.Close()

	cur, err := NewTableCursor(reopened.cache, 1)
	r.NoError(err)
	r.True(cur.Valid())
	payload, err := cur.Payload()
	r.NoError(err)
	r.Equal("hello", string(payload))
}

func TestTransaction_RollbackUndoesWrites(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "rollback.db")

	db, err := CreateFile(path, 512)
	r.NoError(err)
	defer db.Close()

	txn, err := db.Begin()
	r.NoError(err)
	mut := NewTableMutator(txn.Source(), 1)
	r.NoError(mut.Insert(1, []byte("hello"), false))
	r.NoError(txn.Rollback())

	cur, err := NewTableCursor(db.cache, 1)
	r.NoError(err)
	r.False(cur.Valid())
}

func TestTransaction_BeginSerializesWriters(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "serial.db")

	db, err := CreateFile(path, 512)
	r.NoError(err)
	defer db.Close()

	txn, err := db.Begin()
	r.NoError(err)

	unblocked := make(chan struct{})
	go func() {
		txn2, err := db.Begin()
		if err == nil {
			_ = txn2.Commit()
		}
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("second Begin should have blocked while the first transaction is open")
	case <-time.After(50 * time.Millisecond):
	}

	r.NoError(txn.Commit())
	<-unblocked
}
