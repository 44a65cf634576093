package storage

import "sync"

const defaultCacheCapacity = 256

// Database owns a page cache and serializes writers, mirroring
// SQLite's single-rollback-journal-at-a-time model: only one
// transaction may be in flight, though any number of cursors can read
// the shared cache concurrently. The cache holds every page written so
// far, so those cursors also see pages an open transaction has written
// but not yet committed.
type Database struct {
	path  string
	cache *pageCache
	mu    sync.Mutex
}

// OpenFile opens an existing database file, first replaying any
// leftover rollback journal from a transaction that crashed before
// committing.
func OpenFile(path string) (*Database, error) {
	fs, err := openFileSource(path)
	if err != nil {
		return nil, err
	}
	cache := newPageCache(fs, defaultCacheCapacity)

	recovered, err := RecoverJournal(path, cache)
	if err != nil {
		return nil, err
	}
	if recovered {
		defaultLog.WithField("path", path).Warn("replayed rollback journal from an interrupted transaction")
	}

	return &Database{path: path, cache: cache}, nil
}

// CreateFile creates a new database file with a single empty
// leaf-table root page at page 1.
func CreateFile(path string, pageSize int) (*Database, error) {
	fs, err := createFileSource(path, pageSize, 0)
	if err != nil {
		return nil, err
	}
	cache := newPageCache(fs, defaultCacheCapacity)

	root := newEmptyPage(1, PageTypeLeafTable, pageSize, pageSize)
	// Page 1 starts with the 100-byte file header; openFileSource reads
	// the page size back from bytes 16-17 (where 1 stands for 65536).
	hdr := root.Data()
	copy(hdr[0:16], "SQLite format 3\x00")
	sizeField := pageSize
	if sizeField == 65536 {
		sizeField = 1
	}
	hdr[16], hdr[17] = byte(sizeField>>8), byte(sizeField)
	if err := cache.WritePage(root); err != nil {
		return nil, err
	}
	if err := cache.Flush(); err != nil {
		return nil, err
	}
	return &Database{path: path, cache: cache}, nil
}

// OpenMemory creates a non-durable, in-memory database. It skips
// journaling entirely: there's no on-disk state for a crash to corrupt,
// so Transaction.Rollback on a memory database cannot undo writes
// already applied to the cache.
func OpenMemory(pageSize int) *Database {
	src := newMemorySource(pageSize, 0)
	cache := newPageCache(src, defaultCacheCapacity)
	root := newEmptyPage(1, PageTypeLeafTable, pageSize, pageSize)
	_ = cache.WritePage(root)
	return &Database{cache: cache}
}

// Close releases the database's underlying file handle, if any. It
// does not flush dirty pages; Transaction.Commit is what writes them.
func (db *Database) Close() error {
	return db.cache.Close()
}

// journaledSource wraps a *pageCache so that the first write to any
// page during a transaction records that page's pre-image to the
// transaction's Journal before the write lands.
type journaledSource struct {
	inner   *pageCache
	journal *Journal
}

func (j *journaledSource) PageSize() int     { return j.inner.PageSize() }
func (j *journaledSource) Usable() int       { return j.inner.Usable() }
func (j *journaledSource) PageCount() int    { return j.inner.PageCount() }
func (j *journaledSource) DataVersion() uint64 { return j.inner.DataVersion() }
func (j *journaledSource) Invalidate(n int)  { j.inner.Invalidate(n) }
func (j *journaledSource) Flush() error      { return j.inner.Flush() }
func (j *journaledSource) Close() error      { return j.inner.Close() }

func (j *journaledSource) GetPage(n int) (*Page, error)      { return j.inner.GetPage(n) }
func (j *journaledSource) GetPageOwned(n int) (*Page, error) { return j.inner.GetPageOwned(n) }

func (j *journaledSource) AllocatePage(t PageType) (*Page, error) {
	return j.inner.AllocatePage(t)
}

func (j *journaledSource) WritePage(p *Page) error {
	if err := j.recordPreImage(p.Number()); err != nil {
		return err
	}
	return j.inner.WritePage(p)
}

func (j *journaledSource) AllocateRaw() (int, error) { return j.inner.AllocateRaw() }
func (j *journaledSource) ReadRaw(n int) ([]byte, error) { return j.inner.ReadRaw(n) }

func (j *journaledSource) WriteRaw(n int, data []byte) error {
	if err := j.recordPreImage(n); err != nil {
		return err
	}
	return j.inner.WriteRaw(n, data)
}

func (j *journaledSource) recordPreImage(number int) error {
	if j.journal == nil {
		return nil
	}
	raw, err := j.inner.ReadRaw(number)
	if err != nil {
		return err
	}
	return j.journal.RecordPreImage(number, raw)
}

// Transaction is a single writer's view of a Database: every mutation
// made through its PageSource is journaled and undone on Rollback,
// made durable on Commit.
type Transaction struct {
	db      *Database
	src     *journaledSource
	journal *Journal
	done    bool
}

// Begin acquires the database's single writer slot and starts a new
// transaction. A file-backed database gets a rollback journal; an
// in-memory one (no backing path) does not.
func (db *Database) Begin() (*Transaction, error) {
	db.mu.Lock()

	var journal *Journal
	if db.path != "" {
		j, err := CreateJournal(db.path)
		if err != nil {
			db.mu.Unlock()
			return nil, err
		}
		journal = j
	}

	return &Transaction{
		db:      db,
		src:     &journaledSource{inner: db.cache, journal: journal},
		journal: journal,
	}, nil
}

// Source returns the PageSource every cursor, mutator, and scanner in
// this transaction should operate against.
func (t *Transaction) Source() PageSource { return t.src }

// Commit fsyncs the journal first, so every pre-image this transaction
// recorded is durable before any post-image page can become durable,
// then flushes and fsyncs the database's dirty pages, then removes the
// journal. A crash at any point before the journal fsync leaves the
// database in its pre-transaction state on reopen; a crash after it
// but before the database fsync leaves a journal that RecoverJournal
// can replay to get back to that same pre-transaction state.
func (t *Transaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.db.mu.Unlock()

	if t.journal != nil {
		if err := t.journal.Sync(); err != nil {
			return err
		}
	}
	if err := t.src.inner.Flush(); err != nil {
		return err
	}
	if t.journal != nil {
		return t.journal.Commit()
	}
	return nil
}

// Rollback undoes every write this transaction made by replaying its
// journal's pre-images, then discards the journal.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.db.mu.Unlock()

	if t.journal == nil {
		defaultLog.Warn("rollback on a non-journaled (in-memory) transaction cannot undo writes already applied")
		return nil
	}
	return t.journal.Rollback(t.src.inner)
}
