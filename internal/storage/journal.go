package storage

import (
	"encoding/binary"
	"hash/crc64"
	"io"
	"os"
)

var journalCrcTable = crc64.MakeTable(crc64.ISO)

// Journal is an append-only rollback journal: before a transaction
// overwrites a page for the first time, it records that page's
// pre-image here. A crash before Commit leaves the journal on disk,
// and RecoverJournal replays it back over the database the next time
// it is opened, restoring the pre-transaction state.
type Journal struct {
	path     string
	f        *os.File
	recorded map[int]bool
}

func journalPath(dbPath string) string {
	return dbPath + "-journal"
}

// CreateJournal starts a new rollback journal for dbPath. It fails if
// one already exists, which would mean a prior crash wasn't recovered.
func CreateJournal(dbPath string) (*Journal, error) {
	f, err := os.OpenFile(journalPath(dbPath), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &JournalFailureError{Reason: "create", Err: err}
	}
	return &Journal{path: journalPath(dbPath), f: f, recorded: make(map[int]bool)}, nil
}

// RecordPreImage appends pageNumber's pre-image, unless this
// transaction has already recorded one for that page (only the first
// write to a page needs its pre-image saved).
func (j *Journal) RecordPreImage(pageNumber int, preImage []byte) error {
	if j.recorded[pageNumber] {
		return nil
	}

	var header [16]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(pageNumber))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(preImage)))
	binary.BigEndian.PutUint64(header[8:16], crc64.Checksum(preImage, journalCrcTable))

	if _, err := j.f.Write(header[:]); err != nil {
		return &JournalFailureError{Reason: "append record header", Err: err}
	}
	if _, err := j.f.Write(preImage); err != nil {
		return &JournalFailureError{Reason: "append pre-image", Err: err}
	}
	j.recorded[pageNumber] = true
	return nil
}

// Sync fsyncs the journal file so every pre-image recorded so far is
// durable. This must happen before the database's own dirty pages are
// flushed: once a post-image page is durable on disk, the journal is
// the only thing that can still undo it, so the journal has to hit
// disk first.
func (j *Journal) Sync() error {
	if err := j.f.Sync(); err != nil {
		return &JournalFailureError{Reason: "fsync before commit", Err: err}
	}
	return nil
}

// Commit deletes the journal file, finalizing the transaction — the
// presence of the journal file is what recovery uses to decide whether
// the last transaction completed. Callers must call Sync and flush the
// database's dirty pages before calling Commit.
func (j *Journal) Commit() error {
	path := j.path
	if err := j.f.Close(); err != nil {
		return &JournalFailureError{Reason: "close", Err: err}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &JournalFailureError{Reason: "remove", Err: err}
	}
	return nil
}

// Rollback replays this transaction's own recorded pre-images back
// onto src (undoing every write made so far) and discards the
// journal.
func (j *Journal) Rollback(src PageSource) error {
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return &JournalFailureError{Reason: "seek for rollback", Err: err}
	}
	if err := replayJournal(j.f, src); err != nil {
		return err
	}
	if err := src.Flush(); err != nil {
		return err
	}
	path := j.path
	if err := j.f.Close(); err != nil {
		return &JournalFailureError{Reason: "close", Err: err}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &JournalFailureError{Reason: "remove", Err: err}
	}
	return nil
}

// RecoverJournal is called once when a database file is opened. If a
// journal from an uncommitted transaction is present, it replays the
// pre-images it holds back over the database and removes it,
// restoring the state the database was in before that transaction
// began.
func RecoverJournal(dbPath string, src PageSource) (bool, error) {
	path := journalPath(dbPath)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &JournalFailureError{Reason: "open for recovery", Err: err}
	}
	defer f.Close()

	if err := replayJournal(f, src); err != nil {
		return false, err
	}
	if err := src.Flush(); err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, &JournalFailureError{Reason: "remove after recovery", Err: err}
	}
	return true, nil
}

// replayJournal reads (page_number, pre_image) records from r and
// writes each pre-image back onto src. A record whose checksum fails,
// or a header/body cut short, marks the tail of a journal that was
// only partially written before a crash; replay stops there rather
// than erroring, since everything up to that point is still a valid,
// complete set of pre-images.
func replayJournal(r io.Reader, src PageSource) error {
	var header [16]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil
		}
		pageNumber := int(binary.BigEndian.Uint32(header[0:4]))
		length := int(binary.BigEndian.Uint32(header[4:8]))
		wantCrc := binary.BigEndian.Uint64(header[8:16])

		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil
		}
		if crc64.Checksum(data, journalCrcTable) != wantCrc {
			return nil
		}

		p, err := newPageFromBytes(pageNumber, data, src.Usable())
		if err != nil {
			return err
		}
		p.dirty = true
		if err := src.WritePage(p); err != nil {
			return err
		}
	}
}
