package storage

import "fmt"

// CorruptPageError indicates a page failed a structural sanity check:
// a malformed header, an out-of-range pointer, an overflow cycle, a cell
// extent outside the page, the wrong page type, or a missing varint
// terminator.
type CorruptPageError struct {
	Page   int
	Reason string
}

func (e *CorruptPageError) Error() string {
	return fmt.Sprintf("corrupt page %d: %s", e.Page, e.Reason)
}

func newCorruptPage(page int, reason string, args ...interface{}) error {
	return &CorruptPageError{Page: page, Reason: fmt.Sprintf(reason, args...)}
}

// CorruptRecordError indicates a row payload's serial types are
// inconsistent with its header length, a body ran short, or a serial
// type code isn't one the decoder understands.
type CorruptRecordError struct {
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record: %s", e.Reason)
}

func newCorruptRecord(reason string, args ...interface{}) error {
	return &CorruptRecordError{Reason: fmt.Sprintf(reason, args...)}
}

// OutOfSpaceError is raised internally when a page rewrite can't fit a
// cell. A mutator catches it and performs a split; it should only ever
// reach a caller if the backing file itself cannot be extended.
type OutOfSpaceError struct {
	Page int
}

func (e *OutOfSpaceError) Error() string {
	return fmt.Sprintf("out of space on page %d", e.Page)
}

// DuplicateRowIDError is returned by TableMutator.Insert when the rowid
// already exists and the caller did not request an overwrite.
type DuplicateRowIDError struct {
	RowID int64
}

func (e *DuplicateRowIDError) Error() string {
	return fmt.Sprintf("duplicate rowid %d", e.RowID)
}

// IoFailureError wraps a failed read, write, fsync, or truncate.
type IoFailureError struct {
	Op  string
	Err error
}

func (e *IoFailureError) Error() string {
	return fmt.Sprintf("io failure during %s: %v", e.Op, e.Err)
}

func (e *IoFailureError) Unwrap() error {
	return e.Err
}

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoFailureError{Op: op, Err: err}
}

// JournalFailureError indicates the rollback journal could not be
// opened, extended, or written; the transaction that raised it must
// abort.
type JournalFailureError struct {
	Reason string
	Err    error
}

func (e *JournalFailureError) Error() string {
	return fmt.Sprintf("journal failure: %s: %v", e.Reason, e.Err)
}

func (e *JournalFailureError) Unwrap() error {
	return e.Err
}

// ErrNotFound is returned by Seek/Delete when no matching key exists.
// It is informational, not an aborting error.
var ErrNotFound = fmt.Errorf("not found")

// ErrStale is returned by a cursor that observed its page source's
// DataVersion change since the cursor captured its snapshot version.
var ErrStale = fmt.Errorf("cursor is stale")
