package storage

import (
	"container/list"
	"io"
	"os"
	"sync"
)

// PageSource is the contract every B-tree, cursor, and mutator in this
// package is built against. GetPage returns a cached, shared view that
// must not be retained past the next call that could invalidate it;
// GetPageOwned returns an independent copy safe to hold across such
// calls (a cursor's "current leaf", for instance).
type PageSource interface {
	PageSize() int
	Usable() int
	PageCount() int
	GetPage(number int) (*Page, error)
	GetPageOwned(number int) (*Page, error)
	AllocatePage(pageType PageType) (*Page, error)
	WritePage(p *Page) error
	Invalidate(number int)
	DataVersion() uint64
	Flush() error
	Close() error

	// AllocateRaw, ReadRaw, and WriteRaw bypass the B-tree page header
	// entirely, for overflow pages, whose only structure is a 4-byte
	// next-pointer.
	AllocateRaw() (int, error)
	ReadRaw(number int) ([]byte, error)
	WriteRaw(number int, data []byte) error
}

// rawSource is the minimal block-device abstraction a pageCache wraps.
// fileSource and memorySource both implement it.
type rawSource interface {
	pageSize() int
	usable() int
	pageCount() int
	readPage(number int) ([]byte, error)
	writePage(number int, data []byte) error
	growTo(newCount int) error
	sync() error
	close() error
}

// fileSource backs a PageSource with an *os.File holding a SQLite-format
// database file.
type fileSource struct {
	f        *os.File
	pgSize   int
	usableSz int
	count    int
}

// openFileSource opens an existing database file and reads its
// 100-byte header to determine page size and reserved bytes.
func openFileSource(path string) (*fileSource, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrapIO("open", err)
	}

	header := make([]byte, 100)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, wrapIO("read file header", err)
	}

	pgSize := int(header[16])<<8 | int(header[17])
	if pgSize == 1 {
		pgSize = 65536
	}
	reserved := int(header[20])

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapIO("stat", err)
	}

	return &fileSource{f: f, pgSize: pgSize, usableSz: pgSize - reserved, count: int(info.Size()) / pgSize}, nil
}

// createFileSource creates a brand-new database file sized to one
// zeroed page of the given page size; CreateFile writes the file header
// and the leaf-table root into that page.
func createFileSource(path string, pageSize, reserved int) (*fileSource, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, wrapIO("create", err)
	}

	fs := &fileSource{f: f, pgSize: pageSize, usableSz: pageSize - reserved, count: 0}
	if err := fs.growTo(1); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (s *fileSource) pageSize() int { return s.pgSize }
func (s *fileSource) usable() int   { return s.usableSz }
func (s *fileSource) pageCount() int { return s.count }

func (s *fileSource) readPage(number int) ([]byte, error) {
	buf := make([]byte, s.pgSize)
	off := int64(number-1) * int64(s.pgSize)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, wrapIO("read page", err)
	}
	return buf, nil
}

func (s *fileSource) writePage(number int, data []byte) error {
	off := int64(number-1) * int64(s.pgSize)
	if _, err := s.f.WriteAt(data, off); err != nil {
		return wrapIO("write page", err)
	}
	if number > s.count {
		s.count = number
	}
	return nil
}

func (s *fileSource) growTo(newCount int) error {
	if newCount <= s.count {
		return nil
	}
	if err := s.f.Truncate(int64(newCount) * int64(s.pgSize)); err != nil {
		return wrapIO("truncate", err)
	}
	s.count = newCount
	return nil
}

func (s *fileSource) sync() error {
	return wrapIO("fsync", s.f.Sync())
}

func (s *fileSource) close() error {
	return wrapIO("close", s.f.Close())
}

// memorySource is an in-memory rawSource, used by tests and by
// transient/scratch databases that never hit disk.
type memorySource struct {
	pgSize   int
	usableSz int
	pages    [][]byte
}

func newMemorySource(pageSize, reserved int) *memorySource {
	return &memorySource{pgSize: pageSize, usableSz: pageSize - reserved}
}

func (s *memorySource) pageSize() int  { return s.pgSize }
func (s *memorySource) usable() int    { return s.usableSz }
func (s *memorySource) pageCount() int { return len(s.pages) }

func (s *memorySource) readPage(number int) ([]byte, error) {
	if number < 1 || number > len(s.pages) {
		return nil, newCorruptPage(number, "page number out of range (count=%d)", len(s.pages))
	}
	return s.pages[number-1], nil
}

func (s *memorySource) writePage(number int, data []byte) error {
	if number < 1 {
		return newCorruptPage(number, "page number must be >= 1")
	}
	if err := s.growTo(number); err != nil {
		return err
	}
	buf := make([]byte, s.pgSize)
	copy(buf, data)
	s.pages[number-1] = buf
	return nil
}

func (s *memorySource) growTo(newCount int) error {
	for len(s.pages) < newCount {
		s.pages = append(s.pages, make([]byte, s.pgSize))
	}
	return nil
}

func (s *memorySource) sync() error  { return nil }
func (s *memorySource) close() error { return nil }

// pageCache wraps a rawSource with a bounded LRU of decoded *Page
// values plus a monotonic DataVersion counter, satisfying the
// zero-copy-borrow / owned-snapshot contract every cursor and mutator
// in this package relies on. A generic off-the-shelf LRU (keyed on
// interface{}, no notion of a dirty flag or a version stamp tied to
// invalidation) doesn't fit that contract, so this is hand-rolled atop
// container/list the way the rest of the B-tree machinery is.
type pageCache struct {
	mu      sync.Mutex
	src     rawSource
	cap     int
	ll      *list.List
	entries map[int]*list.Element
	version uint64
}

type cacheEntry struct {
	number int
	page   *Page
}

func newPageCache(src rawSource, capacity int) *pageCache {
	return &pageCache{src: src, cap: capacity, ll: list.New(), entries: make(map[int]*list.Element)}
}

func (c *pageCache) PageSize() int   { return c.src.pageSize() }
func (c *pageCache) Usable() int     { return c.src.usable() }
func (c *pageCache) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src.pageCount()
}

func (c *pageCache) DataVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// GetPage returns a cached, shared *Page. Callers must not mutate it
// directly except through WritePage, and must not retain it past a
// call that could evict or invalidate it.
func (c *pageCache) GetPage(number int) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(number)
}

// GetPageOwned returns an independent clone safe to hold indefinitely.
func (c *pageCache) GetPageOwned(number int) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.getLocked(number)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (c *pageCache) getLocked(number int) (*Page, error) {
	if el, ok := c.entries[number]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*cacheEntry).page, nil
	}

	raw, err := c.src.readPage(number)
	if err != nil {
		return nil, err
	}
	p, err := newPageFromBytes(number, raw, c.src.usable())
	if err != nil {
		return nil, err
	}

	c.insertLocked(number, p)
	return p, nil
}

func (c *pageCache) insertLocked(number int, p *Page) {
	el := c.ll.PushFront(&cacheEntry{number: number, page: p})
	c.entries[number] = el
	if c.cap > 0 {
		for c.ll.Len() > c.cap {
			back := c.ll.Back()
			if back == nil {
				break
			}
			evicted := back.Value.(*cacheEntry)
			if evicted.page.Dirty() {
				// never evict dirty pages silently; move to front and
				// stop instead so Flush is the only thing that clears
				// dirty state
				c.ll.MoveToFront(back)
				break
			}
			c.ll.Remove(back)
			delete(c.entries, evicted.number)
		}
	}
}

// AllocatePage grows the source by one page and returns a fresh, dirty
// Page of the given type ready to be populated by BuildLeafPage/
// BuildInteriorPage or fillPage. Page numbers are handed out
// monotonically and never reused, even after a page becomes logically
// free — a minimal freelist policy, sufficient for this engine's scope.
func (c *pageCache) AllocatePage(pageType PageType) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	number := c.src.pageCount() + 1
	if err := c.src.growTo(number); err != nil {
		return nil, err
	}
	p := newEmptyPage(number, pageType, c.src.pageSize(), c.src.usable())
	c.insertLocked(number, p)
	c.version++
	return p, nil
}

// WritePage marks p dirty in the cache and bumps DataVersion so any
// cursor holding an older snapshot notices staleness on its next read.
func (c *pageCache) WritePage(p *Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p.dirty = true
	if el, ok := c.entries[p.number]; ok {
		el.Value.(*cacheEntry).page = p
		c.ll.MoveToFront(el)
	} else {
		c.insertLocked(p.number, p)
	}
	c.version++
	return nil
}

// Invalidate drops number from the cache, forcing the next GetPage to
// re-read it from the source, and bumps DataVersion.
func (c *pageCache) Invalidate(number int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[number]; ok {
		c.ll.Remove(el)
		delete(c.entries, number)
	}
	c.version++
}

// Flush writes every dirty page back to the source and fsyncs it.
func (c *pageCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.ll.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		if !entry.page.Dirty() {
			continue
		}
		if err := c.src.writePage(entry.number, entry.page.Data()); err != nil {
			return err
		}
		entry.page.MarkClean()
	}
	return c.src.sync()
}

// AllocateRaw grows the source by one page and returns its number
// without imposing any B-tree page structure on it.
func (c *pageCache) AllocateRaw() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	number := c.src.pageCount() + 1
	if err := c.src.growTo(number); err != nil {
		return 0, err
	}
	c.version++
	return number, nil
}

// ReadRaw returns number's raw bytes, preferring a cached copy if the
// page also happens to have a decoded *Page entry.
func (c *pageCache) ReadRaw(number int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[number]; ok {
		return el.Value.(*cacheEntry).page.Data(), nil
	}
	return c.src.readPage(number)
}

// WriteRaw writes raw bytes for number and drops any decoded *Page
// cache entry for it, since the two would otherwise disagree.
func (c *pageCache) WriteRaw(number int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[number]; ok {
		c.ll.Remove(el)
		delete(c.entries, number)
	}
	if err := c.src.writePage(number, data); err != nil {
		return err
	}
	c.version++
	return nil
}

func (c *pageCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src.close()
}
