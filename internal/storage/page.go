package storage

import "encoding/binary"

// PageType identifies which of the four B-tree page kinds (or the
// distinguished overflow kind, which carries no type byte) a page
// holds.
type PageType byte

const (
	PageTypeInteriorIndex PageType = 0x02
	PageTypeInteriorTable PageType = 0x05
	PageTypeLeafIndex     PageType = 0x0A
	PageTypeLeafTable     PageType = 0x0D
)

// IsLeaf reports whether t is one of the two leaf page kinds.
func (t PageType) IsLeaf() bool {
	return t == PageTypeLeafTable || t == PageTypeLeafIndex
}

// IsInterior reports whether t is one of the two interior page kinds.
func (t PageType) IsInterior() bool {
	return t == PageTypeInteriorTable || t == PageTypeInteriorIndex
}

// IsTable reports whether t belongs to a rowid-keyed table B-tree.
func (t PageType) IsTable() bool {
	return t == PageTypeLeafTable || t == PageTypeInteriorTable
}

// IsIndex reports whether t belongs to a record-keyed index B-tree.
func (t PageType) IsIndex() bool {
	return t == PageTypeLeafIndex || t == PageTypeInteriorIndex
}

// Header sizes, in bytes, for each SQLite B-tree page layout.
const (
	LeafHeaderLen     = 8
	InteriorHeaderLen = 12
)

func headerLenFor(t PageType) int {
	if t.IsInterior() {
		return InteriorHeaderLen
	}
	return LeafHeaderLen
}

// headerOffset returns the byte offset within a page's raw buffer at
// which the B-tree page header begins: 100 for page 1 (after the
// database file header), 0 for every other page.
func headerOffset(pageNumber int) int {
	if pageNumber == 1 {
		return 100
	}
	return 0
}

// PageHeader is the 8- or 12-byte B-tree page header immediately
// following the (possible) 100-byte file header.
type PageHeader struct {
	Type                PageType
	FirstFreeblock      uint16
	NumCells            uint16
	CellContentStart    uint16
	FragmentedFreeBytes byte
	RightChild          uint32 // interior pages only
}

// Page is an in-memory, mutable view of one fixed-size database page.
// It owns its backing buffer; callers that need a snapshot independent
// of future in-place edits should copy Data().
type Page struct {
	number int
	data   []byte
	usable int
	header PageHeader
	dirty  bool
}

// newPageFromBytes parses header fields out of data (which must be
// exactly the page's raw on-disk bytes, including the 100-byte file
// header prefix on page 1) and returns a Page wrapping it.
func newPageFromBytes(number int, data []byte, usable int) (*Page, error) {
	off := headerOffset(number)
	if off+LeafHeaderLen > len(data) {
		return nil, newCorruptPage(number, "page too small for a header")
	}

	h := PageHeader{
		Type:                PageType(data[off]),
		FirstFreeblock:      binary.BigEndian.Uint16(data[off+1:]),
		NumCells:            binary.BigEndian.Uint16(data[off+3:]),
		CellContentStart:    binary.BigEndian.Uint16(data[off+5:]),
		FragmentedFreeBytes: data[off+7],
	}
	if h.Type.IsInterior() {
		if off+InteriorHeaderLen > len(data) {
			return nil, newCorruptPage(number, "interior page too small for a header")
		}
		h.RightChild = binary.BigEndian.Uint32(data[off+8:])
	}

	return &Page{number: number, data: data, usable: usable, header: h}, nil
}

// newEmptyPage allocates a zeroed page buffer of the given kind.
func newEmptyPage(number int, pageType PageType, pageSize, usable int) *Page {
	data := make([]byte, pageSize)
	p := &Page{
		number: number,
		data:   data,
		usable: usable,
		header: PageHeader{Type: pageType, CellContentStart: uint16(usable)},
		dirty:  true,
	}
	p.writeHeader()
	return p
}

// Number returns the 1-based page number.
func (p *Page) Number() int { return p.number }

// Data returns the raw page buffer, header included. Callers must not
// retain it past a cache invalidation; use Clone for an owned copy.
func (p *Page) Data() []byte { return p.data }

// Usable returns U, the usable page size (page size minus reserved
// bytes).
func (p *Page) Usable() int { return p.usable }

// Dirty reports whether the page has been modified since it was last
// read from or written to its page source.
func (p *Page) Dirty() bool { return p.dirty }

// MarkClean clears the dirty flag, used by the pager after a
// successful flush.
func (p *Page) MarkClean() { p.dirty = false }

// Header returns the parsed page header.
func (p *Page) Header() PageHeader { return p.header }

// SetHeader replaces the page header and marks the page dirty.
func (p *Page) SetHeader(h PageHeader) {
	p.header = h
	p.dirty = true
	p.writeHeader()
}

// Clone returns an owned deep copy of the page, for cursors or
// callers that must survive cache eviction or further mutation of the
// original.
func (p *Page) Clone() *Page {
	data := make([]byte, len(p.data))
	copy(data, p.data)
	return &Page{number: p.number, data: data, usable: p.usable, header: p.header}
}

func (p *Page) writeHeader() {
	off := headerOffset(p.number)
	h := p.data[off:]
	h[0] = byte(p.header.Type)
	binary.BigEndian.PutUint16(h[1:], p.header.FirstFreeblock)
	binary.BigEndian.PutUint16(h[3:], p.header.NumCells)
	binary.BigEndian.PutUint16(h[5:], p.header.CellContentStart)
	h[7] = p.header.FragmentedFreeBytes
	if p.header.Type.IsInterior() {
		binary.BigEndian.PutUint32(h[8:], p.header.RightChild)
	}
}

// cellPointerArrayOffset is the byte offset at which the 2-byte cell
// pointer array begins.
func (p *Page) cellPointerArrayOffset() int {
	return headerOffset(p.number) + headerLenFor(p.header.Type)
}

// CellPointer returns the i'th cell pointer (0-based).
func (p *Page) CellPointer(i int) uint16 {
	off := p.cellPointerArrayOffset() + 2*i
	return binary.BigEndian.Uint16(p.data[off:])
}

// setCellPointer writes the i'th cell pointer slot. It does not shift
// other pointers or update NumCells; callers (rewrite.go) own that.
func (p *Page) setCellPointer(i int, v uint16) {
	off := p.cellPointerArrayOffset() + 2*i
	binary.BigEndian.PutUint16(p.data[off:], v)
	p.dirty = true
}

// CellBytes returns the raw cell bytes starting at the i'th cell
// pointer. The caller is responsible for knowing how many bytes the
// cell layout actually occupies (cell.go's parse functions do this by
// reading through a bytes.Reader positioned here).
func (p *Page) CellBytes(i int) []byte {
	off := int(p.CellPointer(i))
	return p.data[off:]
}

// freeSpaceStart is the first byte past the cell pointer array, i.e.
// where a new pointer would be appended.
func (p *Page) freeSpaceStart() int {
	return p.cellPointerArrayOffset() + 2*int(p.header.NumCells)
}

// FreeSpace returns the number of contiguous bytes available for a new
// cell plus its pointer, not counting fragmented bytes that
// DefragmentPage could reclaim.
func (p *Page) FreeSpace() int {
	contentStart := int(p.header.CellContentStart)
	if contentStart == 0 {
		contentStart = 65536
	}
	return contentStart - p.freeSpaceStart()
}

// TotalFreeSpace returns FreeSpace plus reclaimable fragmented bytes
// (what would be available after a DefragmentPage).
func (p *Page) TotalFreeSpace() int {
	return p.FreeSpace() + int(p.header.FragmentedFreeBytes)
}
