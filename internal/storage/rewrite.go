package storage

import "encoding/binary"

// cellLength parses the cell starting at data and returns only the
// number of bytes it occupies, dispatching on the page's type.
func cellLength(p *Page, data []byte) (int, error) {
	switch p.header.Type {
	case PageTypeLeafTable:
		_, n, err := ParseLeafTableCell(data, p.usable)
		return n, err
	case PageTypeInteriorTable:
		_, n, err := ParseInteriorTableCell(data)
		return n, err
	case PageTypeLeafIndex:
		_, n, err := ParseLeafIndexCell(data, p.usable)
		return n, err
	case PageTypeInteriorIndex:
		_, n, err := ParseInteriorIndexCell(data, p.usable)
		return n, err
	default:
		return 0, newCorruptPage(p.number, "unknown page type %d", p.header.Type)
	}
}

// TryInsertCell attempts to splice cellBytes into the page at cell
// index pos, shifting later pointers up by one slot. It reports false
// (without modifying the page) when there isn't enough contiguous free
// space; the caller should DefragmentPage and retry, or split.
func TryInsertCell(p *Page, pos int, cellBytes []byte) bool {
	need := len(cellBytes) + 2
	if p.FreeSpace() < need {
		return false
	}

	contentStart := int(p.header.CellContentStart)
	if contentStart == 0 {
		contentStart = 65536
	}
	newContentStart := contentStart - len(cellBytes)
	copy(p.data[newContentStart:], cellBytes)

	numCells := int(p.header.NumCells)
	ptrOff := p.cellPointerArrayOffset()
	for i := numCells; i > pos; i-- {
		v := binary.BigEndian.Uint16(p.data[ptrOff+2*(i-1):])
		binary.BigEndian.PutUint16(p.data[ptrOff+2*i:], v)
	}
	binary.BigEndian.PutUint16(p.data[ptrOff+2*pos:], uint16(newContentStart))

	p.header.NumCells++
	p.header.CellContentStart = uint16(newContentStart)
	p.dirty = true
	p.writeHeader()
	return true
}

// RemoveCell deletes the pos'th cell, closing the gap in the pointer
// array. The vacated content bytes are counted as fragmented rather
// than immediately reclaimed; DefragmentPage compacts them.
func RemoveCell(p *Page, pos int) error {
	numCells := int(p.header.NumCells)
	if pos < 0 || pos >= numCells {
		return newCorruptPage(p.number, "cell index %d out of range (numCells=%d)", pos, numCells)
	}

	length, err := cellLength(p, p.CellBytes(pos))
	if err != nil {
		return err
	}

	ptrOff := p.cellPointerArrayOffset()
	for i := pos; i < numCells-1; i++ {
		v := binary.BigEndian.Uint16(p.data[ptrOff+2*(i+1):])
		binary.BigEndian.PutUint16(p.data[ptrOff+2*i:], v)
	}

	p.header.NumCells--
	frag := int(p.header.FragmentedFreeBytes) + length
	if frag > 255 {
		// More than a byte can track; DefragmentPage will reclaim the
		// rest next time the page is packed. Clamping here just means
		// TotalFreeSpace() under-reports until then.
		frag = 255
	}
	p.header.FragmentedFreeBytes = byte(frag)
	p.dirty = true
	p.writeHeader()
	return nil
}

// DefragmentPage repacks every live cell against the end of the usable
// area in its current order, eliminating fragmentation and any gap
// left by prior RemoveCell calls. It does not maintain SQLite's
// freeblock chain; a full repack is simpler and this engine never
// needs partial in-place reuse of a single freed cell's slot.
func DefragmentPage(p *Page) error {
	numCells := int(p.header.NumCells)
	cells := make([][]byte, numCells)
	for i := 0; i < numCells; i++ {
		length, err := cellLength(p, p.CellBytes(i))
		if err != nil {
			return err
		}
		buf := make([]byte, length)
		copy(buf, p.CellBytes(i)[:length])
		cells[i] = buf
	}

	ptrOff := p.cellPointerArrayOffset()
	contentStart := p.usable
	for i, c := range cells {
		contentStart -= len(c)
		copy(p.data[contentStart:], c)
		binary.BigEndian.PutUint16(p.data[ptrOff+2*i:], uint16(contentStart))
	}

	for i := ptrOff + 2*numCells; i < contentStart; i++ {
		p.data[i] = 0
	}

	p.header.CellContentStart = uint16(contentStart)
	p.header.FirstFreeblock = 0
	p.header.FragmentedFreeBytes = 0
	p.dirty = true
	p.writeHeader()
	return nil
}

// fillPage lays cells out back-to-front against the usable boundary in
// order, assigning sequential pointer slots. Used to build a page from
// scratch (a fresh leaf, one half of a split, or a bulk-build leaf).
func fillPage(p *Page, cells [][]byte) error {
	n := len(cells)
	ptrOff := p.cellPointerArrayOffset()

	offsets := make([]int, n)
	contentStart := p.usable
	for i, c := range cells {
		contentStart -= len(c)
		offsets[i] = contentStart
	}
	if ptrOff+2*n > contentStart {
		return &OutOfSpaceError{Page: p.number}
	}

	for i, c := range cells {
		copy(p.data[offsets[i]:], c)
		binary.BigEndian.PutUint16(p.data[ptrOff+2*i:], uint16(offsets[i]))
	}

	p.header.NumCells = uint16(n)
	p.header.CellContentStart = uint16(contentStart)
	p.header.FirstFreeblock = 0
	p.header.FragmentedFreeBytes = 0
	p.dirty = true
	p.writeHeader()
	return nil
}

// BuildLeafPage constructs a fresh leaf page (table or index) from an
// ordered slice of already-serialized cells.
func BuildLeafPage(number int, pageType PageType, pageSize, usable int, cells [][]byte) (*Page, error) {
	if !pageType.IsLeaf() {
		return nil, newCorruptPage(number, "BuildLeafPage given non-leaf type %d", pageType)
	}
	p := newEmptyPage(number, pageType, pageSize, usable)
	if err := fillPage(p, cells); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildInteriorPage constructs a fresh interior page (table or index)
// from an ordered slice of separator cells plus the page's rightmost
// child pointer.
func BuildInteriorPage(number int, pageType PageType, pageSize, usable int, cells [][]byte, rightChild uint32) (*Page, error) {
	if !pageType.IsInterior() {
		return nil, newCorruptPage(number, "BuildInteriorPage given non-interior type %d", pageType)
	}
	p := newEmptyPage(number, pageType, pageSize, usable)
	p.header.RightChild = rightChild
	if err := fillPage(p, cells); err != nil {
		return nil, err
	}
	p.writeHeader()
	return p, nil
}
