package storage

import "bytes"

func isNumericClass(c StorageClass) bool { return c == ClassIntegral || c == ClassReal }

func asFloat(v Value) float64 {
	if v.Kind == KindInteger {
		return float64(v.Int)
	}
	return v.Real
}

func compareNumeric(a, b Value) int {
	if a.Kind == KindInteger && b.Kind == KindInteger {
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	}
	fa, fb := asFloat(a), asFloat(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

// compareValues orders two column values by SQLite's BINARY collation:
// NULL < (INTEGER/REAL, compared numerically against each other) <
// TEXT (byte comparison) < BLOB (byte comparison).
func compareValues(a, b Value) int {
	ca, cb := a.StorageClass(), b.StorageClass()
	if ca != cb {
		if isNumericClass(ca) && isNumericClass(cb) {
			return compareNumeric(a, b)
		}
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case ClassNull:
		return 0
	case ClassIntegral, ClassReal:
		return compareNumeric(a, b)
	case ClassText:
		return bytes.Compare([]byte(a.Text), []byte(b.Text))
	case ClassBlob:
		return bytes.Compare(a.Blob, b.Blob)
	default:
		return 0
	}
}

// compareRecordKeys compares two decoded index keys column by column.
// Every index key this package builds carries the table rowid as its
// trailing column, which is what actually breaks ties between
// otherwise-equal keys — no special casing needed here beyond ordinary
// column-by-column comparison.
func compareRecordKeys(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// IndexCursor walks a record-keyed index B-tree in collated key order.
type IndexCursor struct {
	src     PageSource
	root    int
	stack   frameStack
	leaf    *Page
	leafIdx int
	valid   bool
	version uint64
}

// NewIndexCursor creates a cursor positioned at the first key of the
// index rooted at root.
func NewIndexCursor(src PageSource, root int) (*IndexCursor, error) {
	c := &IndexCursor{src: src, root: root, version: src.DataVersion()}
	if err := c.descendLeftmost(root); err != nil {
		return nil, err
	}
	if !c.valid {
		if err := c.advance(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *IndexCursor) IsStale() bool { return c.src.DataVersion() != c.version }
func (c *IndexCursor) Valid() bool   { return c.valid }

// Key decodes the current leaf cell's record into its column values.
// It returns ErrStale if the page source has been mutated since the
// cursor captured its snapshot, since the cached leaf's cell offsets
// and any overflow chain it points into are no longer guaranteed to
// still describe this key.
func (c *IndexCursor) Key() ([]Value, error) {
	if !c.valid {
		return nil, ErrNotFound
	}
	if c.IsStale() {
		return nil, ErrStale
	}
	return c.decodeLeafKey(c.leaf, c.leafIdx)
}

func (c *IndexCursor) MoveNext() error {
	if !c.valid {
		return ErrNotFound
	}
	c.leafIdx++
	if c.leafIdx < int(c.leaf.Header().NumCells) {
		return nil
	}
	return c.advance()
}

func (c *IndexCursor) MoveLast() error {
	c.stack.reset()
	return c.descendRightmost(c.root)
}

// Seek positions the cursor at the first key >= key, reporting whether
// an exact match was found.
func (c *IndexCursor) Seek(key []Value) (bool, error) {
	c.stack.reset()
	return c.seek(c.root, key)
}

func (c *IndexCursor) decodeLeafKey(p *Page, i int) ([]Value, error) {
	cell, _, err := ParseLeafIndexCell(p.CellBytes(i), p.Usable())
	if err != nil {
		return nil, err
	}
	payload, err := readPayload(c.src, cell.Inline, cell.OverflowPage, cell.PayloadSize)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(payload)
}

func (c *IndexCursor) decodeInteriorKey(p *Page, i int) ([]Value, error) {
	cell, _, err := ParseInteriorIndexCell(p.CellBytes(i), p.Usable())
	if err != nil {
		return nil, err
	}
	payload, err := readPayload(c.src, cell.Inline, cell.OverflowPage, cell.PayloadSize)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(payload)
}

func (c *IndexCursor) seek(page int, key []Value) (bool, error) {
	for {
		p, err := c.src.GetPage(page)
		if err != nil {
			return false, err
		}
		if p.Header().Type.IsLeaf() {
			n := int(p.Header().NumCells)
			lo, hi := 0, n
			for lo < hi {
				mid := (lo + hi) / 2
				k, err := c.decodeLeafKey(p, mid)
				if err != nil {
					return false, err
				}
				if compareRecordKeys(k, key) < 0 {
					lo = mid + 1
				} else {
					hi = mid
				}
			}
			c.leaf = p.Clone()
			c.leafIdx = lo
			c.valid = lo < n
			if !c.valid {
				return false, c.advance()
			}
			k, err := c.decodeLeafKey(p, lo)
			if err != nil {
				return false, err
			}
			return compareRecordKeys(k, key) == 0, nil
		}

		n := int(p.Header().NumCells)
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			k, err := c.decodeInteriorKey(p, mid)
			if err != nil {
				return false, err
			}
			if compareRecordKeys(k, key) < 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		c.stack.push(packFrame(page, lo))
		if lo == n {
			page = int(p.Header().RightChild)
			continue
		}
		cell, _, err := ParseInteriorIndexCell(p.CellBytes(lo), p.Usable())
		if err != nil {
			return false, err
		}
		page = int(cell.LeftChild)
	}
}

func (c *IndexCursor) descendLeftmost(page int) error {
	for {
		p, err := c.src.GetPage(page)
		if err != nil {
			return err
		}
		if p.Header().Type.IsLeaf() {
			c.leaf = p.Clone()
			c.leafIdx = 0
			c.valid = p.Header().NumCells > 0
			return nil
		}
		c.stack.push(packFrame(page, 0))
		if p.Header().NumCells == 0 {
			page = int(p.Header().RightChild)
			continue
		}
		cell, _, err := ParseInteriorIndexCell(p.CellBytes(0), p.Usable())
		if err != nil {
			return err
		}
		page = int(cell.LeftChild)
	}
}

func (c *IndexCursor) descendRightmost(page int) error {
	for {
		p, err := c.src.GetPage(page)
		if err != nil {
			return err
		}
		if p.Header().Type.IsLeaf() {
			n := int(p.Header().NumCells)
			c.leaf = p.Clone()
			c.leafIdx = n - 1
			c.valid = n > 0
			return nil
		}
		n := int(p.Header().NumCells)
		c.stack.push(packFrame(page, n))
		page = int(p.Header().RightChild)
	}
}

func (c *IndexCursor) advance() error {
	for {
		frame, ok := c.stack.pop()
		if !ok {
			c.valid = false
			return nil
		}
		page := frame.page()
		idx := frame.cellIndex()

		p, err := c.src.GetPage(page)
		if err != nil {
			return err
		}
		idx++
		if idx > int(p.Header().NumCells) {
			continue
		}
		c.stack.push(packFrame(page, idx))

		var child int
		if idx == int(p.Header().NumCells) {
			child = int(p.Header().RightChild)
		} else {
			cell, _, err := ParseInteriorIndexCell(p.CellBytes(idx), p.Usable())
			if err != nil {
				return err
			}
			child = int(cell.LeftChild)
		}
		if err := c.descendLeftmost(child); err != nil {
			return err
		}
		if c.valid {
			return nil
		}
	}
}

// IndexMutator inserts into and deletes from a record-keyed index
// B-tree. A leaf split copies its boundary key up into the new
// interior separator rather than removing it from the leaf — the same
// B+-tree discipline PopulateIndex's bulk builder uses — so every key
// stays reachable through a leaf-only cursor traversal. An interior
// split, by contrast, promotes an existing separator cell wholesale:
// that cell's routing is preserved through the split halves'
// LeftChild/RightChild pointers even though the cell itself is
// removed from the page, and interior cells are never read directly
// by a cursor.
type IndexMutator struct {
	src  PageSource
	root int
}

// NewIndexMutator returns a mutator for the index B-tree rooted at
// root.
func NewIndexMutator(src PageSource, root int) *IndexMutator {
	return &IndexMutator{src: src, root: root}
}

// Insert adds key (whose trailing column must be the owning row's
// rowid, guaranteeing every key is unique even for non-unique indexes)
// at its collated position.
func (m *IndexMutator) Insert(key []Value) error {
	payload := EncodeRecord(key)
	path, leafNum, pos, err := m.descendToLeaf(key)
	if err != nil {
		return err
	}
	leaf, err := m.src.GetPageOwned(leafNum)
	if err != nil {
		return err
	}

	inline, overflowPage, err := spillPayload(m.src, payload, indexInlineSize)
	if err != nil {
		return err
	}
	cellBytes := BuildLeafIndexCell(LeafIndexCell{PayloadSize: int64(len(payload)), Inline: inline, OverflowPage: overflowPage})

	if TryInsertCell(leaf, pos, cellBytes) {
		return m.src.WritePage(leaf)
	}
	if DefragmentPage(leaf) == nil && TryInsertCell(leaf, pos, cellBytes) {
		return m.src.WritePage(leaf)
	}
	return m.splitAndInsertLeaf(path, leaf, pos, cellBytes)
}

// Delete removes the exact key (rowid column included). It returns
// ErrNotFound if no such key exists.
func (m *IndexMutator) Delete(key []Value) error {
	_, leafNum, pos, err := m.descendToLeaf(key)
	if err != nil {
		return err
	}
	leaf, err := m.src.GetPageOwned(leafNum)
	if err != nil {
		return err
	}
	if pos >= int(leaf.Header().NumCells) {
		return ErrNotFound
	}
	k, err := m.decodeLeafKey(leaf, pos)
	if err != nil {
		return err
	}
	if compareRecordKeys(k, key) != 0 {
		return ErrNotFound
	}
	if err := RemoveCell(leaf, pos); err != nil {
		return err
	}
	return m.src.WritePage(leaf)
}

func (m *IndexMutator) decodeLeafKey(p *Page, i int) ([]Value, error) {
	cell, _, err := ParseLeafIndexCell(p.CellBytes(i), p.Usable())
	if err != nil {
		return nil, err
	}
	payload, err := readPayload(m.src, cell.Inline, cell.OverflowPage, cell.PayloadSize)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(payload)
}

func (m *IndexMutator) decodeInteriorKey(p *Page, i int) ([]Value, error) {
	cell, _, err := ParseInteriorIndexCell(p.CellBytes(i), p.Usable())
	if err != nil {
		return nil, err
	}
	payload, err := readPayload(m.src, cell.Inline, cell.OverflowPage, cell.PayloadSize)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(payload)
}

func (m *IndexMutator) descendToLeaf(key []Value) ([]pathEntry, int, int, error) {
	var path []pathEntry
	page := m.root
	for {
		p, err := m.src.GetPage(page)
		if err != nil {
			return nil, 0, 0, err
		}
		if p.Header().Type.IsLeaf() {
			n := int(p.Header().NumCells)
			lo, hi := 0, n
			for lo < hi {
				mid := (lo + hi) / 2
				k, err := m.decodeLeafKey(p, mid)
				if err != nil {
					return nil, 0, 0, err
				}
				if compareRecordKeys(k, key) < 0 {
					lo = mid + 1
				} else {
					hi = mid
				}
			}
			return path, page, lo, nil
		}

		n := int(p.Header().NumCells)
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			k, err := m.decodeInteriorKey(p, mid)
			if err != nil {
				return nil, 0, 0, err
			}
			if compareRecordKeys(k, key) < 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		path = append(path, pathEntry{page: page, idx: lo})
		if lo == n {
			page = int(p.Header().RightChild)
			continue
		}
		cell, _, err := ParseInteriorIndexCell(p.CellBytes(lo), p.Usable())
		if err != nil {
			return nil, 0, 0, err
		}
		page = int(cell.LeftChild)
	}
}

func (m *IndexMutator) splitAndInsertLeaf(path []pathEntry, leaf *Page, pos int, newCellBytes []byte) error {
	existing, err := extractCells(leaf)
	if err != nil {
		return err
	}
	all := spliceCell(existing, pos, newCellBytes)

	mid := len(all) / 2
	leftCells, rightCells := all[:mid], all[mid:]
	midLeafCell, _, err := ParseLeafIndexCell(leftCells[len(leftCells)-1], leaf.Usable())
	if err != nil {
		return err
	}

	if leaf.Number() == m.root {
		leftPage, err := m.src.AllocatePage(PageTypeLeafIndex)
		if err != nil {
			return err
		}
		if err := fillPage(leftPage, leftCells); err != nil {
			return err
		}
		if err := m.src.WritePage(leftPage); err != nil {
			return err
		}

		rightPage, err := m.src.AllocatePage(PageTypeLeafIndex)
		if err != nil {
			return err
		}
		if err := fillPage(rightPage, rightCells); err != nil {
			return err
		}
		if err := m.src.WritePage(rightPage); err != nil {
			return err
		}

		sep := InteriorIndexCell{LeftChild: uint32(leftPage.Number()), PayloadSize: midLeafCell.PayloadSize, Inline: midLeafCell.Inline, OverflowPage: midLeafCell.OverflowPage}
		return m.rebuildRoot(sep, uint32(rightPage.Number()))
	}

	if err := fillPage(leaf, leftCells); err != nil {
		return err
	}
	if err := m.src.WritePage(leaf); err != nil {
		return err
	}

	rightPage, err := m.src.AllocatePage(PageTypeLeafIndex)
	if err != nil {
		return err
	}
	if err := fillPage(rightPage, rightCells); err != nil {
		return err
	}
	if err := m.src.WritePage(rightPage); err != nil {
		return err
	}

	sep := InteriorIndexCell{LeftChild: uint32(leaf.Number()), PayloadSize: midLeafCell.PayloadSize, Inline: midLeafCell.Inline, OverflowPage: midLeafCell.OverflowPage}
	return m.propagateSplit(path, uint32(rightPage.Number()), sep)
}

func (m *IndexMutator) propagateSplit(path []pathEntry, newPage uint32, sep InteriorIndexCell) error {
	for i := len(path) - 1; i >= 0; i-- {
		entry := path[i]
		parent, err := m.src.GetPageOwned(entry.page)
		if err != nil {
			return err
		}

		n := int(parent.Header().NumCells)
		if entry.idx == n {
			parent.header.RightChild = newPage
		} else {
			cell, _, err := ParseInteriorIndexCell(parent.CellBytes(entry.idx), parent.Usable())
			if err != nil {
				return err
			}
			cell.LeftChild = newPage
			if err := RemoveCell(parent, entry.idx); err != nil {
				return err
			}
			updated := BuildInteriorIndexCell(cell)
			if !TryInsertCell(parent, entry.idx, updated) {
				DefragmentPage(parent)
				TryInsertCell(parent, entry.idx, updated)
			}
		}
		parent.writeHeader()

		sepBytes := BuildInteriorIndexCell(sep)
		if TryInsertCell(parent, entry.idx, sepBytes) {
			return m.src.WritePage(parent)
		}
		if DefragmentPage(parent) == nil && TryInsertCell(parent, entry.idx, sepBytes) {
			return m.src.WritePage(parent)
		}

		existing, err := extractCells(parent)
		if err != nil {
			return err
		}
		all := spliceCell(existing, entry.idx, sepBytes)
		mid := len(all) / 2
		midCell, _, err := ParseInteriorIndexCell(all[mid], parent.Usable())
		if err != nil {
			return err
		}
		leftCells, rightCells := all[:mid], all[mid+1:]
		origRightChild := parent.Header().RightChild

		if parent.Number() == m.root {
			leftPage, err := m.src.AllocatePage(PageTypeInteriorIndex)
			if err != nil {
				return err
			}
			if err := fillPage(leftPage, leftCells); err != nil {
				return err
			}
			leftPage.header.RightChild = midCell.LeftChild
			leftPage.writeHeader()
			if err := m.src.WritePage(leftPage); err != nil {
				return err
			}

			rightPage, err := m.src.AllocatePage(PageTypeInteriorIndex)
			if err != nil {
				return err
			}
			if err := fillPage(rightPage, rightCells); err != nil {
				return err
			}
			rightPage.header.RightChild = origRightChild
			rightPage.writeHeader()
			if err := m.src.WritePage(rightPage); err != nil {
				return err
			}

			rootSep := InteriorIndexCell{LeftChild: uint32(leftPage.Number()), PayloadSize: midCell.PayloadSize, Inline: midCell.Inline, OverflowPage: midCell.OverflowPage}
			return m.rebuildRoot(rootSep, uint32(rightPage.Number()))
		}

		if err := fillPage(parent, leftCells); err != nil {
			return err
		}
		parent.header.RightChild = midCell.LeftChild
		parent.writeHeader()
		if err := m.src.WritePage(parent); err != nil {
			return err
		}

		rightPage, err := m.src.AllocatePage(PageTypeInteriorIndex)
		if err != nil {
			return err
		}
		if err := fillPage(rightPage, rightCells); err != nil {
			return err
		}
		rightPage.header.RightChild = origRightChild
		rightPage.writeHeader()
		if err := m.src.WritePage(rightPage); err != nil {
			return err
		}

		newPage = uint32(rightPage.Number())
		sep = InteriorIndexCell{LeftChild: uint32(parent.Number()), PayloadSize: midCell.PayloadSize, Inline: midCell.Inline, OverflowPage: midCell.OverflowPage}
	}

	return m.rebuildRoot(sep, newPage)
}

func (m *IndexMutator) rebuildRoot(sep InteriorIndexCell, rightChild uint32) error {
	root, err := m.src.GetPageOwned(m.root)
	if err != nil {
		return err
	}
	sepBytes := BuildInteriorIndexCell(sep)
	newRoot, err := BuildInteriorPage(m.root, PageTypeInteriorIndex, len(root.Data()), root.Usable(), [][]byte{sepBytes}, rightChild)
	if err != nil {
		return err
	}
	// Keep whatever precedes the B-tree header (page 1's file header).
	copy(newRoot.Data()[:headerOffset(m.root)], root.Data())
	return m.src.WritePage(newRoot)
}
