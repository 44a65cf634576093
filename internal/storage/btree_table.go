package storage

// TableCursor walks a rowid-keyed table B-tree in key order. It is not
// safe for concurrent use; each goroutine that scans should own its
// own cursor.
type TableCursor struct {
	src     PageSource
	root    int
	stack   frameStack
	leaf    *Page
	leafIdx int
	valid   bool
	version uint64
}

// NewTableCursor creates a cursor positioned at the first row of the
// table rooted at root.
func NewTableCursor(src PageSource, root int) (*TableCursor, error) {
	c := &TableCursor{src: src, root: root, version: src.DataVersion()}
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

// IsStale reports whether the page source has been mutated since this
// cursor captured its snapshot version. Callers should re-seek rather
// than trust a stale cursor's cached leaf.
func (c *TableCursor) IsStale() bool {
	return c.src.DataVersion() != c.version
}

// Valid reports whether the cursor is positioned at a row.
func (c *TableCursor) Valid() bool { return c.valid }

// RowID returns the current row's key.
func (c *TableCursor) RowID() (int64, error) {
	if !c.valid {
		return 0, ErrNotFound
	}
	cell, _, err := ParseLeafTableCell(c.leaf.CellBytes(c.leafIdx), c.leaf.Usable())
	if err != nil {
		return 0, err
	}
	return cell.RowID, nil
}

// Payload returns the current row's full record bytes, reassembling
// any overflow chain. It returns ErrStale if the page source has been
// mutated since the cursor captured its snapshot, since the cached
// leaf's cell offsets and any overflow chain it points into are no
// longer guaranteed to still describe this row.
func (c *TableCursor) Payload() ([]byte, error) {
	if !c.valid {
		return nil, ErrNotFound
	}
	if c.IsStale() {
		return nil, ErrStale
	}
	cell, _, err := ParseLeafTableCell(c.leaf.CellBytes(c.leafIdx), c.leaf.Usable())
	if err != nil {
		return nil, err
	}
	return readPayload(c.src, cell.Inline, cell.OverflowPage, cell.PayloadSize)
}

// MoveNext advances to the next row in key order, crossing leaf
// boundaries by backtracking up the ancestor stack as needed. It
// clears Valid() once the scan runs past the last row.
func (c *TableCursor) MoveNext() error {
	if !c.valid {
		return ErrNotFound
	}
	c.leafIdx++
	if c.leafIdx < int(c.leaf.Header().NumCells) {
		return nil
	}
	return c.advance()
}

// MoveLast follows RightChild pointers down to the rightmost leaf and
// positions the cursor at its last cell. If that leaf holds no cells
// (every row in it was deleted), the cursor is left invalid even when
// other leaves still hold rows.
func (c *TableCursor) MoveLast() error {
	c.stack.reset()
	return c.descendRightmost(c.root)
}

// Seek repositions the cursor at rowid, or at the next greater rowid
// if no exact match exists. It reports whether an exact match was
// found.
func (c *TableCursor) Seek(rowid int64) (bool, error) {
	c.stack.reset()
	return c.seek(c.root, rowid)
}

func (c *TableCursor) seek(page int, rowid int64) (bool, error) {
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
				cell, _, err := ParseLeafTableCell(p.CellBytes(mid), p.Usable())
				if err != nil {
					return false, err
				}
				if cell.RowID < rowid {
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
			cell, _, err := ParseLeafTableCell(p.CellBytes(lo), p.Usable())
			if err != nil {
				return false, err
			}
			return cell.RowID == rowid, nil
		}

		n := int(p.Header().NumCells)
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			cell, _, err := ParseInteriorTableCell(p.CellBytes(mid))
			if err != nil {
				return false, err
			}
			if cell.Key < rowid {
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
		cell, _, err := ParseInteriorTableCell(p.CellBytes(lo))
		if err != nil {
			return false, err
		}
		page = int(cell.LeftChild)
	}
}

func (c *TableCursor) descendLeftmost(page int) error {
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
		cell, _, err := ParseInteriorTableCell(p.CellBytes(0))
		if err != nil {
			return err
		}
		page = int(cell.LeftChild)
	}
}

func (c *TableCursor) descendRightmost(page int) error {
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

// advance pops ancestor frames until it finds one with an
// unconsumed sibling subtree, then descends into that subtree's
// leftmost leaf, moving on past leaves that hold no cells. It is a
// bounded loop over the stack, never recursive.
func (c *TableCursor) advance() error {
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
			cell, _, err := ParseInteriorTableCell(p.CellBytes(idx))
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

// pathEntry records one interior page visited while descending to a
// leaf for a mutation, and which child pointer was followed — either
// a separator cell's index, or NumCells to mean the RightChild.
type pathEntry struct {
	page int
	idx  int
}

// TableMutator inserts into and deletes from a rowid-keyed table
// B-tree rooted at a fixed page number, which never changes identity
// even when the tree grows a new level.
type TableMutator struct {
	src  PageSource
	root int
}

// NewTableMutator returns a mutator for the table B-tree rooted at
// root.
func NewTableMutator(src PageSource, root int) *TableMutator {
	return &TableMutator{src: src, root: root}
}

// Insert adds rowid/payload. If rowid already exists, it returns
// DuplicateRowIDError unless overwrite is set.
func (m *TableMutator) Insert(rowid int64, payload []byte, overwrite bool) error {
	path, leafNum, err := m.descendToLeaf(rowid)
	if err != nil {
		return err
	}
	leaf, err := m.src.GetPageOwned(leafNum)
	if err != nil {
		return err
	}

	pos, found, err := m.findLeafPos(leaf, rowid)
	if err != nil {
		return err
	}
	if found && !overwrite {
		return &DuplicateRowIDError{RowID: rowid}
	}

	inline, overflowPage, err := spillPayload(m.src, payload, tableInlineSize)
	if err != nil {
		return err
	}
	cellBytes := BuildLeafTableCell(LeafTableCell{
		RowID:        rowid,
		PayloadSize:  int64(len(payload)),
		Inline:       inline,
		OverflowPage: overflowPage,
	})

	if found {
		if err := RemoveCell(leaf, pos); err != nil {
			return err
		}
	}

	if TryInsertCell(leaf, pos, cellBytes) {
		return m.src.WritePage(leaf)
	}
	if DefragmentPage(leaf) == nil && TryInsertCell(leaf, pos, cellBytes) {
		return m.src.WritePage(leaf)
	}

	return m.splitAndInsertLeaf(path, leaf, pos, cellBytes)
}

// Delete removes rowid. It returns ErrNotFound if no such row exists.
// No merge or rebalance is performed afterward — an intentionally
// minimal policy: a leaf is allowed to run under its nominal fill
// factor rather than borrowing from or merging with a sibling.
func (m *TableMutator) Delete(rowid int64) error {
	_, leafNum, err := m.descendToLeaf(rowid)
	if err != nil {
		return err
	}
	leaf, err := m.src.GetPageOwned(leafNum)
	if err != nil {
		return err
	}
	pos, found, err := m.findLeafPos(leaf, rowid)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := RemoveCell(leaf, pos); err != nil {
		return err
	}
	return m.src.WritePage(leaf)
}

// GetMaxRowID returns the table's largest rowid, used by callers that
// auto-assign the next rowid on insert. It reads the last cell of the
// rightmost leaf (see MoveLast); ok is false when that leaf is empty,
// which includes an empty table.
func (m *TableMutator) GetMaxRowID() (rowid int64, ok bool, err error) {
	cur, err := NewTableCursor(m.src, m.root)
	if err != nil {
		return 0, false, err
	}
	if err := cur.MoveLast(); err != nil {
		return 0, false, err
	}
	if !cur.Valid() {
		return 0, false, nil
	}
	rowid, err = cur.RowID()
	if err != nil {
		return 0, false, err
	}
	return rowid, true, nil
}

func (m *TableMutator) findLeafPos(leaf *Page, rowid int64) (pos int, found bool, err error) {
	n := int(leaf.Header().NumCells)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		cell, _, err := ParseLeafTableCell(leaf.CellBytes(mid), leaf.Usable())
		if err != nil {
			return 0, false, err
		}
		if cell.RowID < rowid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n {
		cell, _, err := ParseLeafTableCell(leaf.CellBytes(lo), leaf.Usable())
		if err != nil {
			return 0, false, err
		}
		if cell.RowID == rowid {
			return lo, true, nil
		}
	}
	return lo, false, nil
}

func (m *TableMutator) descendToLeaf(rowid int64) ([]pathEntry, int, error) {
	var path []pathEntry
	page := m.root
	for {
		p, err := m.src.GetPage(page)
		if err != nil {
			return nil, 0, err
		}
		if p.Header().Type.IsLeaf() {
			return path, page, nil
		}

		n := int(p.Header().NumCells)
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			cell, _, err := ParseInteriorTableCell(p.CellBytes(mid))
			if err != nil {
				return nil, 0, err
			}
			if cell.Key < rowid {
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
		cell, _, err := ParseInteriorTableCell(p.CellBytes(lo))
		if err != nil {
			return nil, 0, err
		}
		page = int(cell.LeftChild)
	}
}

func extractCells(p *Page) ([][]byte, error) {
	n := int(p.Header().NumCells)
	cells := make([][]byte, n)
	for i := 0; i < n; i++ {
		length, err := cellLength(p, p.CellBytes(i))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, length)
		copy(buf, p.CellBytes(i)[:length])
		cells[i] = buf
	}
	return cells, nil
}

func spliceCell(existing [][]byte, pos int, cellBytes []byte) [][]byte {
	out := make([][]byte, 0, len(existing)+1)
	out = append(out, existing[:pos]...)
	out = append(out, cellBytes)
	out = append(out, existing[pos:]...)
	return out
}

func lastTableRowID(cellBytes []byte, usable int) (int64, error) {
	cell, _, err := ParseLeafTableCell(cellBytes, usable)
	if err != nil {
		return 0, err
	}
	return cell.RowID, nil
}

// splitAndInsertLeaf splits a full leaf into two halves, writes the
// new cell into whichever half it belongs in, and propagates a
// separator up path. When the leaf being split is the root itself,
// both halves get fresh page numbers so the root's own number can be
// rebuilt in place as a new interior page (its identity must survive
// every split).
func (m *TableMutator) splitAndInsertLeaf(path []pathEntry, leaf *Page, pos int, newCellBytes []byte) error {
	existing, err := extractCells(leaf)
	if err != nil {
		return err
	}
	all := spliceCell(existing, pos, newCellBytes)
	mid := len(all) / 2
	leftCells, rightCells := all[:mid], all[mid:]

	leftMaxRowID, err := lastTableRowID(leftCells[len(leftCells)-1], leaf.Usable())
	if err != nil {
		return err
	}

	if leaf.Number() == m.root {
		leftPage, err := m.src.AllocatePage(PageTypeLeafTable)
		if err != nil {
			return err
		}
		if err := fillPage(leftPage, leftCells); err != nil {
			return err
		}
		if err := m.src.WritePage(leftPage); err != nil {
			return err
		}

		rightPage, err := m.src.AllocatePage(PageTypeLeafTable)
		if err != nil {
			return err
		}
		if err := fillPage(rightPage, rightCells); err != nil {
			return err
		}
		if err := m.src.WritePage(rightPage); err != nil {
			return err
		}

		sep := InteriorTableCell{LeftChild: uint32(leftPage.Number()), Key: leftMaxRowID}
		return m.rebuildRoot(sep, uint32(rightPage.Number()))
	}

	if err := fillPage(leaf, leftCells); err != nil {
		return err
	}
	if err := m.src.WritePage(leaf); err != nil {
		return err
	}

	rightPage, err := m.src.AllocatePage(PageTypeLeafTable)
	if err != nil {
		return err
	}
	if err := fillPage(rightPage, rightCells); err != nil {
		return err
	}
	if err := m.src.WritePage(rightPage); err != nil {
		return err
	}

	sep := InteriorTableCell{LeftChild: uint32(leaf.Number()), Key: leftMaxRowID}
	return m.propagateSplit(path, uint32(rightPage.Number()), sep)
}

// propagateSplit walks path bottom-up, routing the pointer that used
// to reach the just-split page toward newPage and inserting sep. If an
// ancestor is itself full, it splits too and the loop continues one
// level higher; reaching the root (path[0]) without returning means
// the root must be rebuilt as a new interior page.
func (m *TableMutator) propagateSplit(path []pathEntry, newPage uint32, sep InteriorTableCell) error {
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
			cell, _, err := ParseInteriorTableCell(parent.CellBytes(entry.idx))
			if err != nil {
				return err
			}
			cell.LeftChild = newPage
			if err := RemoveCell(parent, entry.idx); err != nil {
				return err
			}
			updated := BuildInteriorTableCell(cell)
			if !TryInsertCell(parent, entry.idx, updated) {
				DefragmentPage(parent)
				TryInsertCell(parent, entry.idx, updated)
			}
		}
		parent.writeHeader()

		sepBytes := BuildInteriorTableCell(sep)
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
		midCell, _, err := ParseInteriorTableCell(all[mid])
		if err != nil {
			return err
		}
		leftCells, rightCells := all[:mid], all[mid+1:]
		origRightChild := parent.Header().RightChild

		if parent.Number() == m.root {
			leftPage, err := m.src.AllocatePage(PageTypeInteriorTable)
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

			rightPage, err := m.src.AllocatePage(PageTypeInteriorTable)
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

			rootSep := InteriorTableCell{LeftChild: uint32(leftPage.Number()), Key: midCell.Key}
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

		rightPage, err := m.src.AllocatePage(PageTypeInteriorTable)
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
		sep = InteriorTableCell{LeftChild: uint32(parent.Number()), Key: midCell.Key}
	}

	// path[0] is always m.root, so the loop above always returns via
	// the root-rebuild branch before falling out here.
	return m.rebuildRoot(sep, newPage)
}

// rebuildRoot rewrites the root page in place as a fresh one-separator
// interior page, preserving its page number.
func (m *TableMutator) rebuildRoot(sep InteriorTableCell, rightChild uint32) error {
	root, err := m.src.GetPageOwned(m.root)
	if err != nil {
		return err
	}
	sepBytes := BuildInteriorTableCell(sep)
	newRoot, err := BuildInteriorPage(m.root, PageTypeInteriorTable, len(root.Data()), root.Usable(), [][]byte{sepBytes}, rightChild)
	if err != nil {
		return err
	}
	// Keep whatever precedes the B-tree header (page 1's file header).
	copy(newRoot.Data()[:headerOffset(m.root)], root.Data())
	return m.src.WritePage(newRoot)
}
