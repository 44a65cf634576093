package storage

// LeafScanner performs a fast full scan of a table B-tree: it
// precomputes the DFS-ordered list of leaf page numbers once (an
// explicit stack, not recursion, since trees built from untrusted or
// adversarial input shouldn't bound our call stack), then iterates
// cells across those leaves directly. This avoids the repeated
// ancestor-stack push/pop a TableCursor pays for on every leaf-to-leaf
// crossing, at the cost of not reflecting structural changes made
// after the scan starts — IsStale reports when that has happened.
type LeafScanner struct {
	src     PageSource
	leaves  []int
	leafPos int
	cellPos int
	version uint64
}

// NewLeafScanner precomputes the leaf sequence for the table B-tree
// rooted at root and positions the scanner at its first row.
func NewLeafScanner(src PageSource, root int) (*LeafScanner, error) {
	s := &LeafScanner{src: src, version: src.DataVersion()}
	if err := s.collectLeaves(root); err != nil {
		return nil, err
	}
	for s.leafPos < len(s.leaves) {
		p, err := s.currentLeaf()
		if err != nil {
			return nil, err
		}
		if p.Header().NumCells > 0 {
			break
		}
		s.leafPos++
	}
	return s, nil
}

func (s *LeafScanner) collectLeaves(root int) error {
	stack := []int{root}
	for len(stack) > 0 {
		page := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		p, err := s.src.GetPage(page)
		if err != nil {
			return err
		}
		if p.Header().Type.IsLeaf() {
			s.leaves = append(s.leaves, page)
			continue
		}

		n := int(p.Header().NumCells)
		children := make([]int, 0, n+1)
		for i := 0; i < n; i++ {
			cell, _, err := ParseInteriorTableCell(p.CellBytes(i))
			if err != nil {
				return err
			}
			children = append(children, int(cell.LeftChild))
		}
		children = append(children, int(p.Header().RightChild))
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// IsStale reports whether the page source has changed since the scan
// began. The scanner's precomputed leaf list does not reflect any
// splits or deletes made after construction.
func (s *LeafScanner) IsStale() bool { return s.src.DataVersion() != s.version }

// Valid reports whether the scanner is positioned at a row.
func (s *LeafScanner) Valid() bool { return s.leafPos < len(s.leaves) }

func (s *LeafScanner) currentLeaf() (*Page, error) {
	return s.src.GetPage(s.leaves[s.leafPos])
}

// Row returns the current row's key and full (overflow-reassembled)
// payload.
func (s *LeafScanner) Row() (rowid int64, payload []byte, err error) {
	if !s.Valid() {
		return 0, nil, ErrNotFound
	}
	p, err := s.currentLeaf()
	if err != nil {
		return 0, nil, err
	}
	cell, _, err := ParseLeafTableCell(p.CellBytes(s.cellPos), p.Usable())
	if err != nil {
		return 0, nil, err
	}
	full, err := readPayload(s.src, cell.Inline, cell.OverflowPage, cell.PayloadSize)
	if err != nil {
		return 0, nil, err
	}
	return cell.RowID, full, nil
}

// Next advances to the next row, crossing into the next non-empty
// leaf when the current one is exhausted.
func (s *LeafScanner) Next() error {
	if !s.Valid() {
		return ErrNotFound
	}
	p, err := s.currentLeaf()
	if err != nil {
		return err
	}
	s.cellPos++
	if s.cellPos < int(p.Header().NumCells) {
		return nil
	}

	s.cellPos = 0
	s.leafPos++
	for s.leafPos < len(s.leaves) {
		next, err := s.currentLeaf()
		if err != nil {
			return err
		}
		if next.Header().NumCells > 0 {
			return nil
		}
		s.leafPos++
	}
	return nil
}
