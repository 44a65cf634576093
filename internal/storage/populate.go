package storage

import "sort"

// IndexKeyFunc extracts an index key's columns from a decoded table
// row; the caller is expected to append the owning rowid as the
// trailing column so every extracted key is unique.
type IndexKeyFunc func(rowid int64, row []Value) []Value

// PopulateIndex builds a new index B-tree over every row a
// LeafScanner visits and wires it into root. Keys are extracted and
// sorted once, leaf pages are packed directly from the sorted
// sequence, and each interior level is built straight from the level
// below it — a bulk bottom-up build, instead of one IndexMutator.
// Insert call per row, which would redundantly re-descend from the
// root and potentially re-split on every single key.
func PopulateIndex(src PageSource, scanner *LeafScanner, root int, extract IndexKeyFunc) error {
	type keyed struct {
		key     []Value
		payload []byte
	}

	var all []keyed
	for scanner.Valid() {
		rowid, row, err := scanner.Row()
		if err != nil {
			return err
		}
		decodedRow, err := DecodeRecord(row)
		if err != nil {
			return err
		}
		key := extract(rowid, decodedRow)
		all = append(all, keyed{key: key, payload: EncodeRecord(key)})
		if err := scanner.Next(); err != nil {
			return err
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return compareRecordKeys(all[i].key, all[j].key) < 0
	})

	if len(all) == 0 {
		empty, err := BuildLeafPage(root, PageTypeLeafIndex, src.PageSize(), src.Usable(), nil)
		if err != nil {
			return err
		}
		if off := headerOffset(root); off > 0 {
			orig, err := src.GetPage(root)
			if err != nil {
				return err
			}
			copy(empty.Data()[:off], orig.Data())
		}
		return src.WritePage(empty)
	}

	leafCells := make([][]byte, len(all))
	for i, k := range all {
		inline, overflowPage, err := spillPayload(src, k.payload, indexInlineSize)
		if err != nil {
			return err
		}
		leafCells[i] = BuildLeafIndexCell(LeafIndexCell{PayloadSize: int64(len(k.payload)), Inline: inline, OverflowPage: overflowPage})
	}

	level, err := packLeaves(src, leafCells, PageTypeLeafIndex)
	if err != nil {
		return err
	}

	for len(level) > 1 {
		seps := make([]InteriorIndexCell, len(level)-1)
		for i := 0; i < len(level)-1; i++ {
			sep, err := lastCellAsSeparator(src, level[i])
			if err != nil {
				return err
			}
			seps[i] = sep
		}
		rightChild := uint32(level[len(level)-1])

		level, err = packInteriorLevel(src, seps, rightChild)
		if err != nil {
			return err
		}
	}

	return rewireRoot(src, root, level[0])
}

// packLeaves greedily fills pages from cells in order, allocating a
// new page whenever the next cell wouldn't fit.
func packLeaves(src PageSource, cells [][]byte, pageType PageType) ([]int, error) {
	usable := src.Usable()
	headerLen := headerLenFor(pageType)

	var numbers []int
	i := 0
	for i < len(cells) {
		var batch [][]byte
		used := headerLen
		for i < len(cells) {
			need := len(cells[i]) + 2
			if used+need > usable && len(batch) > 0 {
				break
			}
			batch = append(batch, cells[i])
			used += need
			i++
		}

		p, err := src.AllocatePage(pageType)
		if err != nil {
			return nil, err
		}
		if err := fillPage(p, batch); err != nil {
			return nil, err
		}
		if err := src.WritePage(p); err != nil {
			return nil, err
		}
		numbers = append(numbers, p.Number())
	}
	return numbers, nil
}

// packInteriorLevel packs separator cells into interior pages. Each
// produced page's RightChild is the LeftChild of whichever separator
// immediately follows its last packed cell, or overallRightChild for
// the final page.
func packInteriorLevel(src PageSource, seps []InteriorIndexCell, overallRightChild uint32) ([]int, error) {
	usable := src.Usable()

	var numbers []int
	i := 0
	for i < len(seps) {
		var batch [][]byte
		used := InteriorHeaderLen
		for i < len(seps) {
			cellBytes := BuildInteriorIndexCell(seps[i])
			need := len(cellBytes) + 2
			if used+need > usable && len(batch) > 0 {
				break
			}
			batch = append(batch, cellBytes)
			used += need
			i++
		}

		var rightChild uint32
		if i < len(seps) {
			rightChild = seps[i].LeftChild
		} else {
			rightChild = overallRightChild
		}

		p, err := src.AllocatePage(PageTypeInteriorIndex)
		if err != nil {
			return nil, err
		}
		if err := fillPage(p, batch); err != nil {
			return nil, err
		}
		p.header.RightChild = rightChild
		p.writeHeader()
		if err := src.WritePage(p); err != nil {
			return nil, err
		}
		numbers = append(numbers, p.Number())
	}
	return numbers, nil
}

// lastCellAsSeparator reads pageNumber's trailing cell and wraps its
// key as an interior separator pointing at pageNumber.
func lastCellAsSeparator(src PageSource, pageNumber int) (InteriorIndexCell, error) {
	p, err := src.GetPage(pageNumber)
	if err != nil {
		return InteriorIndexCell{}, err
	}
	lastIdx := int(p.Header().NumCells) - 1

	if p.Header().Type == PageTypeLeafIndex {
		lc, _, err := ParseLeafIndexCell(p.CellBytes(lastIdx), p.Usable())
		if err != nil {
			return InteriorIndexCell{}, err
		}
		return InteriorIndexCell{LeftChild: uint32(pageNumber), PayloadSize: lc.PayloadSize, Inline: lc.Inline, OverflowPage: lc.OverflowPage}, nil
	}

	ic, _, err := ParseInteriorIndexCell(p.CellBytes(lastIdx), p.Usable())
	if err != nil {
		return InteriorIndexCell{}, err
	}
	return InteriorIndexCell{LeftChild: uint32(pageNumber), PayloadSize: ic.PayloadSize, Inline: ic.Inline, OverflowPage: ic.OverflowPage}, nil
}

// rewireRoot copies topPage's content into root's page number, so a
// freshly bulk-built tree ends up rooted at the pre-allocated page a
// schema entry already points to.
func rewireRoot(src PageSource, root, topPage int) error {
	if topPage == root {
		return nil
	}
	p, err := src.GetPageOwned(topPage)
	if err != nil {
		return err
	}
	cells, err := extractCells(p)
	if err != nil {
		return err
	}

	var newRoot *Page
	if p.Header().Type.IsLeaf() {
		newRoot, err = BuildLeafPage(root, p.Header().Type, len(p.Data()), p.Usable(), cells)
	} else {
		newRoot, err = BuildInteriorPage(root, p.Header().Type, len(p.Data()), p.Usable(), cells, p.Header().RightChild)
	}
	if err != nil {
		return err
	}
	if off := headerOffset(root); off > 0 {
		orig, err := src.GetPage(root)
		if err != nil {
			return err
		}
		copy(newRoot.Data()[:off], orig.Data())
	}
	return src.WritePage(newRoot)
}
