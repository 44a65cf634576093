package storage

// stackFrame packs an ancestor page number and the index of the cell
// whose child was last descended into (== NumCells when the descent
// took the page's RightChild) into one 64-bit word.
type stackFrame uint64

func packFrame(page, cellIndex int) stackFrame {
	return stackFrame(uint64(uint32(page))<<16 | uint64(uint16(cellIndex)))
}

func (f stackFrame) page() int      { return int(uint32(f >> 16)) }
func (f stackFrame) cellIndex() int { return int(uint16(f)) }

// frameStack is a cursor's ancestor-descent stack. Most B-trees in
// practice are shallow (a handful of levels even at large row counts),
// so the first 8 frames live inline; a deeper tree spills to the heap
// slice without changing the API.
type frameStack struct {
	inline [8]stackFrame
	n      int
	heap   []stackFrame
}

func (s *frameStack) push(f stackFrame) {
	if s.n < len(s.inline) {
		s.inline[s.n] = f
		s.n++
		return
	}
	s.heap = append(s.heap, f)
}

func (s *frameStack) pop() (stackFrame, bool) {
	if len(s.heap) > 0 {
		f := s.heap[len(s.heap)-1]
		s.heap = s.heap[:len(s.heap)-1]
		return f, true
	}
	if s.n > 0 {
		s.n--
		return s.inline[s.n], true
	}
	return 0, false
}

func (s *frameStack) reset() {
	s.n = 0
	s.heap = s.heap[:0]
}
