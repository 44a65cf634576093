package storage

import (
	"encoding/binary"
	"sync"
)

// overflowHeaderLen is the 4-byte next-pointer every overflow page
// begins with; the remainder of the page is payload bytes.
const overflowHeaderLen = 4

// visitedSetPool amortizes the visited-page set readOverflow needs for
// cycle detection across the many cells a single cursor reads over its
// lifetime, instead of allocating a fresh map per call.
var visitedSetPool = sync.Pool{
	New: func() interface{} { return make(map[uint32]bool) },
}

// writeOverflow stores tail across a chain of overflow pages and
// returns the chain's first page number (0 if tail is empty).
func writeOverflow(src PageSource, tail []byte) (uint32, error) {
	if len(tail) == 0 {
		return 0, nil
	}

	usable := src.Usable()
	chunkSize := usable - overflowHeaderLen
	if chunkSize <= 0 {
		return 0, newCorruptPage(0, "page too small to hold an overflow chunk")
	}

	numPages := (len(tail) + chunkSize - 1) / chunkSize
	numbers := make([]int, numPages)
	for i := range numbers {
		n, err := src.AllocateRaw()
		if err != nil {
			return 0, err
		}
		numbers[i] = n
	}

	for i := 0; i < numPages; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(tail) {
			end = len(tail)
		}

		buf := make([]byte, usable)
		var next uint32
		if i+1 < numPages {
			next = uint32(numbers[i+1])
		}
		binary.BigEndian.PutUint32(buf, next)
		copy(buf[overflowHeaderLen:], tail[start:end])

		if err := src.WriteRaw(numbers[i], buf); err != nil {
			return 0, err
		}
	}

	return uint32(numbers[0]), nil
}

// readOverflow reads totalSize bytes starting at the chain rooted at
// page, detecting cycles by refusing to visit the same page twice —
// a corrupt or adversarially crafted chain could otherwise loop
// forever.
func readOverflow(src PageSource, page uint32, totalSize int) ([]byte, error) {
	out := make([]byte, 0, totalSize)
	visited := visitedSetPool.Get().(map[uint32]bool)
	defer func() {
		for k := range visited {
			delete(visited, k)
		}
		visitedSetPool.Put(visited)
	}()
	usable := src.Usable()
	chunkSize := usable - overflowHeaderLen

	for page != 0 && len(out) < totalSize {
		if visited[page] {
			return nil, newCorruptPage(int(page), "overflow chain cycle detected")
		}
		visited[page] = true

		buf, err := src.ReadRaw(int(page))
		if err != nil {
			return nil, err
		}
		if len(buf) < overflowHeaderLen {
			return nil, newCorruptPage(int(page), "overflow page too small for next-pointer")
		}

		remaining := totalSize - len(out)
		n := chunkSize
		if n > remaining {
			n = remaining
		}
		if overflowHeaderLen+n > len(buf) {
			return nil, newCorruptPage(int(page), "overflow page shorter than expected chunk")
		}
		out = append(out, buf[overflowHeaderLen:overflowHeaderLen+n]...)

		page = binary.BigEndian.Uint32(buf)
	}

	if len(out) != totalSize {
		return nil, newCorruptPage(int(page), "overflow chain ended before payload was fully read")
	}
	return out, nil
}
