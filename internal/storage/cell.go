package storage

import (
	"bytes"
	"encoding/binary"
)

// tableInlineSize computes the inline-payload threshold for table-tree
// cells (leaf-table cells; table interior cells carry no payload).
func tableInlineSize(usable, payloadSize int) int {
	x := usable - 35
	if payloadSize <= x {
		return payloadSize
	}
	m := ((usable-12)*32/255) - 23
	k := m + (payloadSize-m)%(usable-4)
	if k <= x {
		return k
	}
	return m
}

// indexInlineSize computes the inline-payload threshold for index-tree
// cells (both leaf-index and interior-index).
func indexInlineSize(usable, payloadSize int) int {
	x := ((usable-12)*64/255) - 23
	if payloadSize <= x {
		return payloadSize
	}
	m := ((usable-12)*32/255) - 23
	k := m + (payloadSize-m)%(usable-4)
	if k <= x {
		return k
	}
	return m
}

// LeafTableCell is a row cell in a leaf-table page:
// payload_size ‖ rowid ‖ inline_bytes ‖ overflow_page?
type LeafTableCell struct {
	RowID        int64
	PayloadSize  int64
	Inline       []byte
	OverflowPage uint32 // 0 means no overflow
}

// BuildLeafTableCell serializes a leaf-table cell.
func BuildLeafTableCell(c LeafTableCell) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+VarintLen(c.PayloadSize)+VarintLen(c.RowID)+len(c.Inline)))
	_, _ = WriteVarint(buf, c.PayloadSize)
	_, _ = WriteVarint(buf, c.RowID)
	buf.Write(c.Inline)
	if c.OverflowPage != 0 {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], c.OverflowPage)
		buf.Write(tmp[:])
	}
	return buf.Bytes()
}

// ParseLeafTableCell parses a leaf-table cell from data (which may
// extend beyond the cell's own bytes) and returns the cell plus the
// number of bytes it occupies.
func ParseLeafTableCell(data []byte, usable int) (LeafTableCell, int, error) {
	r := bytes.NewReader(data)

	payloadSize, n1, err := ReadVarint(r)
	if err != nil {
		return LeafTableCell{}, 0, newCorruptPage(0, "reading leaf-table payload size: %v", err)
	}
	rowID, n2, err := ReadVarint(r)
	if err != nil {
		return LeafTableCell{}, 0, newCorruptPage(0, "reading leaf-table rowid: %v", err)
	}

	inlineSize := tableInlineSize(usable, int(payloadSize))
	headerLen := n1 + n2
	if headerLen+inlineSize > len(data) {
		return LeafTableCell{}, 0, newCorruptPage(0, "leaf-table cell extends past buffer")
	}
	inline := data[headerLen : headerLen+inlineSize]

	total := headerLen + inlineSize
	var overflowPage uint32
	if inlineSize < int(payloadSize) {
		if total+4 > len(data) {
			return LeafTableCell{}, 0, newCorruptPage(0, "leaf-table cell missing overflow pointer")
		}
		overflowPage = binary.BigEndian.Uint32(data[total:])
		total += 4
	}

	return LeafTableCell{RowID: rowID, PayloadSize: payloadSize, Inline: inline, OverflowPage: overflowPage}, total, nil
}

// InteriorTableCell is a separator cell in an interior-table page:
// left_child ‖ rowid.
type InteriorTableCell struct {
	LeftChild uint32
	Key       int64
}

// BuildInteriorTableCell serializes an interior-table cell.
func BuildInteriorTableCell(c InteriorTableCell) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+VarintLen(c.Key)))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], c.LeftChild)
	buf.Write(tmp[:])
	_, _ = WriteVarint(buf, c.Key)
	return buf.Bytes()
}

// ParseInteriorTableCell parses an interior-table cell.
func ParseInteriorTableCell(data []byte) (InteriorTableCell, int, error) {
	if len(data) < 4 {
		return InteriorTableCell{}, 0, newCorruptPage(0, "interior-table cell missing left child")
	}
	left := binary.BigEndian.Uint32(data)
	r := bytes.NewReader(data[4:])
	key, n, err := ReadVarint(r)
	if err != nil {
		return InteriorTableCell{}, 0, newCorruptPage(0, "reading interior-table key: %v", err)
	}
	return InteriorTableCell{LeftChild: left, Key: key}, 4 + n, nil
}

// LeafIndexCell is a key cell in a leaf-index page:
// payload_size ‖ inline_bytes ‖ overflow_page?
type LeafIndexCell struct {
	PayloadSize  int64
	Inline       []byte
	OverflowPage uint32
}

// BuildLeafIndexCell serializes a leaf-index cell.
func BuildLeafIndexCell(c LeafIndexCell) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+VarintLen(c.PayloadSize)+len(c.Inline)))
	_, _ = WriteVarint(buf, c.PayloadSize)
	buf.Write(c.Inline)
	if c.OverflowPage != 0 {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], c.OverflowPage)
		buf.Write(tmp[:])
	}
	return buf.Bytes()
}

// ParseLeafIndexCell parses a leaf-index cell.
func ParseLeafIndexCell(data []byte, usable int) (LeafIndexCell, int, error) {
	r := bytes.NewReader(data)
	payloadSize, n1, err := ReadVarint(r)
	if err != nil {
		return LeafIndexCell{}, 0, newCorruptPage(0, "reading leaf-index payload size: %v", err)
	}

	inlineSize := indexInlineSize(usable, int(payloadSize))
	if n1+inlineSize > len(data) {
		return LeafIndexCell{}, 0, newCorruptPage(0, "leaf-index cell extends past buffer")
	}
	inline := data[n1 : n1+inlineSize]

	total := n1 + inlineSize
	var overflowPage uint32
	if inlineSize < int(payloadSize) {
		if total+4 > len(data) {
			return LeafIndexCell{}, 0, newCorruptPage(0, "leaf-index cell missing overflow pointer")
		}
		overflowPage = binary.BigEndian.Uint32(data[total:])
		total += 4
	}

	return LeafIndexCell{PayloadSize: payloadSize, Inline: inline, OverflowPage: overflowPage}, total, nil
}

// InteriorIndexCell is a separator cell in an interior-index page:
// left_child ‖ payload_size ‖ inline_bytes ‖ overflow_page?
type InteriorIndexCell struct {
	LeftChild    uint32
	PayloadSize  int64
	Inline       []byte
	OverflowPage uint32
}

// BuildInteriorIndexCell serializes an interior-index cell.
func BuildInteriorIndexCell(c InteriorIndexCell) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+VarintLen(c.PayloadSize)+len(c.Inline)))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], c.LeftChild)
	buf.Write(tmp[:])
	_, _ = WriteVarint(buf, c.PayloadSize)
	buf.Write(c.Inline)
	if c.OverflowPage != 0 {
		binary.BigEndian.PutUint32(tmp[:], c.OverflowPage)
		buf.Write(tmp[:])
	}
	return buf.Bytes()
}

// ParseInteriorIndexCell parses an interior-index cell.
func ParseInteriorIndexCell(data []byte, usable int) (InteriorIndexCell, int, error) {
	if len(data) < 4 {
		return InteriorIndexCell{}, 0, newCorruptPage(0, "interior-index cell missing left child")
	}
	left := binary.BigEndian.Uint32(data)

	r := bytes.NewReader(data[4:])
	payloadSize, n1, err := ReadVarint(r)
	if err != nil {
		return InteriorIndexCell{}, 0, newCorruptPage(0, "reading interior-index payload size: %v", err)
	}

	headerLen := 4 + n1
	inlineSize := indexInlineSize(usable, int(payloadSize))
	if headerLen+inlineSize > len(data) {
		return InteriorIndexCell{}, 0, newCorruptPage(0, "interior-index cell extends past buffer")
	}
	inline := data[headerLen : headerLen+inlineSize]

	total := headerLen + inlineSize
	var overflowPage uint32
	if inlineSize < int(payloadSize) {
		if total+4 > len(data) {
			return InteriorIndexCell{}, 0, newCorruptPage(0, "interior-index cell missing overflow pointer")
		}
		overflowPage = binary.BigEndian.Uint32(data[total:])
		total += 4
	}

	return InteriorIndexCell{LeftChild: left, PayloadSize: payloadSize, Inline: inline, OverflowPage: overflowPage}, total, nil
}
