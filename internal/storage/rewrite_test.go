package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryInsertCell_SucceedsThenFailsWhenFull(t *testing.T) {
	r := require.New(t)

	p := newEmptyPage(2, PageTypeLeafTable, 512, 512)
	cellBytes := BuildLeafTableCell(LeafTableCell{RowID: 1, PayloadSize: 400, Inline: bytes.Repeat([]byte{9}, 400)})
	r.True(TryInsertCell(p, 0, cellBytes))
	r.Equal(uint16(1), p.Header().NumCells)

	// A second cell of similar size can't possibly fit in the
	// remaining ~100 bytes.
	cellBytes2 := BuildLeafTableCell(LeafTableCell{RowID: 2, PayloadSize: 400, Inline: bytes.Repeat([]byte{9}, 400)})
	r.False(TryInsertCell(p, 1, cellBytes2))
	r.Equal(uint16(1), p.Header().NumCells)
}

func TestRemoveCell_ThenDefragmentReclaimsSpace(t *testing.T) {
	r := require.New(t)

	p := newEmptyPage(1, PageTypeLeafTable, 512, 512)
	for i := int64(0); i < 3; i++ {
		cellBytes := BuildLeafTableCell(LeafTableCell{RowID: i, PayloadSize: 100, Inline: bytes.Repeat([]byte{byte(i)}, 100)})
		r.True(TryInsertCell(p, int(i), cellBytes))
	}
	freeBefore := p.FreeSpace()

	r.NoError(RemoveCell(p, 1))
	r.Equal(uint16(2), p.Header().NumCells)
	r.Greater(int(p.Header().FragmentedFreeBytes), 0)
	// The removed cell's content bytes aren't reclaimed until
	// DefragmentPage runs; only its 2-byte pointer slot is freed.
	r.Equal(freeBefore+2, p.FreeSpace())

	r.NoError(DefragmentPage(p))
	r.Equal(byte(0), p.Header().FragmentedFreeBytes)
	r.Greater(p.FreeSpace(), freeBefore)

	cell0, _, err := ParseLeafTableCell(p.CellBytes(0), p.Usable())
	r.NoError(err)
	r.Equal(int64(0), cell0.RowID)
	cell1, _, err := ParseLeafTableCell(p.CellBytes(1), p.Usable())
	r.NoError(err)
	r.Equal(int64(2), cell1.RowID)
}

func TestBuildLeafPage_OutOfSpace(t *testing.T) {
	r := require.New(t)

	var cells [][]byte
	for i := int64(0); i < 10; i++ {
		cells = append(cells, BuildLeafTableCell(LeafTableCell{RowID: i, PayloadSize: 100, Inline: bytes.Repeat([]byte{1}, 100)}))
	}

	_, err := BuildLeafPage(1, PageTypeLeafTable, 512, 512, cells)
	r.Error(err)
	var oos *OutOfSpaceError
	r.ErrorAs(err, &oos)
}

func TestBuildInteriorPage_RoundTrip(t *testing.T) {
	r := require.New(t)

	sep := BuildInteriorTableCell(InteriorTableCell{LeftChild: 2, Key: 10})
	p, err := BuildInteriorPage(1, PageTypeInteriorTable, 512, 512, [][]byte{sep}, 3)
	r.NoError(err)
	r.Equal(uint32(3), p.Header().RightChild)
	r.Equal(uint16(1), p.Header().NumCells)

	got, _, err := ParseInteriorTableCell(p.CellBytes(0))
	r.NoError(err)
	r.Equal(uint32(2), got.LeftChild)
	r.Equal(int64(10), got.Key)
}
