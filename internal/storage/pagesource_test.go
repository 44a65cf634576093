package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *pageCache {
	t.Helper()
	src := newMemorySource(4096, 0)
	if err := src.growTo(1); err != nil {
		t.Fatal(err)
	}
	return newPageCache(src, 8)
}

func TestPageCache_AllocateAndGetPage(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t)

	p, err := c.AllocatePage(PageTypeLeafTable)
	r.NoError(err)
	r.Equal(2, p.Number())

	got, err := c.GetPage(2)
	r.NoError(err)
	r.Equal(p.Header().Type, got.Header().Type)
}

func TestPageCache_DataVersion_BumpsOnWrite(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t)

	v0 := c.DataVersion()
	p, err := c.AllocatePage(PageTypeLeafTable)
	r.NoError(err)
	r.NotEqual(v0, c.DataVersion())

	v1 := c.DataVersion()
	r.NoError(c.WritePage(p))
	r.NotEqual(v1, c.DataVersion())

	v2 := c.DataVersion()
	c.Invalidate(p.Number())
	r.NotEqual(v2, c.DataVersion())
}

func TestPageCache_GetPageOwned_IsIndependentCopy(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t)

	p, err := c.AllocatePage(PageTypeLeafTable)
	r.NoError(err)
	r.NoError(c.WritePage(p))

	owned, err := c.GetPageOwned(p.Number())
	r.NoError(err)

	cellBytes := BuildLeafTableCell(LeafTableCell{RowID: 1, PayloadSize: 3, Inline: []byte{1, 2, 3}})
	r.True(TryInsertCell(owned, 0, cellBytes))
	before, err := c.GetPage(p.Number())
	r.NoError(err)
	r.Equal(uint16(0), before.Header().NumCells)
	r.NoError(c.WritePage(owned))

	shared, err := c.GetPage(p.Number())
	r.NoError(err)
	r.Equal(uint16(1), shared.Header().NumCells)
}

func TestPageCache_NeverEvictsDirtyPages(t *testing.T) {
	r := require.New(t)
	src := newMemorySource(4096, 0)
	r.NoError(src.growTo(1))
	c := newPageCache(src, 2)

	var numbers []int
	for i := 0; i < 5; i++ {
		p, err := c.AllocatePage(PageTypeLeafTable)
		r.NoError(err)
		r.NoError(c.WritePage(p))
		numbers = append(numbers, p.Number())
	}

	// Every page is still dirty, so every one of them must still be
	// reachable from the cache (not silently evicted) even though the
	// capacity is far smaller than the page count.
	for _, n := range numbers {
		got, err := c.GetPage(n)
		r.NoError(err)
		r.Equal(PageTypeLeafTable, got.Header().Type)
	}
}

func TestPageCache_FlushWritesDirtyPagesAndMarksClean(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t)

	p, err := c.AllocatePage(PageTypeLeafTable)
	r.NoError(err)
	r.NoError(c.WritePage(p))
	r.True(p.Dirty())

	r.NoError(c.Flush())
	r.False(p.Dirty())
	raw, err := c.src.readPage(p.Number())
	r.NoError(err)
	r.Equal(byte(PageTypeLeafTable), raw[0])
}

func TestPageCache_RawAccessBypassesPageHeader(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t)

	n, err := c.AllocateRaw()
	r.NoError(err)

	data := make([]byte, c.PageSize())
	data[0] = 0xFF
	r.NoError(c.WriteRaw(n, data))

	got, err := c.ReadRaw(n)
	r.NoError(err)
	r.Equal(byte(0xFF), got[0])
}
