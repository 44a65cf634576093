package storage

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRawMemorySource(t *testing.T, pageSize int) *pageCache {
	t.Helper()
	src := newMemorySource(pageSize, 0)
	require.NoError(t, src.growTo(1))
	return newPageCache(src, 16)
}

func TestOverflow_RoundTrip_SinglePage(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 128)

	payload := bytes.Repeat([]byte{0x11}, 50)
	page, err := writeOverflow(c, payload)
	r.NoError(err)
	r.NotZero(page)

	got, err := readOverflow(c, page, len(payload))
	r.NoError(err)
	r.Equal(payload, got)
}

func TestOverflow_RoundTrip_MultiPage(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 64)

	payload := bytes.Repeat([]byte{0x22}, 500)
	page, err := writeOverflow(c, payload)
	r.NoError(err)

	got, err := readOverflow(c, page, len(payload))
	r.NoError(err)
	r.Equal(payload, got)
}

func TestOverflow_EmptyTailReturnsZeroPage(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 64)

	page, err := writeOverflow(c, nil)
	r.NoError(err)
	r.Zero(page)
}

func TestOverflow_CycleDetection(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 64)

	n1, err := c.AllocateRaw()
	r.NoError(err)
	n2, err := c.AllocateRaw()
	r.NoError(err)

	buf1 := make([]byte, 64)
	binary.BigEndian.PutUint32(buf1, uint32(n2))
	r.NoError(c.WriteRaw(n1, buf1))

	buf2 := make([]byte, 64)
	binary.BigEndian.PutUint32(buf2, uint32(n1)) // points back to n1: a cycle
	r.NoError(c.WriteRaw(n2, buf2))

	_, err = readOverflow(c, uint32(n1), 1000)
	r.Error(err)
	var cp *CorruptPageError
	r.ErrorAs(err, &cp)
}
