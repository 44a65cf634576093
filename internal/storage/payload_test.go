package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpillPayload_InlineOnlyWhenSmall(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 4096)

	payload := bytes.Repeat([]byte{0x7}, 20)
	inline, overflowPage, err := spillPayload(c, payload, tableInlineSize)
	r.NoError(err)
	r.Equal(payload, inline)
	r.Zero(overflowPage)
}

func TestSpillPayload_SpillsAndReassembles(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 512)

	payload := bytes.Repeat([]byte{0x9}, 5000)
	inline, overflowPage, err := spillPayload(c, payload, tableInlineSize)
	r.NoError(err)
	r.NotZero(overflowPage)
	r.Less(len(inline), len(payload))

	full, err := readPayload(c, inline, overflowPage, int64(len(payload)))
	r.NoError(err)
	r.Equal(payload, full)
}

func TestSpillPayload_IndexVariant(t *testing.T) {
	r := require.New(t)
	c := newRawMemorySource(t, 512)

	payload := bytes.Repeat([]byte{0x3}, 3000)
	inline, overflowPage, err := spillPayload(c, payload, indexInlineSize)
	r.NoError(err)
	r.NotZero(overflowPage)

	full, err := readPayload(c, inline, overflowPage, int64(len(payload)))
	r.NoError(err)
	r.Equal(payload, full)
}
