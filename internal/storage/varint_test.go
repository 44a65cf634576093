package storage

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarint_RoundTrip(t *testing.T) {
	r := require.New(t)

	for i := -2048; i < 2048; i++ {
		buf := bytes.Buffer{}
		written, err := WriteVarint(&buf, int64(i))
		r.NoError(err)
		r.Equal(VarintLen(int64(i)), written)

		v, consumed, err := ReadVarint(bytes.NewReader(buf.Bytes()))
		r.NoError(err)
		r.Equal(int64(i), v)
		r.Equal(written, consumed)
	}
}

func TestVarint_BoundaryValues(t *testing.T) {
	r := require.New(t)

	cases := []struct {
		value    int64
		expected int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{-1, 9},
		{math.MaxInt64, 9},
		{math.MinInt64, 9},
	}

	for _, c := range cases {
		buf := bytes.Buffer{}
		written, err := WriteVarint(&buf, c.value)
		r.NoError(err)
		r.Equal(c.expected, written, "value %d", c.value)

		v, consumed, err := ReadVarint(bytes.NewReader(buf.Bytes()))
		r.NoError(err)
		r.Equal(c.value, v)
		r.Equal(written, consumed)
	}
}

func TestVarint_TruncatedBufferErrors(t *testing.T) {
	r := require.New(t)

	buf := bytes.Buffer{}
	_, err := WriteVarint(&buf, 16384)
	r.NoError(err)

	truncated := buf.Bytes()[:1]
	_, _, err = ReadVarint(bytes.NewReader(truncated))
	r.Error(err)
}
