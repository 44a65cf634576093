package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameStack_PushPop_LIFO(t *testing.T) {
	r := require.New(t)
	var s frameStack

	for i := 0; i < 20; i++ {
		s.push(packFrame(i, i*2))
	}
	for i := 19; i >= 0; i-- {
		f, ok := s.pop()
		r.True(ok)
		r.Equal(i, f.page())
		r.Equal(i*2, f.cellIndex())
	}
	_, ok := s.pop()
	r.False(ok)
}

func TestFrameStack_SpillsPastInlineCapacity(t *testing.T) {
	r := require.New(t)
	var s frameStack

	for i := 0; i < 100; i++ {
		s.push(packFrame(1000+i, i))
	}
	r.NotEmpty(s.heap)

	count := 0
	for {
		_, ok := s.pop()
		if !ok {
			break
		}
		count++
	}
	r.Equal(100, count)
}

func TestFrameStack_Reset(t *testing.T) {
	r := require.New(t)
	var s frameStack
	s.push(packFrame(1, 2))
	s.reset()
	_, ok := s.pop()
	r.False(ok)
}

func TestPackFrame_RoundTrip(t *testing.T) {
	r := require.New(t)
	f := packFrame(65536, 12345)
	r.Equal(65536, f.page())
	r.Equal(12345, f.cellIndex())
}
