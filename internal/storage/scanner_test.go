package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafScanner_VisitsAllRowsAcrossMultipleLeaves(t *testing.T) {
	r := require.New(t)
	src := newTableTestSource(t)
	mut := NewTableMutator(src, 1)

	const n = 200
	for i := int64(0); i < n; i++ {
		r.NoError(mut.Insert(i, []byte(fmt.Sprintf("row-padding-%05d-aaaaaaaaaaaaaaaaaaaaaaaaaa", i)), false))
	}

	root, err := src.GetPage(1)
	r.NoError(err)
	r.True(root.Header().Type.IsInterior())

	scanner, err := NewLeafScanner(src, 1)
	r.NoError(err)
	var seen []int64
	for scanner.Valid() {
		rowid, _, err := scanner.Row()
		r.NoError(err)
		seen = append(seen, rowid)
		r.NoError(scanner.Next())
	}
	r.Len(seen, n)
	for i, rowid := range seen {
		r.Equal(int64(i), rowid)
	}
}

func TestLeafScanner_EmptyTable(t *testing.T) {
	r := require.New(t)
	src := newTableTestSource(t)

	scanner, err := NewLeafScanner(src, 1)
	r.NoError(err)
	r.False(scanner.Valid())
}

func TestLeafScanner_IsStale(t *testing.T) {
	r := require.New(t)
	src := newTableTestSource(t)
	mut := NewTableMutator(src, 1)
	r.NoError(mut.Insert(1, []byte("v"), false))

	scanner, err := NewLeafScanner(src, 1)
	r.NoError(err)
	r.False(scanner.IsStale())

	r.NoError(mut.Insert(2, []byte("v"), false))
	r.True(scanner.IsStale())
}
