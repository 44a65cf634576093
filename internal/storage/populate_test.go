package storage

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPopulateIndex_MatchesSortedReference(t *testing.T) {
	r := require.New(t)
	src := newTableTestSource(t)
	mut := NewTableMutator(src, 1)

	const n = 150
	var names []string
	for i := int64(0); i < n; i++ {
		name := fmt.Sprintf("person-%05d", (i*37)%n)
		names = append(names, name)
		row := EncodeRecord([]Value{TextValue(name), IntValue(i)})
		r.NoError(mut.Insert(i, row, false))
	}

	indexRootPage, err := src.AllocatePage(PageTypeLeafIndex)
	r.NoError(err)
	indexRoot := indexRootPage.Number()

	scanner, err := NewLeafScanner(src, 1)
	r.NoError(err)
	extract := func(rowid int64, row []Value) []Value {
		return []Value{row[0], IntValue(rowid)}
	}
	r.NoError(PopulateIndex(src, scanner, indexRoot, extract))

	cur, err := NewIndexCursor(src, indexRoot)
	r.NoError(err)
	var got []string
	for cur.Valid() {
		k, err := cur.Key()
		r.NoError(err)
		got = append(got, k[0].Text)
		r.NoError(cur.MoveNext())
	}

	want := append([]string(nil), names...)
	sort.Strings(want)
	r.Equal(want, got)
}

func TestPopulateIndex_EmptyTable(t *testing.T) {
	r := require.New(t)
	src := newTableTestSource(t)

	indexRootPage, err := src.AllocatePage(PageTypeLeafIndex)
	r.NoError(err)
	indexRoot := indexRootPage.Number()

	scanner, err := NewLeafScanner(src, 1)
	r.NoError(err)
	extract := func(rowid int64, row []Value) []Value { return []Value{IntValue(rowid)} }
	r.NoError(PopulateIndex(src, scanner, indexRoot, extract))

	cur, err := NewIndexCursor(src, indexRoot)
	r.NoError(err)
	r.False(cur.Valid())
}
