package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newIndexTestSource(t *testing.T) PageSource {
	t.Helper()
	src := newMemorySource(512, 0)
	require.NoError(t, src.growTo(1))
	c := newPageCache(src, 64)
	root := newEmptyPage(1, PageTypeLeafIndex, 512, 512)
	require.NoError(t, c.WritePage(root))
	return c
}

func TestCompareValues_BinaryCollationOrdering(t *testing.T) {
	r := require.New(t)

	// NULL < numeric < TEXT < BLOB, with INTEGER and REAL compared
	// numerically against each other rather than by storage class.
	r.Less(compareValues(NullValue(), IntValue(0)), 0)
	r.Equal(0, compareValues(IntValue(3), RealValue(3.0)))
	r.Less(compareValues(IntValue(2), RealValue(2.5)), 0)
	r.Less(compareValues(RealValue(100.0), TextValue("a")), 0)
	r.Less(compareValues(TextValue("zzz"), BlobValue([]byte{0})), 0)
	r.Less(compareValues(TextValue("abc"), TextValue("abd")), 0)
	r.Less(compareValues(BlobValue([]byte{1, 2}), BlobValue([]byte{1, 2, 3})), 0)
}

func TestIndexMutator_InsertAndScanInCollationOrder(t *testing.T) {
	r := require.New(t)
	src := newIndexTestSource(t)
	mut := NewIndexMutator(src, 1)

	keys := [][]Value{
		{TextValue("banana"), IntValue(1)},
		{NullValue(), IntValue(2)},
		{IntValue(42), IntValue(3)},
		{RealValue(3.14), IntValue(4)},
		{BlobValue([]byte{0xFF}), IntValue(5)},
		{TextValue("apple"), IntValue(6)},
		{IntValue(-7), IntValue(7)},
	}
	for _, k := range keys {
		r.NoError(mut.Insert(k))
	}

	cur, err := NewIndexCursor(src, 1)
	r.NoError(err)
	var prev []Value
	count := 0
	for cur.Valid() {
		k, err := cur.Key()
		r.NoError(err)
		if prev != nil {
			r.LessOrEqual(compareRecordKeys(prev, k), 0)
		}
		prev = k
		count++
		r.NoError(cur.MoveNext())
	}
	r.Equal(len(keys), count)
}

func TestIndexMutator_SplitsAndPreservesRootNumber(t *testing.T) {
	r := require.New(t)
	src := newIndexTestSource(t)
	mut := NewIndexMutator(src, 1)

	const n = 300
	for i := int64(0); i < n; i++ {
		key := []Value{TextValue(fmt.Sprintf("key-%06d-padding-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", i)), IntValue(i)}
		r.NoError(mut.Insert(key))
	}

	root, err := src.GetPage(1)
	r.NoError(err)
	r.True(root.Header().Type.IsInterior())

	cur, err := NewIndexCursor(src, 1)
	r.NoError(err)
	var prev []Value
	count := 0
	for cur.Valid() {
		k, err := cur.Key()
		r.NoError(err)
		if prev != nil {
			r.Less(compareRecordKeys(prev, k), 0)
		}
		prev = k
		count++
		r.NoError(cur.MoveNext())
	}
	r.Equal(n, count)
}

func TestIndexMutator_Delete(t *testing.T) {
	r := require.New(t)
	src := newIndexTestSource(t)
	mut := NewIndexMutator(src, 1)

	keys := [][]Value{
		{IntValue(1), IntValue(1)},
		{IntValue(2), IntValue(2)},
		{IntValue(3), IntValue(3)},
	}
	for _, k := range keys {
		r.NoError(mut.Insert(k))
	}
	r.NoError(mut.Delete(keys[1]))
	r.ErrorIs(mut.Delete(keys[1]), ErrNotFound)

	cur, err := NewIndexCursor(src, 1)
	r.NoError(err)
	var seen []int64
	for cur.Valid() {
		k, err := cur.Key()
		r.NoError(err)
		seen = append(seen, k[0].Int)
		r.NoError(cur.MoveNext())
	}
	r.Equal([]int64{1, 3}, seen)
}
