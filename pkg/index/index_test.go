package index_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/downfa11-org/kvs/pkg/index"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceIterator struct {
	recs []types.LogRecord
	i    int
	err  error
}

func (s *sliceIterator) Next() bool {
	if s.i >= len(s.recs) {
		return false
	}
	s.i++
	return true
}

func (s *sliceIterator) Record() types.LogRecord { return s.recs[s.i-1] }
func (s *sliceIterator) Err() error              { return s.err }

func pos(seg uint64, off int64, length uint32) types.LogPosition {
	return types.LogPosition{SegmentID: seg, Offset: off, Length: length}
}

func TestRebuildFoldsReplay(t *testing.T) {
	it := &sliceIterator{recs: []types.LogRecord{
		{Position: pos(1, 0, 10), Command: types.SetCommand("foo", "bar")},
		{Position: pos(1, 10, 12), Command: types.SetCommand("baz", "qux")},
		{Position: pos(1, 22, 11), Command: types.SetCommand("foo", "bar2")},
		{Position: pos(2, 0, 8), Command: types.RemoveCommand("baz")},
		{Position: pos(2, 8, 9), Command: types.RemoveCommand("never-set")},
	}}

	idx, err := index.Rebuild(it)
	require.NoError(t, err)

	p, ok := idx.Lookup("foo")
	assert.True(t, ok)
	assert.Equal(t, pos(1, 22, 11), p)

	_, ok = idx.Lookup("baz")
	assert.False(t, ok)

	assert.Equal(t, int64(1), idx.Len())
	assert.Equal(t, int64(11), idx.LiveBytes())
}

func TestRebuildPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := index.Rebuild(&sliceIterator{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestUpsertDeleteAccounting(t *testing.T) {
	idx := index.New()

	_, existed := idx.Upsert("a", pos(1, 0, 10))
	assert.False(t, existed)
	prev, existed := idx.Upsert("a", pos(1, 10, 15))
	assert.True(t, existed)
	assert.Equal(t, pos(1, 0, 10), prev)
	idx.Upsert("b", pos(1, 25, 5))

	assert.Equal(t, int64(2), idx.Len())
	assert.Equal(t, int64(20), idx.LiveBytes())

	assert.True(t, idx.Delete("a"))
	assert.False(t, idx.Delete("a"))
	assert.Equal(t, int64(1), idx.Len())
	assert.Equal(t, int64(5), idx.LiveBytes())
}

func TestCompareAndSwap(t *testing.T) {
	idx := index.New()
	idx.Upsert("k", pos(1, 0, 10))

	assert.False(t, idx.CompareAndSwap("k", pos(1, 99, 10), pos(5, 0, 10)))
	assert.False(t, idx.CompareAndSwap("missing", pos(1, 0, 10), pos(5, 0, 10)))
	assert.True(t, idx.CompareAndSwap("k", pos(1, 0, 10), pos(5, 0, 7)))

	p, _ := idx.Lookup("k")
	assert.Equal(t, pos(5, 0, 7), p)
	assert.Equal(t, int64(7), idx.LiveBytes())
}

func TestCloneIsIndependent(t *testing.T) {
	idx := index.New()
	for i := 0; i < 100; i++ {
		idx.Upsert(fmt.Sprintf("k%d", i), pos(1, int64(i*10), 10))
	}

	c := idx.Clone()
	c.Delete("k0")
	c.Upsert("new", pos(2, 0, 3))

	_, ok := idx.Lookup("k0")
	assert.True(t, ok)
	_, ok = idx.Lookup("new")
	assert.False(t, ok)
	assert.Equal(t, int64(100), idx.Len())
	assert.Equal(t, int64(100), c.Len())
	assert.Equal(t, int64(1000), idx.LiveBytes())
	assert.Equal(t, int64(993), c.LiveBytes())

	snap := idx.Snapshot()
	assert.Len(t, snap, 100)
	assert.Equal(t, pos(1, 50, 10), snap["k5"])
}

func TestConcurrentAccess(t *testing.T) {
	idx := index.New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				idx.Upsert(key, pos(1, int64(i), 1))
				_, ok := idx.Lookup(key)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int64(4000), idx.Len())
	assert.Equal(t, int64(4000), idx.LiveBytes())
}
