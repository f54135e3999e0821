package index

import (
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

const numShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]types.LogPosition
}

// Index maps every live key to the position of the command that last set
// it. Shards are locked independently, so lookups from many goroutines do
// not contend with each other or with a single writer.
type Index struct {
	shards    [numShards]*shard
	count     atomic.Int64
	liveBytes atomic.Int64
}

// RecordIterator is the replay source consumed by Rebuild.
type RecordIterator interface {
	Next() bool
	Record() types.LogRecord
	Err() error
}

func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i] = &shard{entries: make(map[string]types.LogPosition)}
	}
	return idx
}

// Rebuild folds a replay in log order: a set points the key at its
// record, a remove drops the key.
func Rebuild(it RecordIterator) (*Index, error) {
	idx := New()
	for it.Next() {
		rec := it.Record()
		switch rec.Command.Kind {
		case types.CommandSet:
			idx.Upsert(rec.Command.Key, rec.Position)
		case types.CommandRemove:
			idx.Delete(rec.Command.Key)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) shardFor(key string) *shard {
	return idx.shards[util.Hash(key)%numShards]
}

func (idx *Index) Lookup(key string) (types.LogPosition, bool) {
	s := idx.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.entries[key]
	return pos, ok
}

// Upsert points key at pos and returns the position it replaced, if any.
func (idx *Index) Upsert(key string, pos types.LogPosition) (types.LogPosition, bool) {
	s := idx.shardFor(key)
	s.mu.Lock()
	prev, existed := s.entries[key]
	s.entries[key] = pos
	s.mu.Unlock()

	if existed {
		idx.liveBytes.Add(int64(pos.Length) - int64(prev.Length))
	} else {
		idx.count.Add(1)
		idx.liveBytes.Add(int64(pos.Length))
	}
	return prev, existed
}

// Delete removes key and reports whether it was present.
func (idx *Index) Delete(key string) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	prev, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		idx.count.Add(-1)
		idx.liveBytes.Add(-int64(prev.Length))
	}
	return existed
}

// CompareAndSwap repoints key only while it still refers to old.
func (idx *Index) CompareAndSwap(key string, old, pos types.LogPosition) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	cur, ok := s.entries[key]
	if !ok || cur != old {
		s.mu.Unlock()
		return false
	}
	s.entries[key] = pos
	s.mu.Unlock()

	idx.liveBytes.Add(int64(pos.Length) - int64(old.Length))
	return true
}

// Len returns the number of live keys.
func (idx *Index) Len() int64 {
	return idx.count.Load()
}

// LiveBytes returns the total size of the records the index points at.
func (idx *Index) LiveBytes() int64 {
	return idx.liveBytes.Load()
}

// Snapshot copies the index into a plain map.
func (idx *Index) Snapshot() map[string]types.LogPosition {
	out := make(map[string]types.LogPosition, idx.Len())
	idx.Range(func(key string, pos types.LogPosition) bool {
		out[key] = pos
		return true
	})
	return out
}

// Range calls fn for every entry until fn returns false. Each shard is
// read-locked while it is visited.
func (idx *Index) Range(fn func(key string, pos types.LogPosition) bool) {
	for _, s := range idx.shards {
		s.mu.RLock()
		for k, p := range s.entries {
			if !fn(k, p) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Clone returns an independent deep copy.
func (idx *Index) Clone() *Index {
	c := New()
	for i, s := range idx.shards {
		s.mu.RLock()
		dst := c.shards[i].entries
		for k, p := range s.entries {
			dst[k] = p
		}
		s.mu.RUnlock()
	}
	c.count.Store(idx.count.Load())
	c.liveBytes.Store(idx.liveBytes.Load())
	return c
}
