package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/kvs/pkg/disk"
	"github.com/downfa11-org/kvs/pkg/index"
	"github.com/downfa11-org/kvs/pkg/metrics"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

// maxReadAttempts bounds how often Get re-resolves a key whose segment
// was retired by a concurrent compaction.
const maxReadAttempts = 3

// Engine is a log-structured key/value store: every mutation is appended
// to the command log and the in-memory index points each live key at its
// latest Set record.
//
// Writes are serialized on writeMu. Reads load the index through an
// atomic pointer and never take writeMu.
type Engine struct {
	cfg Config
	log *disk.CommandLog

	index   atomic.Pointer[index.Index]
	writeMu sync.Mutex

	// compactMu serializes compactions.
	compactMu sync.Mutex
	compactor *compactor

	closed atomic.Bool

	writes      atomic.Int64
	reads       atomic.Int64
	compactions atomic.Int64
}

var _ types.Store = (*Engine)(nil)

// OpenPath opens the store in dir with default settings.
func OpenPath(dir string) (*Engine, error) {
	return Open(DefaultConfig(dir))
}

// Open opens the command log in cfg.Dir and rebuilds the index by
// replaying it. A torn record at the end of the active segment is
// discarded; any other undecodable record fails with ErrCorruptRecord.
func Open(cfg Config) (*Engine, error) {
	if cfg.Dir == "" {
		return nil, errors.New("engine: data dir is required")
	}
	cfg.normalize()

	start := time.Now()
	l, err := disk.Open(cfg.Dir, cfg.logOptions())
	if err != nil {
		return nil, err
	}

	idx, err := rebuildIndex(l)
	if err != nil {
		l.Close()
		return nil, err
	}

	e := &Engine{cfg: cfg, log: l}
	e.index.Store(idx)

	util.Info("Engine opened %s in %v: %d keys, %d segments, %d log bytes",
		cfg.Dir, time.Since(start), idx.Len(), l.SegmentCount(), l.Size())
	metrics.UpdateStoreStats(e.Stats())

	if cfg.AutoCompact {
		e.compactor = newCompactor(e, cfg.CompactionCheckInterval)
		e.compactor.start()
	}
	return e, nil
}

func rebuildIndex(l *disk.CommandLog) (*index.Index, error) {
	it, err := l.ReplayAll()
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return index.Rebuild(it)
}

// Set durably records key=value before making it visible.
func (e *Engine) Set(key, value string) error {
	if e.closed.Load() {
		return types.ErrClosed
	}

	e.writeMu.Lock()
	pos, err := e.log.Append(types.SetCommand(key, value))
	if err != nil {
		e.writeMu.Unlock()
		return err
	}
	e.index.Load().Upsert(key, pos)
	e.writeMu.Unlock()

	e.writes.Add(1)
	e.maybeCompact()
	return nil
}

// Get returns the latest value of key. A missing key reports found=false
// with a nil error.
func (e *Engine) Get(key string) (string, bool, error) {
	if e.closed.Load() {
		return "", false, types.ErrClosed
	}
	e.reads.Add(1)

	var lastErr error
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		idx := e.index.Load()
		pos, ok := idx.Lookup(key)
		if !ok {
			return "", false, nil
		}

		cmd, err := e.log.Read(pos)
		if err != nil {
			// the segment was retired after a compaction swapped the index
			if errors.Is(err, disk.ErrSegmentRetired) && e.index.Load() != idx {
				lastErr = err
				continue
			}
			return "", false, err
		}

		if cmd.Kind != types.CommandSet || cmd.Key != key {
			return "", false, &types.CorruptRecordError{
				SegmentID: pos.SegmentID,
				Offset:    pos.Offset,
				Reason:    fmt.Sprintf("index entry for %q points at %s", key, cmd),
			}
		}
		return cmd.Value, true, nil
	}
	return "", false, lastErr
}

// Remove deletes key. It returns ErrKeyNotFound, and writes nothing, when
// the key is absent.
func (e *Engine) Remove(key string) error {
	if e.closed.Load() {
		return types.ErrClosed
	}

	e.writeMu.Lock()
	idx := e.index.Load()
	if _, ok := idx.Lookup(key); !ok {
		e.writeMu.Unlock()
		return types.ErrKeyNotFound
	}
	if _, err := e.log.Append(types.RemoveCommand(key)); err != nil {
		e.writeMu.Unlock()
		return err
	}
	idx.Delete(key)
	e.writeMu.Unlock()

	e.writes.Add(1)
	e.maybeCompact()
	return nil
}

// Compact rewrites the live contents of the sealed segments into one
// segment and drops the old ones.
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return types.ErrClosed
	}
	return e.compact()
}

func (e *Engine) Stats() types.Stats {
	idx := e.index.Load()
	return types.Stats{
		Keys:        idx.Len(),
		Segments:    e.log.SegmentCount(),
		LogBytes:    e.log.Size(),
		LiveBytes:   idx.LiveBytes(),
		Compactions: e.compactions.Load(),
		Writes:      e.writes.Load(),
		Reads:       e.reads.Load(),
	}
}

// StoreID returns the identifier persisted in the store's manifest.
func (e *Engine) StoreID() string {
	return e.log.StoreID()
}

// Sync fsyncs the active segment.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return types.ErrClosed
	}
	return e.log.Sync()
}

// Close stops background compaction, then flushes and closes the log.
// Calls after the first return nil.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.compactor != nil {
		e.compactor.stop()
	}

	e.compactMu.Lock()
	defer e.compactMu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.log.Close(); err != nil {
		return err
	}
	util.Info("Engine closed %s", e.cfg.Dir)
	return nil
}

// maybeCompact nudges the background compactor when the log looks stale.
func (e *Engine) maybeCompact() {
	if e.compactor == nil {
		return
	}
	if e.shouldCompact() {
		e.compactor.notify()
	}
}

func (e *Engine) shouldCompact() bool {
	idx := e.index.Load()
	logBytes := e.log.Size()
	if logBytes < e.cfg.CompactionMinBytes {
		return false
	}
	stats := types.Stats{LogBytes: logBytes, LiveBytes: idx.LiveBytes()}
	return stats.StaleRatio() >= e.cfg.CompactionRatio
}
