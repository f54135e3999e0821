package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/downfa11-org/kvs/pkg/metrics"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

type movedEntry struct {
	key string
	old types.LogPosition
	pos types.LogPosition
}

// compact rewrites every live entry of the sealed segments into a single
// segment whose id sorts before the active one, then swaps it in:
//
//  1. under writeMu: seal the active segment and snapshot the index
//  2. unlocked: copy the snapshotted records into the reserved segment
//  3. under writeMu: repoint keys that did not change meanwhile, commit
//     the manifest, publish the new index and retire the old segments
//
// A failure before the manifest commit leaves the store untouched.
func (e *Engine) compact() (err error) {
	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	if e.closed.Load() {
		return types.ErrClosed
	}

	start := time.Now()
	var reclaimed int64
	defer func() {
		metrics.ObserveCompaction(err, time.Since(start), reclaimed)
		if err != nil {
			util.Error("compaction of %s failed: %v", e.cfg.Dir, err)
		}
	}()

	e.writeMu.Lock()
	reserved, sealed, err := e.log.SealActive()
	if err != nil {
		e.writeMu.Unlock()
		return err
	}
	snapshot := e.index.Load().Snapshot()
	before := e.log.Size()
	e.writeMu.Unlock()

	entries := make([]movedEntry, 0, len(snapshot))
	for k, p := range snapshot {
		entries = append(entries, movedEntry{key: k, old: p})
	}
	// copy in log order so the old segments are read sequentially
	slices.SortFunc(entries, func(a, b movedEntry) int {
		switch {
		case a.old.Less(b.old):
			return -1
		case b.old.Less(a.old):
			return 1
		default:
			return 0
		}
	})

	seg, err := e.log.CreateSegment(reserved)
	if err != nil {
		return err
	}
	for i := range entries {
		ent := &entries[i]
		cmd, err := e.log.Read(ent.old)
		if err != nil {
			e.log.DiscardSegment(seg)
			return err
		}
		if cmd.Kind != types.CommandSet || cmd.Key != ent.key {
			e.log.DiscardSegment(seg)
			return &types.CorruptRecordError{
				SegmentID: ent.old.SegmentID,
				Offset:    ent.old.Offset,
				Reason:    fmt.Sprintf("index entry for %q points at %s", ent.key, cmd),
			}
		}
		if ent.pos, err = seg.Append(cmd); err != nil {
			e.log.DiscardSegment(seg)
			return err
		}
	}
	written := seg.Size()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	live := e.index.Load().Clone()
	kept := 0
	for _, ent := range entries {
		if live.CompareAndSwap(ent.key, ent.old, ent.pos) {
			kept++
		}
	}

	if err := e.log.Adopt(seg, sealed); err != nil {
		e.log.DiscardSegment(seg)
		return err
	}
	e.index.Store(live)
	e.log.Retire(sealed)

	e.compactions.Add(1)
	reclaimed = before - written
	util.Info("Compacted %d segments of %s into segment %d in %v: %d keys rewritten, %d superseded meanwhile, %d bytes reclaimed",
		len(sealed), e.cfg.Dir, reserved, time.Since(start), kept, len(entries)-kept, reclaimed)
	metrics.UpdateStoreStats(e.Stats())
	return nil
}

// compactor runs compaction in the background when notified or when its
// periodic policy check finds the log stale enough.
type compactor struct {
	e        *Engine
	interval time.Duration
	trigger  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCompactor(e *Engine, interval time.Duration) *compactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &compactor{
		e:        e,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *compactor) start() {
	c.wg.Add(1)
	go c.run()
}

// notify never blocks; a pending trigger absorbs further ones.
func (c *compactor) notify() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *compactor) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.trigger:
		case <-ticker.C:
			metrics.UpdateStoreStats(c.e.Stats())
		}
		if c.ctx.Err() != nil {
			return
		}
		if !c.e.shouldCompact() {
			continue
		}
		util.Debug("Background compaction of %s triggered", c.e.cfg.Dir)
		// errors are logged and metered by compact
		_ = c.e.compact()
	}
}

func (c *compactor) stop() {
	c.cancel()
	c.wg.Wait()
}
