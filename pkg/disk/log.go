package disk

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

const DefaultSegmentSize = 1 << 20

type Options struct {
	// SegmentSize is the size at which the active segment is sealed and a
	// new one started.
	SegmentSize     int64
	SyncWrites      bool
	CompressionType string
}

func (o *Options) normalize() {
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
}

// CommandLog owns the ordered set of segments of one store directory:
// zero or more sealed segments and exactly one active segment.
type CommandLog struct {
	dir   string
	opts  Options
	codec byte

	appendMu sync.Mutex // serializes appends and rolls

	mu       sync.RWMutex // segments, active, manifest
	segments map[uint64]*Segment
	active   *Segment
	manifest *Manifest
	closed   bool
}

// Open loads or creates the command log in dir. A torn record at the end
// of the active segment is truncated away.
func Open(dir string, opts Options) (*CommandLog, error) {
	opts.normalize()
	codec, err := util.CodecID(opts.CompressionType)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.IOError("create data dir", dir, err)
	}

	l := &CommandLog{
		dir:      dir,
		opts:     opts,
		codec:    codec,
		segments: make(map[uint64]*Segment),
	}

	m, found, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	if !found {
		if m, err = l.bootstrapManifest(); err != nil {
			return nil, err
		}
	}

	if err := sweep(dir, m); err != nil {
		return nil, types.IOError("sweep", dir, err)
	}

	if err := l.openSegments(m); err != nil {
		l.closeAll()
		return nil, err
	}
	l.manifest = m

	if err := l.recoverActiveTail(); err != nil {
		l.closeAll()
		return nil, err
	}

	if !found {
		if err := m.save(dir); err != nil {
			l.closeAll()
			return nil, err
		}
	}

	util.Info("Command log opened at %s: store %s, %d sealed segments, active %d",
		dir, m.StoreID, len(m.Segments), m.Active)
	return l, nil
}

// bootstrapManifest builds a manifest for a directory without one. Any
// segment files already present are adopted in id order, the newest
// becoming the active segment.
func (l *CommandLog) bootstrapManifest() (*Manifest, error) {
	m := newManifest()
	ids, err := discoverSegments(l.dir)
	if err != nil {
		return nil, types.IOError("list segments", l.dir, err)
	}
	if len(ids) == 0 {
		return m, nil
	}

	util.Warn("No manifest in %s, adopting %d existing segments", l.dir, len(ids))
	m.Segments = ids[:len(ids)-1]
	m.Active = ids[len(ids)-1]
	m.NextSegmentID = m.Active + 1
	return m, nil
}

func (l *CommandLog) openSegments(m *Manifest) error {
	for _, id := range m.Segments {
		if _, err := os.Stat(SegmentPath(l.dir, id)); err != nil {
			return types.IOError("open sealed segment", SegmentPath(l.dir, id), err)
		}
		seg, err := openSealedSegment(l.dir, id)
		if err != nil {
			return err
		}
		l.segments[id] = seg
	}

	active, err := openWritableSegment(l.dir, m.Active, l.codec, l.opts.SyncWrites)
	if err != nil {
		return err
	}
	l.segments[m.Active] = active
	l.active = active
	return nil
}

func (l *CommandLog) recoverActiveTail() error {
	it := l.active.Iterator()
	records := 0
	for it.Next() {
		records++
	}
	if err := it.Err(); err != nil {
		return err
	}
	if off, torn := it.Torn(); torn {
		util.Warn("Recovery: discarding torn tail of segment %d at offset %d (%d bytes, %d records kept)",
			l.active.ID, off, l.active.Size()-off, records)
		return l.active.truncate(off)
	}
	return nil
}

// Append writes cmd to the active segment, rolling to a fresh segment
// first when the active one has reached the size threshold.
func (l *CommandLog) Append(cmd types.Command) (types.LogPosition, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return types.LogPosition{}, types.ErrClosed
	}
	active := l.active
	l.mu.RUnlock()

	if active.Size() >= l.opts.SegmentSize {
		if err := l.roll(); err != nil {
			return types.LogPosition{}, err
		}
		l.mu.RLock()
		active = l.active
		l.mu.RUnlock()
	}

	return active.Append(cmd)
}

// roll seals the active segment and installs a new one with the next id.
func (l *CommandLog) roll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.rotateLocked(false)
	return err
}

// rotateLocked replaces the active segment. With reserve set, one id is
// skipped and returned so a compaction output can be ordered between the
// sealed segments and the new active one.
func (l *CommandLog) rotateLocked(reserve bool) (uint64, error) {
	old := l.active
	if err := old.Sync(); err != nil {
		return 0, err
	}

	m := l.manifest.clone()
	var reserved uint64
	if reserve {
		reserved = m.NextSegmentID
		m.NextSegmentID++
	}
	nextID := m.NextSegmentID
	m.NextSegmentID++

	seg, err := createSegment(l.dir, nextID, l.codec, l.opts.SyncWrites)
	if err != nil {
		return 0, err
	}

	m.Segments = append(m.Segments, old.ID)
	slices.Sort(m.Segments)
	m.Active = nextID
	if err := m.save(l.dir); err != nil {
		seg.removeFile()
		return 0, err
	}

	if err := old.seal(); err != nil {
		util.Error("failed to seal segment %d: %v", old.ID, err)
	}
	l.segments[nextID] = seg
	l.active = seg
	l.manifest = m

	util.Debug("Rolled segment %d -> %d (%d bytes)", old.ID, nextID, old.Size())
	return reserved, nil
}

// SealActive seals the active segment for a compaction and returns the
// id reserved for the compaction output together with the ids of every
// sealed segment, which the output will replace.
func (l *CommandLog) SealActive() (uint64, []uint64, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, nil, types.ErrClosed
	}

	reserved, err := l.rotateLocked(true)
	if err != nil {
		return 0, nil, err
	}
	sealed := slices.Clone(l.manifest.Segments)
	return reserved, sealed, nil
}

// CreateSegment opens a writable segment outside the live set.
func (l *CommandLog) CreateSegment(id uint64) (*Segment, error) {
	return createSegment(l.dir, id, l.codec, false)
}

// DiscardSegment deletes a segment created by CreateSegment that was never adopted.
func (l *CommandLog) DiscardSegment(seg *Segment) {
	seg.removeFile()
}

// Adopt makes seg durable and commits a manifest in which it replaces the
// given sealed segments. The replaced segments stay readable until Retire.
func (l *CommandLog) Adopt(seg *Segment, replaced []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return types.ErrClosed
	}
	if seg.ID >= l.manifest.Active {
		return fmt.Errorf("compacted segment %d must precede active segment %d", seg.ID, l.manifest.Active)
	}

	if err := seg.seal(); err != nil {
		return err
	}

	gone := make(map[uint64]bool, len(replaced))
	for _, id := range replaced {
		gone[id] = true
	}

	m := l.manifest.clone()
	m.Segments = slices.DeleteFunc(m.Segments, func(id uint64) bool { return gone[id] })
	m.Segments = append(m.Segments, seg.ID)
	slices.Sort(m.Segments)
	if err := m.save(l.dir); err != nil {
		return err
	}

	l.segments[seg.ID] = seg
	l.manifest = m
	return nil
}

// Retire removes segments from the live set. Each file is deleted once
// the last in-flight reader releases it.
func (l *CommandLog) Retire(ids []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		seg, ok := l.segments[id]
		if !ok || seg == l.active {
			continue
		}
		delete(l.segments, id)
		seg.retire()
	}
}

// Read returns the command stored at pos.
func (l *CommandLog) Read(pos types.LogPosition) (types.Command, error) {
	seg, err := l.acquire(pos.SegmentID)
	if err != nil {
		return types.Command{}, err
	}
	defer seg.release()

	return seg.Read(pos.Offset, pos.Length)
}

func (l *CommandLog) acquire(id uint64) (*Segment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, types.ErrClosed
	}
	seg, ok := l.segments[id]
	if !ok || !seg.acquire() {
		return nil, fmt.Errorf("%w: %d", ErrSegmentRetired, id)
	}
	return seg, nil
}

// ReplayAll iterates every command of every live segment in (segment id,
// offset) order. The caller must Close the iterator.
func (l *CommandLog) ReplayAll() (*LogIterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, types.ErrClosed
	}

	it := &LogIterator{}
	for _, id := range l.manifest.ordered() {
		seg, ok := l.segments[id]
		if !ok || !seg.acquire() {
			it.Close()
			return nil, fmt.Errorf("%w: %d", ErrSegmentRetired, id)
		}
		it.segs = append(it.segs, seg)
	}
	return it, nil
}

// Size returns the bytes held by the live segments.
func (l *CommandLog) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, id := range l.manifest.ordered() {
		if seg, ok := l.segments[id]; ok {
			total += seg.Size()
		}
	}
	return total
}

// SegmentCount returns the number of live segments, active included.
func (l *CommandLog) SegmentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.manifest.Segments) + 1
}

// ActiveID returns the id of the segment currently receiving appends.
func (l *CommandLog) ActiveID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active.ID
}

func (l *CommandLog) StoreID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.manifest.StoreID
}

func (l *CommandLog) Dir() string {
	return l.dir
}

// Sync flushes and fsyncs the active segment.
func (l *CommandLog) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return types.ErrClosed
	}
	return l.active.Sync()
}

// Close flushes the active segment and releases every file handle.
func (l *CommandLog) Close() error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeAll()
}

func (l *CommandLog) closeAll() error {
	var errs []error
	for id, seg := range l.segments {
		if err := seg.close(); err != nil {
			errs = append(errs, fmt.Errorf("segment %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
