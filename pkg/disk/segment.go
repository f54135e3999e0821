package disk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
	"golang.org/x/exp/mmap"
)

const (
	segmentPrefix = "segment_"
	segmentSuffix = ".log"
	deletedSuffix = ".deleted"
)

var (
	ErrSegmentSealed  = errors.New("segment is sealed")
	ErrSegmentClosed  = errors.New("segment is closed")
	ErrSegmentRetired = errors.New("segment has been retired")
)

// SegmentPath returns the file path of segment id inside dir.
func SegmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%020d%s", segmentPrefix, id, segmentSuffix))
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	idStr := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Segment is one append-only file of records. A writable segment owns an
// os.File and a bufio.Writer; once sealed it is served from a read-only
// memory map and never changes again.
type Segment struct {
	ID   uint64
	path string

	mu     sync.RWMutex // file, writer, reader
	file   *os.File
	writer *bufio.Writer
	reader *mmap.ReaderAt

	size   atomic.Int64
	sealed atomic.Bool
	closed atomic.Bool

	// refs starts at 1 for the owning log; readers add to it.
	refs    atomic.Int32
	retired atomic.Bool

	codec      byte
	syncWrites bool
}

func createSegment(dir string, id uint64, codec byte, syncWrites bool) (*Segment, error) {
	path := SegmentPath(dir, id)
	f, err := openSegmentFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_APPEND)
	if err != nil {
		return nil, types.IOError("create segment", path, err)
	}
	return newWritableSegment(id, path, f, 0, codec, syncWrites), nil
}

func openWritableSegment(dir string, id uint64, codec byte, syncWrites bool) (*Segment, error) {
	path := SegmentPath(dir, id)
	f, err := openSegmentFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND)
	if err != nil {
		return nil, types.IOError("open segment", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, types.IOError("stat segment", path, err)
	}
	return newWritableSegment(id, path, f, info.Size(), codec, syncWrites), nil
}

func openSealedSegment(dir string, id uint64) (*Segment, error) {
	path := SegmentPath(dir, id)
	r, err := mmap.Open(path)
	if err != nil {
		return nil, types.IOError("mmap segment", path, err)
	}
	s := &Segment{ID: id, path: path, reader: r}
	s.size.Store(int64(r.Len()))
	s.sealed.Store(true)
	s.refs.Store(1)
	return s, nil
}

func newWritableSegment(id uint64, path string, f *os.File, size int64, codec byte, syncWrites bool) *Segment {
	s := &Segment{
		ID:         id,
		path:       path,
		file:       f,
		writer:     bufio.NewWriter(f),
		codec:      codec,
		syncWrites: syncWrites,
	}
	s.size.Store(size)
	s.refs.Store(1)
	return s
}

// Append serializes cmd and appends it. On failure nothing past the
// previous end of the segment survives and no position is reported.
func (s *Segment) Append(cmd types.Command) (types.LogPosition, error) {
	data, err := encodeRecord(cmd, s.codec)
	if err != nil {
		return types.LogPosition{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return types.LogPosition{}, ErrSegmentClosed
	}
	if s.sealed.Load() {
		return types.LogPosition{}, ErrSegmentSealed
	}

	offset := s.size.Load()

	if _, err := s.writer.Write(data); err != nil {
		s.rollback(offset)
		return types.LogPosition{}, types.IOError("append", s.path, err)
	}
	if err := s.writer.Flush(); err != nil {
		s.rollback(offset)
		return types.LogPosition{}, types.IOError("flush", s.path, err)
	}
	if s.syncWrites {
		if err := s.file.Sync(); err != nil {
			s.rollback(offset)
			return types.LogPosition{}, types.IOError("sync", s.path, err)
		}
	}

	s.size.Add(int64(len(data)))
	return types.LogPosition{SegmentID: s.ID, Offset: offset, Length: uint32(len(data))}, nil
}

// rollback discards buffered bytes and cuts the file back to offset.
func (s *Segment) rollback(offset int64) {
	s.writer.Reset(s.file)
	if err := s.file.Truncate(offset); err != nil {
		util.Error("failed to truncate segment %d back to %d: %v", s.ID, offset, err)
	}
}

// Read decodes exactly length bytes at offset.
func (s *Segment) Read(offset int64, length uint32) (types.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.readerAtLocked()
	if r == nil {
		return types.Command{}, ErrSegmentClosed
	}

	if offset < 0 || offset+int64(length) > s.size.Load() {
		return types.Command{}, &types.CorruptRecordError{
			SegmentID: s.ID, Offset: offset,
			Reason: fmt.Sprintf("position +%d beyond segment end %d", length, s.size.Load()),
		}
	}

	buf := make([]byte, length)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return types.Command{}, types.IOError("read", s.path, err)
	}

	cmd, n, err := decodeRecord(buf)
	if err != nil {
		return types.Command{}, &types.CorruptRecordError{SegmentID: s.ID, Offset: offset, Reason: "undecodable record", Err: err}
	}
	if n != len(buf) {
		return types.Command{}, &types.CorruptRecordError{
			SegmentID: s.ID, Offset: offset,
			Reason: fmt.Sprintf("record length %d does not match position length %d", n, length),
		}
	}
	return cmd, nil
}

func (s *Segment) readerAtLocked() io.ReaderAt {
	if s.reader != nil {
		return s.reader
	}
	if s.file != nil {
		return s.file
	}
	return nil
}

// Size returns the number of bytes written to the segment.
func (s *Segment) Size() int64 {
	return s.size.Load()
}

func (s *Segment) Sealed() bool {
	return s.sealed.Load()
}

func (s *Segment) Path() string {
	return s.path
}

// Sync flushes buffered bytes and fsyncs a writable segment.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Segment) syncLocked() error {
	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return types.IOError("flush", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return types.IOError("sync", s.path, err)
	}
	return nil
}

// seal fsyncs the segment and swaps the write handle for a read-only map.
func (s *Segment) seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed.Load() {
		return nil
	}
	if s.file == nil {
		return ErrSegmentClosed
	}
	if err := s.syncLocked(); err != nil {
		return err
	}

	r, err := mmap.Open(s.path)
	if err != nil {
		return types.IOError("mmap segment", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		util.Warn("close of sealed segment %d failed: %v", s.ID, err)
	}
	s.file = nil
	s.writer = nil
	s.reader = r
	s.sealed.Store(true)
	return nil
}

// truncate cuts a writable segment to size; used to drop a torn tail.
func (s *Segment) truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSegmentSealed
	}
	if err := s.file.Truncate(size); err != nil {
		return types.IOError("truncate", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return types.IOError("sync", s.path, err)
	}
	s.size.Store(size)
	return nil
}

// acquire pins the segment for a reader. Callers must hold the log's
// segment-set lock so the owning reference is still present.
func (s *Segment) acquire() bool {
	if s.retired.Load() || s.closed.Load() {
		return false
	}
	s.refs.Add(1)
	return true
}

func (s *Segment) release() {
	if s.refs.Add(-1) <= 0 {
		s.destroy()
	}
}

// retire drops the owning reference; the file goes away with the last reader.
func (s *Segment) retire() {
	if s.retired.Swap(true) {
		return
	}
	s.release()
}

func (s *Segment) destroy() {
	if err := s.close(); err != nil {
		util.Warn("close of retired segment %d failed: %v", s.ID, err)
	}
	if !s.retired.Load() {
		return
	}
	if err := markAsDeleted(s.path); err != nil {
		util.Error("failed to delete retired segment %s: %v", s.path, err)
	}
}

// close flushes and releases every handle. Idempotent.
func (s *Segment) close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.file != nil {
		if err := s.syncLocked(); err != nil {
			errs = append(errs, err)
		}
		if err := s.file.Close(); err != nil {
			errs = append(errs, types.IOError("close", s.path, err))
		}
		s.file = nil
		s.writer = nil
	}
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			errs = append(errs, types.IOError("unmap", s.path, err))
		}
		s.reader = nil
	}
	return errors.Join(errs...)
}

// removeFile closes and deletes a segment that never became live.
func (s *Segment) removeFile() {
	if err := s.close(); err != nil {
		util.Warn("close of discarded segment %d failed: %v", s.ID, err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		util.Warn("failed to remove discarded segment %s: %v", s.path, err)
	}
}

// Iterator returns a forward scan over every record in append order.
func (s *Segment) Iterator() *SegmentIterator {
	return &SegmentIterator{seg: s, end: s.Size()}
}
