package disk

import (
	"github.com/downfa11-org/kvs/pkg/types"
)

// SegmentIterator scans a segment from the first record. It is not
// resumable; create a new one to start over.
type SegmentIterator struct {
	seg    *Segment
	offset int64
	end    int64

	rec types.LogRecord
	err error

	torn       bool
	tornOffset int64
}

// Next advances to the next record. It returns false at the end of the
// segment, on a torn tail (see Torn) or on corruption (see Err).
func (it *SegmentIterator) Next() bool {
	if it.err != nil || it.torn || it.offset >= it.end {
		return false
	}

	header := make([]byte, recordHeaderSize)
	if it.end-it.offset < recordHeaderSize {
		it.markTorn()
		return false
	}
	if err := it.readAt(header, it.offset); err != nil {
		it.err = err
		return false
	}

	length := recordLength(header)
	if length-recordHeaderSize > maxPayloadSize {
		it.err = &types.CorruptRecordError{SegmentID: it.seg.ID, Offset: it.offset, Reason: "payload length exceeds limit"}
		return false
	}
	if it.offset+length > it.end {
		// a torn append leaves nothing decodable behind it
		if it.recordFollows(it.offset + recordHeaderSize) {
			it.err = &types.CorruptRecordError{SegmentID: it.seg.ID, Offset: it.offset, Reason: "record length runs past valid records", Err: errShortRecord}
			return false
		}
		it.markTorn()
		return false
	}

	buf := make([]byte, length)
	if err := it.readAt(buf, it.offset); err != nil {
		it.err = err
		return false
	}

	cmd, _, err := decodeRecord(buf)
	if err != nil {
		if it.offset+length == it.end || it.zeroTail() {
			it.markTorn()
			return false
		}
		it.err = &types.CorruptRecordError{SegmentID: it.seg.ID, Offset: it.offset, Reason: "undecodable record", Err: err}
		return false
	}

	it.rec = types.LogRecord{
		Position: types.LogPosition{SegmentID: it.seg.ID, Offset: it.offset, Length: uint32(length)},
		Command:  cmd,
	}
	it.offset += length
	return true
}

// Record returns the record produced by the last successful Next.
func (it *SegmentIterator) Record() types.LogRecord {
	return it.rec
}

// Err returns the corruption or I/O error that stopped the scan, if any.
func (it *SegmentIterator) Err() error {
	return it.err
}

// Torn reports whether the scan stopped at an incomplete trailing record,
// and the offset where the valid data ends.
func (it *SegmentIterator) Torn() (int64, bool) {
	return it.tornOffset, it.torn
}

func (it *SegmentIterator) markTorn() {
	it.torn = true
	it.tornOffset = it.offset
}

func (it *SegmentIterator) readAt(buf []byte, off int64) error {
	it.seg.mu.RLock()
	defer it.seg.mu.RUnlock()

	r := it.seg.readerAtLocked()
	if r == nil {
		return ErrSegmentClosed
	}
	if _, err := r.ReadAt(buf, off); err != nil {
		return types.IOError("read", it.seg.path, err)
	}
	return nil
}

// recordFollows reports whether any well-formed record starts at or after
// from.
func (it *SegmentIterator) recordFollows(from int64) bool {
	if it.end-from < recordHeaderSize {
		return false
	}
	buf := make([]byte, it.end-from)
	if err := it.readAt(buf, from); err != nil {
		return false
	}
	for i := 0; i+recordHeaderSize <= len(buf); i++ {
		if _, _, err := decodeRecord(buf[i:]); err == nil {
			return true
		}
	}
	return false
}

// zeroTail reports whether everything from the current offset to the end
// is zero filled, which is what a crash during preallocation leaves behind.
func (it *SegmentIterator) zeroTail() bool {
	const chunk = 4096
	buf := make([]byte, chunk)
	for off := it.offset; off < it.end; off += chunk {
		n := int64(chunk)
		if it.end-off < n {
			n = it.end - off
		}
		if err := it.readAt(buf[:n], off); err != nil {
			return false
		}
		for _, b := range buf[:n] {
			if b != 0 {
				return false
			}
		}
	}
	return true
}

// LogIterator replays every live segment in (segment id, offset) order.
type LogIterator struct {
	segs []*Segment
	idx  int
	cur  *SegmentIterator

	rec types.LogRecord
	err error
}

func (it *LogIterator) Next() bool {
	for it.err == nil && it.idx < len(it.segs) {
		if it.cur == nil {
			it.cur = it.segs[it.idx].Iterator()
		}
		if it.cur.Next() {
			it.rec = it.cur.Record()
			return true
		}
		if err := it.cur.Err(); err != nil {
			it.err = err
			return false
		}
		if off, torn := it.cur.Torn(); torn {
			it.err = &types.CorruptRecordError{
				SegmentID: it.segs[it.idx].ID, Offset: off,
				Reason: "truncated record",
				Err:    errShortRecord,
			}
			return false
		}
		it.cur = nil
		it.idx++
	}
	return false
}

func (it *LogIterator) Record() types.LogRecord {
	return it.rec
}

func (it *LogIterator) Err() error {
	return it.err
}

// Close releases the segment references held by the iterator.
func (it *LogIterator) Close() {
	for _, s := range it.segs {
		s.release()
	}
	it.segs = nil
}
