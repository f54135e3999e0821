package types

import "fmt"

// LogPosition identifies exactly one serialized command inside one segment.
type LogPosition struct {
	SegmentID uint64
	Offset    int64
	Length    uint32
}

// Less orders positions by segment id, then by offset.
func (p LogPosition) Less(other LogPosition) bool {
	if p.SegmentID != other.SegmentID {
		return p.SegmentID < other.SegmentID
	}
	return p.Offset < other.Offset
}

func (p LogPosition) String() string {
	return fmt.Sprintf("%d@%d+%d", p.SegmentID, p.Offset, p.Length)
}

// LogRecord is one command together with the position it was read from.
type LogRecord struct {
	Position LogPosition
	Command  Command
}
