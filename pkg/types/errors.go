package types

import (
	"errors"
	"fmt"
)

var (
	// ErrIO marks failures of the underlying storage.
	ErrIO = errors.New("io error")

	// ErrCorruptRecord marks undecodable records and index/log mismatches.
	ErrCorruptRecord = errors.New("corrupt record")

	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidCommand is produced by the request parser, never by the engine.
	ErrInvalidCommand = errors.New("invalid command")

	ErrClosed = errors.New("store closed")
)

// IOError wraps a storage failure so that errors.Is(err, ErrIO) holds.
func IOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

// CorruptRecordError describes a record that cannot be trusted.
type CorruptRecordError struct {
	SegmentID uint64
	Offset    int64
	Reason    string
	Err       error
}

func (e *CorruptRecordError) Error() string {
	msg := fmt.Sprintf("corrupt record in segment %d at offset %d: %s", e.SegmentID, e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}
