package types_test

import (
	"errors"
	"io"
	"testing"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestIOErrorWrapsCause(t *testing.T) {
	err := types.IOError("append", "/tmp/segment_1.log", io.ErrShortWrite)

	require.ErrorIs(t, err, types.ErrIO)
	require.ErrorIs(t, err, io.ErrShortWrite)
	require.Contains(t, err.Error(), "append")
	require.Contains(t, err.Error(), "/tmp/segment_1.log")

	require.NoError(t, types.IOError("noop", "", nil))
	require.Same(t, err, types.IOError("again", "", err))
}

func TestCorruptRecordErrorIs(t *testing.T) {
	cause := errors.New("crc mismatch")
	err := error(&types.CorruptRecordError{SegmentID: 3, Offset: 128, Reason: "checksum", Err: cause})

	require.ErrorIs(t, err, types.ErrCorruptRecord)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, types.ErrIO)

	var cre *types.CorruptRecordError
	require.ErrorAs(t, err, &cre)
	require.Equal(t, uint64(3), cre.SegmentID)
	require.Equal(t, int64(128), cre.Offset)
}

func TestLogPositionLess(t *testing.T) {
	a := types.LogPosition{SegmentID: 1, Offset: 100}
	b := types.LogPosition{SegmentID: 2, Offset: 0}
	c := types.LogPosition{SegmentID: 2, Offset: 50}

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.False(t, c.Less(a))
	require.False(t, b.Less(b))
}

func TestStatsStaleRatio(t *testing.T) {
	require.Equal(t, 1.0, types.Stats{}.StaleRatio())
	require.Equal(t, 2.0, types.Stats{LogBytes: 200, LiveBytes: 100}.StaleRatio())
	require.Equal(t, 50.0, types.Stats{LogBytes: 50}.StaleRatio())
}
