package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
	"github.com/vmihailenco/msgpack/v5"
)

// Record format on disk:
// [crc32(4)][payload length(4)][attributes(1)][payload]
// crc covers attributes and payload. payload is a msgpack-encoded
// types.Command, compressed with the codec named by attributes.
const (
	recordHeaderSize = 4 + 4 + 1
	maxPayloadSize   = 1 << 30
)

var (
	errShortRecord = errors.New("record extends past end of data")
	errChecksum    = errors.New("checksum mismatch")
)

func encodeRecord(cmd types.Command, codec byte) ([]byte, error) {
	body, err := msgpack.Marshal(&cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	name, err := util.CodecName(codec)
	if err != nil {
		return nil, err
	}
	payload, err := util.CompressMessage(body, name)
	if err != nil {
		return nil, fmt.Errorf("compress command: %w", err)
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("record payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	buf[8] = codec
	copy(buf[recordHeaderSize:], payload)
	binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[8:]))
	return buf, nil
}

// recordLength reports the full on-disk size announced by a header.
func recordLength(header []byte) int64 {
	return recordHeaderSize + int64(binary.BigEndian.Uint32(header[4:8]))
}

// decodeRecord decodes the record at the start of buf and returns the
// command and the number of bytes it occupies.
func decodeRecord(buf []byte) (types.Command, int, error) {
	if len(buf) < recordHeaderSize {
		return types.Command{}, 0, errShortRecord
	}
	payloadLen := binary.BigEndian.Uint32(buf[4:8])
	if payloadLen > maxPayloadSize {
		return types.Command{}, 0, fmt.Errorf("payload length %d exceeds limit", payloadLen)
	}
	total := recordHeaderSize + int(payloadLen)
	if len(buf) < total {
		return types.Command{}, 0, errShortRecord
	}

	if crc32.ChecksumIEEE(buf[8:total]) != binary.BigEndian.Uint32(buf[0:4]) {
		return types.Command{}, 0, errChecksum
	}

	name, err := util.CodecName(buf[8])
	if err != nil {
		return types.Command{}, 0, err
	}
	body, err := util.DecompressMessage(buf[recordHeaderSize:total], name)
	if err != nil {
		return types.Command{}, 0, fmt.Errorf("decompress command: %w", err)
	}

	var cmd types.Command
	if err := msgpack.Unmarshal(body, &cmd); err != nil {
		return types.Command{}, 0, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Kind != types.CommandSet && cmd.Kind != types.CommandRemove {
		return types.Command{}, 0, fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
	return cmd, total, nil
}
