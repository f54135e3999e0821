package util

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	snappy "github.com/segmentio/kafka-go/compress/snappy/go-xerial-snappy"
)

// Codec ids as stored in a log record's attribute byte.
const (
	CodecNone   byte = 0
	CodecGzip   byte = 1
	CodecSnappy byte = 2
	CodecLZ4    byte = 3
)

// CodecID maps a compression type name to its record attribute id.
func CodecID(compressionType string) (byte, error) {
	switch compressionType {
	case "none", "":
		return CodecNone, nil
	case "gzip":
		return CodecGzip, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// CodecName maps a record attribute id back to its compression type name.
func CodecName(id byte) (string, error) {
	switch id {
	case CodecNone:
		return "none", nil
	case CodecGzip:
		return "gzip", nil
	case CodecSnappy:
		return "snappy", nil
	case CodecLZ4:
		return "lz4", nil
	default:
		return "", fmt.Errorf("unknown codec id: %d", id)
	}
}

// CompressMessage compresses a message if enabled
func CompressMessage(data []byte, compressionType string) ([]byte, error) {
	switch compressionType {
	case "gzip":
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case "snappy":
		// xerial framing: bare snappy blocks under 8 bytes do not decode
		return snappy.EncodeStream(nil, data), nil

	case "lz4":
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case "none", "":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// DecompressMessage decompresses a message if enabled
func DecompressMessage(data []byte, compressionType string) ([]byte, error) {
	switch compressionType {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := gr.Close(); err != nil {
				Error("failed to close gr: %v", err)
			}
		}()
		return io.ReadAll(gr)

	case "snappy":
		return snappy.Decode(data)

	case "lz4":
		reader := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(reader)

	case "none", "":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
