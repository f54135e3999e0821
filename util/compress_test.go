package util_test

import (
	"bytes"
	"testing"

	"github.com/downfa11-org/kvs/util"
)

// recordCodecs are the codec ids a log record may carry.
var recordCodecs = []byte{util.CodecNone, util.CodecGzip, util.CodecSnappy, util.CodecLZ4}

func TestCompressRoundtripRecordCodecs(t *testing.T) {
	payloads := map[string][]byte{
		"short":   {0x93, 0x02, 0xa1, 'k', 0xa0},
		"command": {0x93, 0x01, 0xa3, 'k', 'e', 'y', 0xa5, 'v', 'a', 'l', 'u', 'e'},
		"large":   bytes.Repeat([]byte("value-"), 10000),
	}

	for _, id := range recordCodecs {
		name, err := util.CodecName(id)
		if err != nil {
			t.Fatalf("CodecName(%d) failed: %v", id, err)
		}
		for label, data := range payloads {
			t.Run(name+"/"+label, func(t *testing.T) {
				compressed, err := util.CompressMessage(data, name)
				if err != nil {
					t.Fatalf("compress failed: %v", err)
				}
				got, err := util.DecompressMessage(compressed, name)
				if err != nil {
					t.Fatalf("decompress failed: %v", err)
				}
				if !bytes.Equal(got, data) {
					t.Fatalf("roundtrip mismatch: got %d bytes, want %d", len(got), len(data))
				}
			})
		}
	}
}

func TestCompressShrinksRepetitivePayload(t *testing.T) {
	data := bytes.Repeat([]byte("value-"), 10000)
	for _, name := range []string{"gzip", "snappy", "lz4"} {
		compressed, err := util.CompressMessage(data, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(compressed) >= len(data) {
			t.Errorf("%s: compressed %d bytes into %d", name, len(data), len(compressed))
		}
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	garbage := []byte("definitely not compressed data")
	for _, name := range []string{"gzip", "snappy"} {
		if _, err := util.DecompressMessage(garbage, name); err == nil {
			t.Errorf("%s: expected error decoding garbage", name)
		}
	}
}

func TestUnsupportedCompressionType(t *testing.T) {
	if _, err := util.CompressMessage([]byte("x"), "zstd"); err == nil {
		t.Error("expected compress error for zstd")
	}
	if _, err := util.DecompressMessage([]byte("x"), "zstd"); err == nil {
		t.Error("expected decompress error for zstd")
	}
}

func TestCodecIDRoundtrip(t *testing.T) {
	for _, name := range []string{"none", "gzip", "snappy", "lz4"} {
		id, err := util.CodecID(name)
		if err != nil {
			t.Fatalf("CodecID(%q) failed: %v", name, err)
		}
		back, err := util.CodecName(id)
		if err != nil {
			t.Fatalf("CodecName(%d) failed: %v", id, err)
		}
		if back != name {
			t.Errorf("codec roundtrip mismatch: %q -> %d -> %q", name, id, back)
		}
	}

	if id, err := util.CodecID(""); err != nil || id != util.CodecNone {
		t.Errorf("empty compression type should map to CodecNone, got %d (%v)", id, err)
	}
	if _, err := util.CodecID("zstd"); err == nil {
		t.Errorf("expected error for unsupported codec name")
	}
	if _, err := util.CodecName(42); err == nil {
		t.Errorf("expected error for unknown codec id")
	}
}
