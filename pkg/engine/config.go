package engine

import (
	"time"

	"github.com/downfa11-org/kvs/pkg/disk"
)

const (
	DefaultCompactionRatio         = 2.0
	DefaultCompactionMinBytes      = 1 << 20
	DefaultCompactionCheckInterval = 30 * time.Second
)

// Config controls one Engine. The zero value of every field except Dir
// falls back to a default.
type Config struct {
	Dir             string
	SegmentSize     int64
	SyncWrites      bool
	CompressionType string

	// AutoCompact runs compaction in the background once the log holds
	// at least CompactionMinBytes and LogBytes/LiveBytes reaches
	// CompactionRatio.
	AutoCompact             bool
	CompactionRatio         float64
	CompactionMinBytes      int64
	CompactionCheckInterval time.Duration
}

// DefaultConfig returns the configuration used by OpenPath.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                     dir,
		SegmentSize:             disk.DefaultSegmentSize,
		CompressionType:         "none",
		AutoCompact:             true,
		CompactionRatio:         DefaultCompactionRatio,
		CompactionMinBytes:      DefaultCompactionMinBytes,
		CompactionCheckInterval: DefaultCompactionCheckInterval,
	}
}

func (c *Config) normalize() {
	if c.SegmentSize <= 0 {
		c.SegmentSize = disk.DefaultSegmentSize
	}
	if c.CompressionType == "" {
		c.CompressionType = "none"
	}
	if c.CompactionRatio <= 1 {
		c.CompactionRatio = DefaultCompactionRatio
	}
	if c.CompactionMinBytes <= 0 {
		c.CompactionMinBytes = DefaultCompactionMinBytes
	}
	if c.CompactionCheckInterval <= 0 {
		c.CompactionCheckInterval = DefaultCompactionCheckInterval
	}
}

func (c Config) logOptions() disk.Options {
	return disk.Options{
		SegmentSize:     c.SegmentSize,
		SyncWrites:      c.SyncWrites,
		CompressionType: c.CompressionType,
	}
}
