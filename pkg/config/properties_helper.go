package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/kvs/util"
)

func (cfg *Config) Normalize() {
	if cfg.Port <= 0 {
		cfg.Port = 7878
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.IdleTimeoutMS <= 0 {
		cfg.IdleTimeoutMS = 300000
	}

	// storage
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "kvs-data"
	}
	if cfg.SegmentSize < 1024 {
		cfg.SegmentSize = 1 << 20 // 1MB
	}
	cfg.CompressionType = strings.ToLower(strings.TrimSpace(cfg.CompressionType))
	if cfg.CompressionType == "" {
		cfg.CompressionType = "none"
	}
	switch cfg.CompressionType {
	case "none", "gzip", "snappy", "lz4":
	default:
		util.Warn("Invalid compression_type '%s', defaulting to 'none'", cfg.CompressionType)
		cfg.CompressionType = "none"
	}

	// compaction
	if cfg.CompactionRatio <= 1.0 {
		util.Warn("Invalid compaction_ratio (%v), defaulting to 2.0", cfg.CompactionRatio)
		cfg.CompactionRatio = 2.0
	}
	if cfg.CompactionMinBytes <= 0 {
		cfg.CompactionMinBytes = 1 << 20
	}
	if cfg.CompactionCheckIntervalMS <= 0 {
		cfg.CompactionCheckIntervalMS = 30000
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvFloat64(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseFloat64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideEnvLogLevel(target *util.LogLevel, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseLogLevel(v)
	}
}
