package config

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/downfa11-org/kvs/util"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration including storage tuning
type Config struct {
	// Server settings
	Port           int           `yaml:"port" json:"port"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`

	MaxConnections int `yaml:"max_connections" json:"max.connections"`
	IdleTimeoutMS  int `yaml:"idle_timeout_ms" json:"idle.timeout.ms"`

	// Storage
	DataDir         string `yaml:"data_dir" json:"data.dir"`
	SegmentSize     int64  `yaml:"segment_size" json:"segment.size"`
	SyncWrites      bool   `yaml:"sync_writes" json:"sync.writes"`
	CompressionType string `yaml:"compression_type" json:"compression.type"`

	// Compaction
	AutoCompact               bool    `yaml:"auto_compact" json:"auto.compact"`
	CompactionRatio           float64 `yaml:"compaction_ratio" json:"compaction.ratio"`
	CompactionMinBytes        int64   `yaml:"compaction_min_bytes" json:"compaction.min.bytes"`
	CompactionCheckIntervalMS int     `yaml:"compaction_check_interval_ms" json:"compaction.check.interval.ms"`

	// Security & compression (server-side)
	UseTLS      bool            `yaml:"use_tls" json:"tls.enable"`
	TLSCertPath string          `yaml:"tls_cert_path" json:"tls.cert_path"`
	TLSKeyPath  string          `yaml:"tls_key_path" json:"tls.key_path"`
	EnableGzip  bool            `yaml:"enable_gzip" json:"gzip.enable"`
	TLSCert     tls.Certificate `yaml:"-" json:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:                      7878,
		EnableExporter:            true,
		ExporterPort:              9100,
		LogLevel:                  util.LogLevelInfo,
		MaxConnections:            1000,
		IdleTimeoutMS:             300000,
		DataDir:                   "kvs-data",
		SegmentSize:               1 << 20,
		CompressionType:           "none",
		AutoCompact:               true,
		CompactionRatio:           engine.DefaultCompactionRatio,
		CompactionMinBytes:        engine.DefaultCompactionMinBytes,
		CompactionCheckIntervalMS: int(engine.DefaultCompactionCheckInterval / time.Millisecond),
	}
}

// LoadConfig builds the configuration from, in increasing precedence:
// defaults, the file named by -config or CONFIG_PATH, KVS_* environment
// variables and explicitly passed flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("kvs-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	port := fs.Int("port", cfg.Port, "Server port")
	exporter := fs.Bool("exporter", cfg.EnableExporter, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", cfg.ExporterPort, "Exporter port")
	logLevel := fs.String("log-level", "info", "Log Level (debug, info, warn, error)")
	maxConns := fs.Int("max-connections", cfg.MaxConnections, "Maximum concurrent connections")
	idleTimeout := fs.Int("idle-timeout-ms", cfg.IdleTimeoutMS, "Idle connection timeout in milliseconds")
	dataDir := fs.String("data-dir", cfg.DataDir, "Directory holding the store")
	segmentSize := fs.Int64("segment-size", cfg.SegmentSize, "Segment file size in bytes (default: 1MB)")
	syncWrites := fs.Bool("sync-writes", cfg.SyncWrites, "fsync every write")
	compression := fs.String("compression", cfg.CompressionType, "Record compression (none, gzip, snappy, lz4)")
	autoCompact := fs.Bool("auto-compact", cfg.AutoCompact, "Compact in the background")
	ratio := fs.Float64("compaction-ratio", cfg.CompactionRatio, "Log bytes to live bytes ratio that triggers compaction")
	minBytes := fs.Int64("compaction-min-bytes", cfg.CompactionMinBytes, "Minimum log size before compaction is considered")
	checkInterval := fs.Int("compaction-check-interval-ms", cfg.CompactionCheckIntervalMS, "Compaction policy check interval in milliseconds")
	useTLS := fs.Bool("tls", cfg.UseTLS, "Enable TLS")
	tlsCert := fs.String("tls-cert", "", "TLS certificate path")
	tlsKey := fs.String("tls-key", "", "TLS key path")
	gzip := fs.Bool("gzip", cfg.EnableGzip, "Enable gzip frame compression")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}
	if *configPath != "" {
		if err := loadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "exporter":
			cfg.EnableExporter = *exporter
		case "exporter-port":
			cfg.ExporterPort = *exporterPort
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(*logLevel)
		case "max-connections":
			cfg.MaxConnections = *maxConns
		case "idle-timeout-ms":
			cfg.IdleTimeoutMS = *idleTimeout
		case "data-dir":
			cfg.DataDir = *dataDir
		case "segment-size":
			cfg.SegmentSize = *segmentSize
		case "sync-writes":
			cfg.SyncWrites = *syncWrites
		case "compression":
			cfg.CompressionType = *compression
		case "auto-compact":
			cfg.AutoCompact = *autoCompact
		case "compaction-ratio":
			cfg.CompactionRatio = *ratio
		case "compaction-min-bytes":
			cfg.CompactionMinBytes = *minBytes
		case "compaction-check-interval-ms":
			cfg.CompactionCheckIntervalMS = *checkInterval
		case "tls":
			cfg.UseTLS = *useTLS
		case "tls-cert":
			cfg.TLSCertPath = *tlsCert
		case "tls-key":
			cfg.TLSKeyPath = *tlsKey
		case "gzip":
			cfg.EnableGzip = *gzip
		}
	})

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	if cfg.UseTLS {
		if cfg.TLSCertPath == "" || cfg.TLSKeyPath == "" {
			cfg.UseTLS = false
			return nil, fmt.Errorf("TLS enabled but certificate or key path is empty")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			cfg.UseTLS = false
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		cfg.TLSCert = cert
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrideEnvInt(&cfg.Port, "KVS_PORT")
	overrideEnvBool(&cfg.EnableExporter, "KVS_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "KVS_EXPORTER_PORT")
	overrideEnvLogLevel(&cfg.LogLevel, "KVS_LOG_LEVEL")
	overrideEnvInt(&cfg.MaxConnections, "KVS_MAX_CONNECTIONS")
	overrideEnvInt(&cfg.IdleTimeoutMS, "KVS_IDLE_TIMEOUT_MS")

	overrideEnvString(&cfg.DataDir, "KVS_DATA_DIR")
	overrideEnvInt64(&cfg.SegmentSize, "KVS_SEGMENT_SIZE")
	overrideEnvBool(&cfg.SyncWrites, "KVS_SYNC_WRITES")
	overrideEnvString(&cfg.CompressionType, "KVS_COMPRESSION_TYPE")

	overrideEnvBool(&cfg.AutoCompact, "KVS_AUTO_COMPACT")
	overrideEnvFloat64(&cfg.CompactionRatio, "KVS_COMPACTION_RATIO")
	overrideEnvInt64(&cfg.CompactionMinBytes, "KVS_COMPACTION_MIN_BYTES")
	overrideEnvInt(&cfg.CompactionCheckIntervalMS, "KVS_COMPACTION_CHECK_INTERVAL_MS")

	overrideEnvBool(&cfg.UseTLS, "KVS_USE_TLS")
	overrideEnvString(&cfg.TLSCertPath, "KVS_TLS_CERT_PATH")
	overrideEnvString(&cfg.TLSKeyPath, "KVS_TLS_KEY_PATH")
	overrideEnvBool(&cfg.EnableGzip, "KVS_ENABLE_GZIP")
}

// EngineConfig converts the storage settings for engine.Open.
func (cfg *Config) EngineConfig() engine.Config {
	return engine.Config{
		Dir:                     cfg.DataDir,
		SegmentSize:             cfg.SegmentSize,
		SyncWrites:              cfg.SyncWrites,
		CompressionType:         cfg.CompressionType,
		AutoCompact:             cfg.AutoCompact,
		CompactionRatio:         cfg.CompactionRatio,
		CompactionMinBytes:      cfg.CompactionMinBytes,
		CompactionCheckInterval: time.Duration(cfg.CompactionCheckIntervalMS) * time.Millisecond,
	}
}

func (cfg *Config) IdleTimeout() time.Duration {
	return time.Duration(cfg.IdleTimeoutMS) * time.Millisecond
}
