package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_commands_total",
			Help: "Total number of commands handled, by command and result",
		},
		[]string{"command", "result"},
	)

	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvs_command_latency_seconds",
			Help:    "Histogram of command latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_compactions_total",
			Help: "Total number of compactions, by result",
		},
		[]string{"result"},
	)

	CompactionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kvs_compaction_duration_seconds",
		Help:    "Histogram of compaction wall time",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	CompactionReclaimedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvs_compaction_reclaimed_bytes_total",
		Help: "Total log bytes reclaimed by compaction",
	})

	LogBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_log_bytes",
		Help: "Bytes held by live log segments",
	})

	LiveKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_live_keys",
		Help: "Number of keys in the index",
	})

	Segments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_segments",
		Help: "Number of live log segments, active included",
	})
)
