package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(CommandsTotal, CommandLatency)
	prometheus.MustRegister(CompactionsTotal, CompactionDuration, CompactionReclaimedBytes)
	prometheus.MustRegister(LogBytes, LiveKeys, Segments)
}

func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
}

// ObserveCommand records one handled command.
func ObserveCommand(command, result string, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(command, result).Inc()
	CommandLatency.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveCompaction records one compaction attempt.
func ObserveCompaction(err error, elapsed time.Duration, reclaimed int64) {
	if err != nil {
		CompactionsTotal.WithLabelValues("error").Inc()
		return
	}
	CompactionsTotal.WithLabelValues("ok").Inc()
	CompactionDuration.Observe(elapsed.Seconds())
	if reclaimed > 0 {
		CompactionReclaimedBytes.Add(float64(reclaimed))
	}
}

// UpdateStoreStats publishes the gauges derived from engine stats.
func UpdateStoreStats(s types.Stats) {
	LogBytes.Set(float64(s.LogBytes))
	LiveKeys.Set(float64(s.Keys))
	Segments.Set(float64(s.Segments))
}
