package main

import (
	"flag"
	"os"

	"github.com/downfa11-org/kvs/pkg/bench"
	"github.com/downfa11-org/kvs/util"
)

func main() {
	addr := flag.String("addr", "localhost:7878", "server address")
	workers := flag.Int("workers", 8, "number of concurrent clients")
	ops := flag.Int("ops", 1000, "operations per client")
	keys := flag.Int("keys", 1000, "size of the key space")
	valueSize := flag.Int("value-size", 64, "value size in bytes")
	readRatio := flag.Float64("read-ratio", 0.8, "fraction of operations that are GETs")
	gzip := flag.Bool("gzip", false, "gzip request and response frames")
	flag.Parse()

	runner := bench.NewBenchmarkRunner(*addr, *workers, *ops, *keys, *valueSize, *readRatio, *gzip)
	result, err := runner.Run()
	if err != nil {
		util.Fatal("Benchmark failed: %v", err)
	}
	runner.Report(os.Stdout, result)
}
