package bench

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

type BenchmarkRunner struct {
	Addr         string
	Workers      int
	OpsPerWorker int
	KeySpace     int
	ValueSize    int
	ReadRatio    float64
	EnableGzip   bool
}

// Result summarizes one benchmark run.
type Result struct {
	Sets, Gets, Misses int
	Duration           time.Duration
	SetP50, SetP99     time.Duration
	GetP50, GetP99     time.Duration
}

func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Sets+r.Gets) / r.Duration.Seconds()
}

func NewBenchmarkRunner(addr string, workers, ops, keySpace, valueSize int, readRatio float64, gzip bool) *BenchmarkRunner {
	return &BenchmarkRunner{
		Addr:         addr,
		Workers:      workers,
		OpsPerWorker: ops,
		KeySpace:     keySpace,
		ValueSize:    valueSize,
		ReadRatio:    readRatio,
		EnableGzip:   gzip,
	}
}

func (b *BenchmarkRunner) client(id int) *BenchClient {
	return &BenchClient{
		ID:         id,
		Addr:       b.Addr,
		EnableGzip: b.EnableGzip,
		NumOps:     b.OpsPerWorker,
		KeySpace:   b.KeySpace,
		ValueSize:  b.ValueSize,
		ReadRatio:  b.ReadRatio,
	}
}

// Run preloads the key space, then runs every worker concurrently.
func (b *BenchmarkRunner) Run() (Result, error) {
	if b.Workers <= 0 || b.KeySpace <= 0 {
		return Result{}, fmt.Errorf("workers and key space must be positive")
	}

	per := (b.KeySpace + b.Workers - 1) / b.Workers
	if err := b.parallel(func(id int) error {
		from, to := id*per, min((id+1)*per, b.KeySpace)
		return b.client(id).Preload(from, to)
	}); err != nil {
		return Result{}, fmt.Errorf("preload: %w", err)
	}

	var mu sync.Mutex
	var all []workerResult
	start := time.Now()
	err := b.parallel(func(id int) error {
		res, err := b.client(id).Run()
		mu.Lock()
		all = append(all, res)
		mu.Unlock()
		return err
	})
	duration := time.Since(start)
	if err != nil {
		return Result{}, err
	}

	return summarize(all, duration), nil
}

func (b *BenchmarkRunner) parallel(fn func(id int) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for i := 0; i < b.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := fn(id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("%d worker(s) failed, error: %w", len(errs), errs[0])
	}
	return nil
}

func summarize(all []workerResult, duration time.Duration) Result {
	r := Result{Duration: duration}
	var setLat, getLat []time.Duration
	for _, w := range all {
		r.Sets += w.sets
		r.Gets += w.gets
		r.Misses += w.misses
		setLat = append(setLat, w.setLatency...)
		getLat = append(getLat, w.getLatency...)
	}
	r.SetP50, r.SetP99 = percentile(setLat, 0.50), percentile(setLat, 0.99)
	r.GetP50, r.GetP99 = percentile(getLat, 0.50), percentile(getLat, 0.99)
	return r
}

func percentile(d []time.Duration, p float64) time.Duration {
	if len(d) == 0 {
		return 0
	}
	slices.Sort(d)
	return d[int(float64(len(d)-1)*p)]
}

// Report prints a result the way the benchmark command shows it.
func (b *BenchmarkRunner) Report(w io.Writer, r Result) {
	fmt.Fprintf(w, "\n🧪 BENCHMARK RESULT 🧪\n")
	fmt.Fprintf(w, "-------------------------------------\n")
	fmt.Fprintf(w, " Workers       : %d\n", b.Workers)
	fmt.Fprintf(w, " Key space     : %d\n", b.KeySpace)
	fmt.Fprintf(w, " Value size    : %d bytes\n", b.ValueSize)
	fmt.Fprintf(w, " Sets / Gets   : %d / %d (%d misses)\n", r.Sets, r.Gets, r.Misses)
	fmt.Fprintf(w, " Duration      : %v\n", r.Duration)
	fmt.Fprintf(w, " Throughput    : %.2f ops/sec\n", r.Throughput())
	fmt.Fprintf(w, " Set p50 / p99 : %v / %v\n", r.SetP50, r.SetP99)
	fmt.Fprintf(w, " Get p50 / p99 : %v / %v\n", r.GetP50, r.GetP99)
	fmt.Fprintf(w, "-------------------------------------\n")
}
