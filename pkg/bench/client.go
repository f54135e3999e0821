package bench

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/downfa11-org/kvs/pkg/client"
)

// BenchClient drives one connection through a mixed set/get workload.
type BenchClient struct {
	ID         int
	Addr       string
	EnableGzip bool
	NumOps     int
	KeySpace   int
	ValueSize  int
	ReadRatio  float64
}

type workerResult struct {
	sets, gets, misses int
	setLatency         []time.Duration
	getLatency         []time.Duration
}

func (c *BenchClient) key(rng *rand.Rand) string {
	return fmt.Sprintf("bench-key-%d", rng.Intn(c.KeySpace))
}

// Preload writes every key of the key space once so reads hit.
func (c *BenchClient) Preload(from, to int) error {
	cl, err := client.Dial(c.Addr, client.Options{EnableGzip: c.EnableGzip})
	if err != nil {
		return err
	}
	defer cl.Close()

	value := strings.Repeat("p", c.ValueSize)
	for i := from; i < to; i++ {
		if err := cl.Set(fmt.Sprintf("bench-key-%d", i), value); err != nil {
			return fmt.Errorf("[W%d] preload %d failed: %w", c.ID, i, err)
		}
	}
	return nil
}

func (c *BenchClient) Run() (workerResult, error) {
	var res workerResult

	cl, err := client.Dial(c.Addr, client.Options{EnableGzip: c.EnableGzip})
	if err != nil {
		return res, fmt.Errorf("[W%d] connection failed: %w", c.ID, err)
	}
	defer cl.Close()

	rng := rand.New(rand.NewSource(int64(c.ID) + 1))
	value := strings.Repeat(string(rune('a'+c.ID%26)), c.ValueSize)

	for i := 0; i < c.NumOps; i++ {
		key := c.key(rng)
		start := time.Now()
		if rng.Float64() < c.ReadRatio {
			_, found, err := cl.Get(key)
			if err != nil {
				return res, fmt.Errorf("[W%d] get %s failed: %w", c.ID, key, err)
			}
			res.gets++
			if !found {
				res.misses++
			}
			res.getLatency = append(res.getLatency, time.Since(start))
			continue
		}
		if err := cl.Set(key, value); err != nil {
			return res, fmt.Errorf("[W%d] set %s failed: %w", c.ID, key, err)
		}
		res.sets++
		res.setLatency = append(res.setLatency, time.Since(start))
	}
	return res, nil
}
