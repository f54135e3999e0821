package engine_test

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotOf(t *testing.T, e *engine.Engine, keys []string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, k := range keys {
		v, found, err := e.Get(k)
		require.NoError(t, err)
		if found {
			out[k] = v
		}
	}
	return out
}

func TestCompactionReclaimsSpace(t *testing.T) {
	e := openEngine(t, testConfig(t.TempDir()))
	defer e.Close()

	require.NoError(t, e.Set("k", "a"))
	require.NoError(t, e.Set("k", "b"))
	before := e.Stats().LogBytes

	require.NoError(t, e.Compact())

	after := e.Stats()
	assert.LessOrEqual(t, after.LogBytes, before)
	assert.Equal(t, after.LiveBytes, after.LogBytes)
	assert.Equal(t, int64(1), after.Compactions)
	requireValue(t, e, "k", "b")
}

func TestCompactionDropsRemovedKeys(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, testConfig(dir))

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Set(fmt.Sprintf("k%d", i), "value"))
	}
	for i := 0; i < 50; i += 2 {
		require.NoError(t, e.Remove(fmt.Sprintf("k%d", i)))
	}
	require.NoError(t, e.Compact())

	s := e.Stats()
	assert.Equal(t, int64(25), s.Keys)
	assert.Equal(t, s.LiveBytes, s.LogBytes)
	require.NoError(t, e.Close())

	e = openEngine(t, testConfig(dir))
	defer e.Close()
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		if i%2 == 0 {
			requireMissing(t, e, key)
		} else {
			requireValue(t, e, key, "value")
		}
	}
}

func TestCompactionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.SegmentSize = 512
	e := openEngine(t, cfg)

	rng := rand.New(rand.NewSource(7))
	var keys []string
	for i := 0; i < 30; i++ {
		keys = append(keys, fmt.Sprintf("k%d", i))
	}
	for i := 0; i < 400; i++ {
		k := keys[rng.Intn(len(keys))]
		if rng.Intn(5) == 0 {
			_ = e.Remove(k)
			continue
		}
		require.NoError(t, e.Set(k, fmt.Sprintf("v%d", i)))
	}
	want := snapshotOf(t, e, keys)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Compact())
		assert.Equal(t, want, snapshotOf(t, e, keys), "after compaction %d", i+1)
	}
	segmentsAfter := e.Stats().Segments
	assert.Equal(t, 2, segmentsAfter)
	require.NoError(t, e.Close())

	files, err := filepath.Glob(filepath.Join(dir, "segment_*.log"))
	require.NoError(t, err)
	assert.Len(t, files, segmentsAfter)

	e = openEngine(t, cfg)
	defer e.Close()
	assert.Equal(t, want, snapshotOf(t, e, keys))
}

func TestCompactionOfEmptyStore(t *testing.T) {
	e := openEngine(t, testConfig(t.TempDir()))
	defer e.Close()

	require.NoError(t, e.Compact())
	require.NoError(t, e.Compact())
	assert.Equal(t, int64(0), e.Stats().Keys)

	require.NoError(t, e.Set("a", "1"))
	requireValue(t, e, "a", "1")
}

func TestWritesDuringCompactionWin(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, testConfig(dir))

	for i := 0; i < 200; i++ {
		require.NoError(t, e.Set(fmt.Sprintf("k%d", i), "old"))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("k%d", i)
			if i%3 == 0 {
				assert.NoError(t, e.Remove(key))
			} else {
				assert.NoError(t, e.Set(key, "new"))
			}
		}
	}()
	require.NoError(t, e.Compact())
	wg.Wait()

	check := func(e *engine.Engine) {
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("k%d", i)
			if i%3 == 0 {
				requireMissing(t, e, key)
			} else {
				requireValue(t, e, key, "new")
			}
		}
	}
	check(e)
	require.NoError(t, e.Compact())
	check(e)
	require.NoError(t, e.Close())

	e = openEngine(t, testConfig(dir))
	defer e.Close()
	check(e)
}

func TestReadsDuringCompaction(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.SegmentSize = 1024
	e := openEngine(t, cfg)
	defer e.Close()

	for round := 0; round < 3; round++ {
		for i := 0; i < 100; i++ {
			require.NoError(t, e.Set(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)))
		}
	}

	var stop atomic.Bool
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := r; !stop.Load(); i++ {
				key := fmt.Sprintf("k%d", i%100)
				v, found, err := e.Get(key)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, found)
				assert.Equal(t, fmt.Sprintf("v%d", i%100), v)
			}
		}(r)
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Compact())
		require.NoError(t, e.Set("churn", fmt.Sprintf("%d", i)))
	}
	stop.Store(true)
	wg.Wait()
}

func TestConcurrentCompactCalls(t *testing.T) {
	e := openEngine(t, testConfig(t.TempDir()))
	defer e.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, e.Set(fmt.Sprintf("k%d", i%10), fmt.Sprintf("%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Compact())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4), e.Stats().Compactions)
	for i := 90; i < 100; i++ {
		requireValue(t, e, fmt.Sprintf("k%d", i%10), fmt.Sprintf("%d", i))
	}
}

func TestAutoCompaction(t *testing.T) {
	cfg := engine.DefaultConfig(t.TempDir())
	cfg.SegmentSize = 256
	cfg.CompactionMinBytes = 1024
	cfg.CompactionRatio = 2
	cfg.CompactionCheckInterval = 20 * time.Millisecond

	e := openEngine(t, cfg)
	defer e.Close()

	for i := 0; i < 500; i++ {
		require.NoError(t, e.Set("hot", fmt.Sprintf("value-%d", i)))
	}

	require.Eventually(t, func() bool {
		return e.Stats().Compactions > 0
	}, 5*time.Second, 20*time.Millisecond)
	requireValue(t, e, "hot", "value-499")
}
