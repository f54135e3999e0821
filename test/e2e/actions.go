package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/downfa11-org/kvs/pkg/client"
)

// Actions represents test actions (When phase)
type Actions struct {
	ctx *TestContext
}

func (a *Actions) StartServer() *Actions {
	a.ctx.startServer()
	a.ctx.t.Logf("Server listening on %s (data dir %s)", a.ctx.addr, a.ctx.cfg.DataDir)
	return a
}

func (a *Actions) StopServer() *Actions {
	a.ctx.t.Log("Stopping server...")
	a.ctx.stopServer()
	return a
}

func (a *Actions) RestartServer() *Actions {
	return a.StopServer().StartServer()
}

// SetKeys writes numKeys keys, each overwritten rounds times. The last
// round's value is the one expected afterwards.
func (a *Actions) SetKeys(rounds int) *Actions {
	a.ctx.t.Logf("Setting %d keys x %d rounds...", a.ctx.numKeys, rounds)

	for r := 0; r < rounds; r++ {
		for i := 0; i < a.ctx.numKeys; i++ {
			key := keyName(i)
			value := valueFor(i, r, a.ctx.valueSize)
			if err := a.ctx.getClient().Set(key, value); err != nil {
				a.ctx.lastError = err
				return a
			}
			a.ctx.written[key] = value
			delete(a.ctx.removed, key)
		}
		a.ctx.trackLogBytes()
	}
	return a
}

// RemoveEvery removes every n-th key written so far.
func (a *Actions) RemoveEvery(n int) *Actions {
	for i := 0; i < a.ctx.numKeys; i += n {
		key := keyName(i)
		if err := a.ctx.getClient().Remove(key); err != nil {
			a.ctx.lastError = err
			return a
		}
		delete(a.ctx.written, key)
		a.ctx.removed[key] = true
	}
	a.ctx.trackLogBytes()
	return a
}

func (a *Actions) Compact() *Actions {
	a.ctx.t.Log("Compacting...")
	if err := a.ctx.getClient().Compact(); err != nil {
		a.ctx.lastError = err
	}
	return a
}

func (a *Actions) SendRaw(line string) *Actions {
	resp, err := a.ctx.getClient().Do(line)
	if err != nil {
		a.ctx.lastError = err
		return a
	}
	if msg, ok := strings.CutPrefix(resp, "ERROR: "); ok {
		a.ctx.lastError = &client.ServerError{Message: msg}
	}
	return a
}

// TearActiveTail stops the server and appends a partial record to the
// active segment, as a crash in the middle of a write would.
func (a *Actions) TearActiveTail() *Actions {
	a.StopServer()

	segments, err := filepath.Glob(filepath.Join(a.ctx.cfg.DataDir, "segment_*.log"))
	if err != nil || len(segments) == 0 {
		a.ctx.t.Fatalf("No segments in %s: %v", a.ctx.cfg.DataDir, err)
	}
	slices.Sort(segments)
	path := segments[len(segments)-1]

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.ctx.t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.Write([]byte{0x12, 0x34, 0x56, 0x78, 0x00, 0x00, 0x01}); err != nil {
		a.ctx.t.Fatalf("Failed to tear %s: %v", path, err)
	}
	return a
}

func keyName(i int) string {
	return fmt.Sprintf("key-%04d", i)
}

func valueFor(i, round, size int) string {
	v := fmt.Sprintf("v%d-%d-", i, round)
	if len(v) < size {
		v += strings.Repeat("x", size-len(v))
	}
	return v
}

func (a *Actions) Then() *Consequences {
	return &Consequences{ctx: a.ctx}
}
