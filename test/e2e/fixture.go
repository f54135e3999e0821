package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/downfa11-org/kvs/pkg/client"
	"github.com/downfa11-org/kvs/pkg/config"
	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/downfa11-org/kvs/pkg/server"
)

const serverStopTimeout = 5 * time.Second

// TestContext holds the state shared by the Given, When and Then phases.
type TestContext struct {
	t   *testing.T
	cfg *config.Config

	store  *engine.Engine
	addr   string
	cancel context.CancelFunc
	done   chan error
	client *client.Client

	numKeys      int
	valueSize    int
	written      map[string]string
	removed      map[string]bool
	logBytesPeak int64
	lastError    error
}

func Given(t *testing.T) *TestContext {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AutoCompact = false
	cfg.MaxConnections = 4
	cfg.SegmentSize = 4096
	cfg.Normalize()

	return &TestContext{
		t:         t,
		cfg:       cfg,
		numKeys:   10,
		valueSize: 16,
		written:   make(map[string]string),
		removed:   make(map[string]bool),
	}
}

func (c *TestContext) WithNumKeys(n int) *TestContext {
	c.numKeys = n
	return c
}

func (c *TestContext) WithValueSize(n int) *TestContext {
	c.valueSize = n
	return c
}

func (c *TestContext) WithGzip() *TestContext {
	c.cfg.EnableGzip = true
	return c
}

func (c *TestContext) WithCompression(codec string) *TestContext {
	c.cfg.CompressionType = codec
	return c
}

func (c *TestContext) WithSegmentSize(n int64) *TestContext {
	c.cfg.SegmentSize = n
	return c
}

func (c *TestContext) When() *Actions {
	return &Actions{ctx: c}
}

func (c *TestContext) Then() *Consequences {
	return &Consequences{ctx: c}
}

func (c *TestContext) Cleanup() {
	c.stopServer()
}

func (c *TestContext) startServer() {
	store, err := engine.Open(c.cfg.EngineConfig())
	if err != nil {
		c.t.Fatalf("Failed to open store: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		store.Close()
		c.t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.store = store
	c.addr = ln.Addr().String()
	c.cancel = cancel
	c.done = make(chan error, 1)

	srv := server.New(c.cfg, store)
	go func(done chan<- error) {
		done <- srv.Serve(ctx, ln)
	}(c.done)

	cl, err := client.Dial(c.addr, client.Options{EnableGzip: c.cfg.EnableGzip, Timeout: 5 * time.Second})
	if err != nil {
		c.t.Fatalf("Failed to connect to %s: %v", c.addr, err)
	}
	c.client = cl
}

func (c *TestContext) stopServer() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.cancel != nil {
		c.cancel()
		select {
		case err := <-c.done:
			if err != nil {
				c.t.Errorf("Server returned error: %v", err)
			}
		case <-time.After(serverStopTimeout):
			c.t.Error("Server did not stop")
		}
		c.cancel = nil
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.t.Errorf("Failed to close store: %v", err)
		}
		c.store = nil
	}
}

func (c *TestContext) getClient() *client.Client {
	if c.client == nil {
		c.t.Fatal("server is not running")
	}
	return c.client
}

func (c *TestContext) trackLogBytes() {
	if c.store == nil {
		return
	}
	if n := c.store.Stats().LogBytes; n > c.logBytesPeak {
		c.logBytesPeak = n
	}
}
