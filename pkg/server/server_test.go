package server_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/kvs/pkg/client"
	"github.com/downfa11-org/kvs/pkg/config"
	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/downfa11-org/kvs/pkg/server"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, gzip bool) (string, *engine.Engine) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AutoCompact = false
	cfg.MaxConnections = 4
	cfg.EnableGzip = gzip
	cfg.Normalize()

	e, err := engine.Open(cfg.EngineConfig())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.New(cfg, e).Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		e.Close()
	})
	return ln.Addr().String(), e
}

func TestHandleConnection(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AutoCompact = false
	e, err := engine.Open(cfg.EngineConfig())
	require.NoError(t, err)
	defer e.Close()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go server.New(cfg, e).HandleConnection(serverConn)

	require.NoError(t, util.WriteWithLength(clientConn, []byte("SET greeting hello")))
	resp, err := util.ReadWithLength(clientConn)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(resp))

	require.NoError(t, util.WriteWithLength(clientConn, []byte("  GET greeting  ")))
	resp, err = util.ReadWithLength(clientConn)
	require.NoError(t, err)
	assert.Equal(t, `VALUE "hello"`, string(resp))

	v, found, err := e.Get("greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", v)
}

func TestClientRoundtrip(t *testing.T) {
	for _, gzip := range []bool{false, true} {
		t.Run(fmt.Sprintf("gzip=%v", gzip), func(t *testing.T) {
			addr, _ := startServer(t, gzip)

			c, err := client.Dial(addr, client.Options{EnableGzip: gzip})
			require.NoError(t, err)
			defer c.Close()

			require.NoError(t, c.Set("foo", "bar"))
			v, found, err := c.Get("foo")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "bar", v)

			require.NoError(t, c.Set("spaced key", ""))
			v, found, err = c.Get("spaced key")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "", v)

			require.NoError(t, c.Remove("foo"))
			_, found, err = c.Get("foo")
			require.NoError(t, err)
			assert.False(t, found)
			assert.ErrorIs(t, c.Remove("foo"), types.ErrKeyNotFound)

			require.NoError(t, c.Compact())

			resp, err := c.Do("PING")
			require.NoError(t, err)
			assert.Equal(t, "PONG", resp)

			_, err = c.Do("BOGUS")
			require.NoError(t, err)
			err = c.Set("a", "b")
			require.NoError(t, err)
		})
	}
}

func TestInvalidCommandIsServerError(t *testing.T) {
	addr, _ := startServer(t, false)

	c, err := client.Dial(addr, client.Options{})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do("SET onlykey")
	require.NoError(t, err)
	assert.Contains(t, resp, "ERROR: invalid command")
}

func TestConcurrentClients(t *testing.T) {
	addr, e := startServer(t, false)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			c, err := client.Dial(addr, client.Options{})
			if !assert.NoError(t, err) {
				return
			}
			defer c.Close()
			for i := 0; i < 50; i++ {
				assert.NoError(t, c.Set(fmt.Sprintf("w%d-k%d", w, i), fmt.Sprintf("%d", i)))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int64(200), e.Stats().Keys)
}

func TestClientRoundtripStatusLikeValues(t *testing.T) {
	addr, _ := startServer(t, false)

	c, err := client.Dial(addr, client.Options{})
	require.NoError(t, err)
	defer c.Close()

	for _, v := range []string{"Key not found", "ERROR: boom", "OK", "PONG", "VALUE \"x\""} {
		require.NoError(t, c.Set("k", v))
		got, found, err := c.Get("k")
		require.NoError(t, err, v)
		assert.True(t, found, v)
		assert.Equal(t, v, got)
	}
}
