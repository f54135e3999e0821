package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/kvs/pkg/config"
	"github.com/downfa11-org/kvs/pkg/controller"
	"github.com/downfa11-org/kvs/pkg/metrics"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
	"github.com/google/uuid"
)

// Server accepts framed text commands over TCP and runs them against a
// store. Connections are handled by a fixed pool of workers.
type Server struct {
	handler     *controller.CommandHandler
	workers     int
	enableGzip  bool
	idleTimeout time.Duration

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(cfg *config.Config, store types.Store) *Server {
	return &Server{
		handler:     controller.NewCommandHandler(store),
		workers:     cfg.MaxConnections,
		enableGzip:  cfg.EnableGzip,
		idleTimeout: cfg.IdleTimeout(),
		conns:       make(map[net.Conn]struct{}),
	}
}

// RunServer starts the exporter if enabled and serves until ctx is done.
func RunServer(ctx context.Context, cfg *config.Config, store types.Store) error {
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	} else {
		util.Info("Exporter disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	var ln net.Listener
	var err error
	if cfg.UseTLS {
		tlsConfig := &tls.Config{Certificates: []tls.Certificate{cfg.TLSCert}}
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	util.Info("kvs listening on %s (TLS=%v, Gzip=%v)", addr, cfg.UseTLS, cfg.EnableGzip)
	return New(cfg, store).Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then closes
// the listener and every open connection and waits for the workers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	workerCh := make(chan net.Conn)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for conn := range workerCh {
				s.HandleConnection(conn)
			}
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeConns()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			util.Warn("Accept error: %v", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			break
		}
		select {
		case workerCh <- conn:
		case <-ctx.Done():
			s.untrack(conn)
			conn.Close()
		}
	}

	close(workerCh)
	s.wg.Wait()
	util.Info("Server stopped")
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// HandleConnection processes a single client connection
func (s *Server) HandleConnection(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	ctx := controller.NewClientContext(uuid.NewString(), conn.RemoteAddr().String())
	util.Debug("[%s] connection opened from %s", ctx.ConnID, ctx.Remote)

	for {
		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		msgBuf, err := util.ReadWithLength(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				util.Debug("[%s] read error: %v", ctx.ConnID, err)
			}
			break
		}

		data, err := DecompressMessage(msgBuf, s.enableGzip)
		if err != nil {
			util.Warn("[%s] decompress error: %v", ctx.ConnID, err)
			break
		}

		resp := s.handler.HandleCommand(strings.TrimSpace(string(data)), ctx)
		if err := s.writeResponse(conn, resp); err != nil {
			util.Debug("[%s] write error: %v", ctx.ConnID, err)
			break
		}
	}
	util.Debug("[%s] connection closed after %d commands", ctx.ConnID, ctx.Commands)
}

func (s *Server) writeResponse(conn net.Conn, msg string) error {
	out, err := CompressMessage([]byte(msg), s.enableGzip)
	if err != nil {
		return err
	}
	return util.WriteWithLength(conn, out)
}
