package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/downfa11-org/kvs/pkg/config"
	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/downfa11-org/kvs/pkg/server"
	"github.com/downfa11-org/kvs/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		util.Fatal("Failed to load config: %v", err)
	}

	util.Info("Starting kvs on port %d (data dir %s, exporter %v)", cfg.Port, cfg.DataDir, cfg.EnableExporter)

	// Initialization
	store, err := engine.Open(cfg.EngineConfig())
	if err != nil {
		util.Fatal("Failed to open store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := server.RunServer(ctx, cfg, store)
	if err := store.Close(); err != nil {
		util.Error("Failed to close store: %v", err)
	}
	if serveErr != nil {
		util.Fatal("Server failed: %v", serveErr)
	}
}
