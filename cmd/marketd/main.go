package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lomarket/config"
	"lomarket/core"
	"lomarket/observability/logging"
	"lomarket/rpc"
	"lomarket/state"
	"lomarket/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "market.yaml", "path to marketd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LOMARKET_ENV"))
	logging.Setup("marketd", env)
	logger := slog.Default()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	params, err := cfg.Params()
	if err != nil {
		log.Fatalf("market params: %v", err)
	}

	var db storage.Database
	if cfg.DataDir != "" {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open state db at %s: %v", cfg.DataDir, err)
		}
	} else {
		logger.Warn("no data_dir configured, state will not survive restarts")
		db = storage.NewMemDB()
	}
	defer db.Close()

	node := core.NewNode(core.Options{
		ID:         cfg.ProcessID,
		Controller: cfg.Controller,
		Params:     params,
		Friends:    cfg.PeerMarkets(),
		Store:      state.NewStore(db),
		Logger:     logger,
	})
	if err := node.Restore(); err != nil {
		log.Fatalf("restore state: %v", err)
	}

	relay := rpc.NewRelay(cfg.RelayURL, logger)
	server := rpc.NewServer(cfg.ListenAddress, node, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	go node.Run(ctx, relay)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("serve http: %v", err)
		}
	}
}
