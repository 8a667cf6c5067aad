package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/quarry0/quarry/internal/api"
	"github.com/quarry0/quarry/internal/config"
)

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	addr, err := parseServeAddr(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting HTTP API server", "version", AppVersion)

	r, err := newRetriever(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// The readiness probe reports the database only when it is
	// reachable at startup; snapshot-only deployments have no store to
	// check and stay ready as long as the process is up.
	var pinger api.Pinger
	if st, storeErr := openStore(ctx, cfg, logger.With("component", "store")); storeErr == nil {
		defer st.Close()
		pinger = st
	} else {
		logger.Debug("Postgres unavailable, readiness check skips the database", "error", storeErr)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger: logger,
		Asker:  r,
		Pinger: pinger,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/query",
		"health", "/health, /ready",
	)
	return apiServer.Run(ctx, addr)
}
