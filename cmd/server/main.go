package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burrowblog/burrowblog/internal/config"
	"github.com/burrowblog/burrowblog/internal/domain"
	"github.com/burrowblog/burrowblog/internal/httpserver"
	"github.com/burrowblog/burrowblog/internal/postgres"
	"github.com/burrowblog/burrowblog/internal/syndication"
)

const (
	hitCleanupInterval = time.Hour
	hitRetention       = 90 * 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up repository (implements the post, upvote and hit ports)
	repo, err := postgres.NewRepository(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	discover := domain.NewDiscoverService(repo, repo, repo, logger)
	renderer := syndication.NewRenderer(cfg.SiteName, cfg.SiteDomain)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start background hit pruning
	go discover.StartHitCleanupJob(ctx, hitCleanupInterval, hitRetention)

	// Start the HTTP server
	server := httpserver.NewServer(cfg, discover, renderer, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "site", cfg.SiteDomain)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
