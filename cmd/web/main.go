package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stemsplitter/internal/config"
	"stemsplitter/internal/handlers"
	"stemsplitter/internal/limiter"
	"stemsplitter/internal/media"
	"stemsplitter/internal/registry"
	"stemsplitter/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewManager(filepath.Join(cfg.DataDir, "jobs"), logger)
	if err != nil {
		logger.Error("failed to prepare storage", "error", err)
		os.Exit(1)
	}

	app := handlers.NewApp(
		logger,
		registry.New(),
		limiter.New(cfg.MaxJobs),
		store,
		media.NewYTDLPDownloader(),
		media.NewFFmpegExtractor(logger),
		media.NewDemucsSeparator(cfg.DemucsModel, logger),
		filepath.Join(cfg.DataDir, "spool"),
		cfg.MaxUploadBytes,
		cfg.JobTimeoutDuration(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.StartCleanupLoop(ctx, cfg.CleanupIntervalDuration(), cfg.JobTTLDuration())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", cfg.Addr, "max_jobs", cfg.MaxJobs)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	logger.Info("server stopped")
}
