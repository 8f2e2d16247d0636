package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HenryLai921/share-files/internal/server/api"
	"github.com/HenryLai921/share-files/internal/server/config"
	"github.com/HenryLai921/share-files/internal/server/database"
	"github.com/HenryLai921/share-files/internal/server/service"
	"github.com/HenryLai921/share-files/internal/server/session"
	"github.com/HenryLai921/share-files/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_upload_size", cfg.MaxUploadSize,
		"allowed_extensions", len(cfg.AllowedExtensions),
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Repository and services
	repo := database.NewRepository(db)
	authSvc := service.NewAuthService(repo)
	fileSvc := service.NewFileService(repo, store,
		cfg.MaxUploadSize, cfg.MaxNameLength, cfg.AllowedExtensions)
	tracker := session.NewMemoryTracker()

	// Seed the admin account
	if err := authSvc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		slog.Error("failed to seed admin account", "error", err)
		os.Exit(1)
	}

	// Start the orphan-blob janitor
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	janitor := storage.NewJanitor(repo, store, cfg.JanitorInterval, cfg.JanitorMinAge)
	janitor.Start(janitorCtx)

	// Setup HTTP router
	handler := api.NewHandler(authSvc, fileSvc, tracker, db, cfg)
	e, err := api.SetupRouter(handler, cfg)
	if err != nil {
		slog.Error("failed to set up router", "error", err)
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the janitor
	janitorCancel()
	janitor.Wait()

	slog.Info("server exited cleanly")
}
