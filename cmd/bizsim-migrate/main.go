package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizsim/internal/config"
	"bizsim/internal/db"
	"bizsim/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	// Containers often start before the database accepts connections.
	wait := 60 * time.Second
	if v, err := time.ParseDuration(os.Getenv("BIZSIM_MIGRATE_WAIT")); err == nil {
		wait = v
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		err := migrate(ctx, cfg)
		if err == nil {
			logger.Info("migration complete")
			return
		}
		if time.Now().After(deadline) {
			logger.Error("migration failed", "err", err)
			os.Exit(1)
		}
		logger.Warn("migration attempt failed, retrying", "err", err)
		select {
		case <-ctx.Done():
			logger.Info("migration cancelled")
			os.Exit(1)
		case <-ticker.C:
		}
	}
}

func migrate(ctx context.Context, cfg config.APIConfig) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		return err
	}
	defer pool.Close()
	return store.NewPostgresStore(pool).Migrate(ctx)
}
