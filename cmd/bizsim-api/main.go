package main

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bizsim/internal/api"
	"bizsim/internal/config"
	"bizsim/internal/db"
	"bizsim/internal/game"
	"bizsim/internal/metrics"
	"bizsim/internal/notify"
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

	params, err := config.LoadEngineParams(cfg.EngineConfigPath)
	if err != nil {
		logger.Error("engine config failed", "err", err)
		os.Exit(1)
	}

	var repo game.Repository = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migrate failed", "err", err)
				os.Exit(1)
			}
		}
		repo = pg

		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				logger.Error("redis url invalid", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("redis unreachable, cache will degrade to postgres reads", "err", err)
			}
			repo = store.NewCachedStore(pg, rdb, cfg.CacheTTL)
		}
		logger.Info("session store ready", "backend", "postgres", "cache", cfg.RedisURL != "")
	} else {
		logger.Warn("DATABASE_URL not set, sessions live in memory only")
	}

	var senders []notify.Sender
	if cfg.DiscordToken != "" {
		s, err := notify.NewDiscordSender(cfg.DiscordToken, cfg.DiscordChannelID)
		if err != nil {
			logger.Error("discord notifier failed", "err", err)
			os.Exit(1)
		}
		senders = append(senders, s)
	}
	if cfg.TelegramToken != "" {
		s, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.Error("telegram notifier failed", "err", err)
			os.Exit(1)
		}
		senders = append(senders, s)
	}
	notifier := notify.NewNotifier(logger, cfg.NotifyRetries, cfg.NotifyRetryDelay, senders...)

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	opts := []game.Option{game.WithPublisher(hub, metrics.Recorder{})}
	if notifier.Enabled() {
		opts = append(opts, game.WithPublisher(notifier))
	}
	if cfg.SessionSeed != 0 {
		opts = append(opts, game.WithSeedSource(mathrand.New(mathrand.NewSource(cfg.SessionSeed))))
	}
	gameSvc := game.NewService(repo, game.NewEngine(params), logger, opts...)

	server := api.New(cfg, logger, gameSvc, hub)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.AdminKey == "" && cfg.AdminKeyHash == "" {
		logger.Warn("no admin key configured, admin routes are disabled")
	}
	logger.Info("bizsim api listening", "addr", cfg.Addr, "notifiers", len(senders))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	notifier.Wait()
}
