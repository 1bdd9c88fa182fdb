// Package main is the entrypoint for the relay: it wires configuration,
// storage, the LLM backend and the Telegram and web channels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Ant-Pavel/systech-aidd/internal/bot"
	"github.com/Ant-Pavel/systech-aidd/internal/bot/handlers"
	"github.com/Ant-Pavel/systech-aidd/internal/bot/tasks"
	"github.com/Ant-Pavel/systech-aidd/internal/config"
	"github.com/Ant-Pavel/systech-aidd/internal/database"
	"github.com/Ant-Pavel/systech-aidd/internal/identity"
	"github.com/Ant-Pavel/systech-aidd/internal/llm"
	"github.com/Ant-Pavel/systech-aidd/internal/logger"
	"github.com/Ant-Pavel/systech-aidd/internal/metrics"
	"github.com/Ant-Pavel/systech-aidd/internal/relay"
	"github.com/Ant-Pavel/systech-aidd/internal/stats"
	"github.com/Ant-Pavel/systech-aidd/internal/telegram"
	"github.com/Ant-Pavel/systech-aidd/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component, blocks until shutdown and returns the exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON, "version", version)

	pool := database.NewPool(cfg.Database, log)
	if err := pool.Init(ctx); err != nil {
		log.Error("Failed to initialize database", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pool.Close(closeCtx); err != nil {
			log.Error("Failed to close database pool", "error", err)
		}
	}()

	store := database.NewStore(pool, log)
	statsStore := database.NewStatsStore(pool, log)

	backend, closeBackend, err := newIdentityBackend(ctx, cfg.Redis, cfg.Database.ConnectAttempts, log)
	if err != nil {
		log.Error("Failed to initialize session backend", "error", err)
		return 1
	}
	defer closeBackend()
	mapper := identity.NewMapper(backend, log)

	llmClient, err := llm.New(ctx, cfg.LLM, log)
	if err != nil {
		log.Error("Failed to initialize LLM client", "provider", cfg.LLM.Provider, "error", err)
		return 1
	}

	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	rl := relay.New(store, llmClient, relay.Options{
		SystemPrompt: cfg.LLM.SystemPrompt,
		HistoryLimit: cfg.Database.MaxHistoryMessages,
		Metrics:      m,
		Logger:       log,
	})

	var webServer bot.WebServer
	if cfg.Web.Enabled {
		webServer = web.NewServer(web.Deps{
			Logger:       log,
			Config:       cfg.Web,
			HistoryLimit: cfg.Database.MaxHistoryMessages,
			Mapper:       mapper,
			Relay:        rl,
			Store:        store,
			Stats:        stats.NewCollector(statsStore, log),
			Metrics:      m,
			Gatherer:     registry,
			Version:      version,
		})
	}

	var listener bot.Listener
	if cfg.Telegram.Enabled {
		tg, err := telegram.New(cfg.Telegram, handlers.HandlerDeps{
			Logger: log,
			Config: cfg,
			Store:  store,
			Relay:  rl,
		})
		if err != nil {
			log.Error("Failed to create Telegram bot", "error", err)
			return 1
		}
		listener = tg
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:    log,
		Store:     store,
		Config:    cfg,
		PoolStats: pool.Stats,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, listener, webServer, sched)

	log.Info("Starting bot...", "telegram", cfg.Telegram.Enabled, "web", cfg.Web.Enabled)
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	return 0
}

// newIdentityBackend returns the Redis session backend when an address is
// configured and the in-process one otherwise.
func newIdentityBackend(ctx context.Context, cfg config.RedisConfig, attempts uint, log *slog.Logger) (identity.Backend, func(), error) {
	if cfg.Addr == "" {
		log.Info("Using in-memory session backend")
		return identity.NewMemoryBackend(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(
		func() error { return client.Ping(ctx).Err() },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("Redis ping failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info("Using Redis session backend", "addr", cfg.Addr, "db", cfg.DB)
	return identity.NewRedisBackend(client, cfg.KeyPrefix), func() {
		if err := client.Close(); err != nil {
			log.Error("Failed to close redis client", "error", err)
		}
	}, nil
}
