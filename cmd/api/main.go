package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"learnhub/internal/adapters/api"
	"learnhub/internal/adapters/llm"
	"learnhub/internal/adapters/realtime"
	"learnhub/internal/adapters/repo"
	"learnhub/internal/domain"
	"learnhub/internal/infra/cache"
	"learnhub/internal/infra/config"
	"learnhub/internal/infra/db"
	httpinfra "learnhub/internal/infra/http"
	logpkg "learnhub/internal/infra/log"
	"learnhub/internal/infra/metrics"
	"learnhub/internal/infra/openai"
	"learnhub/internal/usecase/assistant"
	"learnhub/internal/usecase/community"
	"learnhub/internal/usecase/leaderboard"
	"learnhub/internal/usecase/rewards"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("api: AUTH_JWT_SECRET не задан")
	}

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	redisClient, err := cache.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
	}
	defer redisClient.Close()

	changes, closeChanges, err := realtime.Open(cfg.Realtime.Driver, cfg.Realtime.Channel, realtime.Backends{
		Pool:      pool,
		Redis:     redisClient,
		RabbitURL: cfg.RabbitURL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: транспорт событий недоступен")
	}
	defer closeChanges()

	store := repo.NewPostgres(pool)
	redisCache := cache.NewRedis(redisClient, "learnhub:")
	rewardsService := rewards.NewService(store, store, store, redisCache)
	handler := api.NewHandler(api.Deps{
		Community:    community.NewService(store, store, store, rewardsService, logger.With().Str("component", "community").Logger()),
		Leaderboard:  leaderboard.NewService(store, store).WithCache(redisCache, cfg.Leaderboard.CacheTTL),
		Rewards:      rewardsService,
		Assistant:    assistant.NewService(newCompleter(cfg, logger), logger.With().Str("component", "assistant").Logger()),
		Messages:     store,
		Feed:         changes,
		DefaultLimit: cfg.Leaderboard.DefaultLimit,
		Logger:       logger.With().Str("component", "api").Logger(),
	})

	server := httpinfra.NewServer(logger, cfg.CORSOrigins)
	handler.Mount(server.Router, cfg.Auth.JWTSecret)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("api: остановка")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
}

// newCompleter выбирает OpenAI, если задан ключ, иначе офлайн-заглушку.
func newCompleter(cfg config.AppConfig, logger zerolog.Logger) domain.Completer {
	if cfg.OpenAI.APIKey == "" {
		logger.Warn().Msg("api: OPENAI_API_KEY не задан, ассистент работает в офлайн-режиме")
		return llm.NewStub()
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	return llm.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
}
