package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"learnhub/internal/infra/config"
	logpkg "learnhub/internal/infra/log"
)

var rootCmd = &cobra.Command{
	Use:          "feedtail",
	Short:        "Консоль ленты сообщества: просмотр канала, пересылка событий, DDL триггера",
	SilenceUsage: true,
}

// Execute запускает корневую команду.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(triggerSQLCmd)
}

// setup загружает конфиг и логгер, контекст отменяется по SIGINT/SIGTERM.
func setup() (context.Context, context.CancelFunc, config.AppConfig, zerolog.Logger) {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, stop, cfg, logger
}
