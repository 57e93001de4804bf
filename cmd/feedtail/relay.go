package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"learnhub/internal/adapters/realtime"
	"learnhub/internal/domain"
	"learnhub/internal/infra/cache"
	"learnhub/internal/infra/db"
	"learnhub/internal/usecase/feed"
)

var relayTarget string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Пересылать вставки сообщений из Postgres NOTIFY в Redis или RabbitMQ",
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayTarget, "to", realtime.DriverRedis, "куда пересылать: redis или rabbitmq")
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, stop, cfg, logger := setup()
	defer stop()

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("подключение к БД: %w", err)
	}
	defer pool.Close()
	source := realtime.NewPGNotify(pool, cfg.Realtime.Channel, logger)

	var dst realtime.Publisher
	switch relayTarget {
	case realtime.DriverRedis:
		client, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("подключение к Redis: %w", err)
		}
		defer client.Close()
		dst = realtime.NewRedisPubSub(client, cfg.Realtime.Channel, logger)
	case realtime.DriverRabbitMQ:
		rabbit, err := realtime.DialRabbit(cfg.RabbitURL, cfg.Realtime.Channel, logger)
		if err != nil {
			return err
		}
		defer rabbit.Close()
		dst = rabbit
	default:
		return fmt.Errorf("неизвестное направление %q", relayTarget)
	}

	return realtime.Relay(ctx, source, domain.SubscribeRequest{Table: feed.MessagesTable, Event: domain.ChangeInsert}, dst, logger)
}
