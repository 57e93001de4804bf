package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// RedisPubSub реализует domain.ChangeFeed через Redis Pub/Sub.
// События таблицы публикуются в канал <prefix>:<table>.
type RedisPubSub struct {
	client redis.UniversalClient
	prefix string
	log    zerolog.Logger
}

var _ domain.ChangeFeed = (*RedisPubSub)(nil)

// NewRedisPubSub создаёт источник событий.
func NewRedisPubSub(client redis.UniversalClient, prefix string, logger zerolog.Logger) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		prefix: prefix,
		log:    logger.With().Str("component", "realtime_redis").Logger(),
	}
}

func (r *RedisPubSub) topic(table string) string {
	return r.prefix + ":" + table
}

// Subscribe возвращается после подтверждения SUBSCRIBE сервером.
func (r *RedisPubSub) Subscribe(ctx context.Context, req domain.SubscribeRequest) (domain.Subscription, error) {
	topic := r.topic(req.Table)
	start := time.Now()
	ps := r.client.Subscribe(ctx, topic)
	_, err := ps.Receive(ctx)
	metrics.ObserveNetworkRequest("redis", "subscribe", topic, start, err)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	recv := func(ctx context.Context) ([]byte, error) {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(msg.Payload), nil
	}
	log := r.log.With().Str("filter", req.Filter.String()).Logger()
	// ReceiveMessage не прерывается отменой контекста, поэтому закрываем pubsub до ожидания читателя
	return startSubscription(req, recv, ps.Close, nil, log), nil
}

// Publish отправляет событие подписчикам таблицы.
func (r *RedisPubSub) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	topic := r.topic(ev.Table)
	start := time.Now()
	err = r.client.Publish(ctx, topic, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", topic, start, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
