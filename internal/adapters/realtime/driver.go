package realtime

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
)

// Поддерживаемые транспорты push-событий.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Backends — подключения, из которых собирается транспорт.
type Backends struct {
	Pool      *pgxpool.Pool
	Redis     redis.UniversalClient
	RabbitURL string
}

// Open выбирает транспорт по имени драйвера. Возвращаемая функция освобождает
// ресурсы, которыми транспорт владеет сам.
func Open(driver, channel string, b Backends, logger zerolog.Logger) (domain.ChangeFeed, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		if b.Pool == nil {
			return nil, nil, fmt.Errorf("realtime: драйвер %s требует PG_DSN", DriverPostgres)
		}
		return NewPGNotify(b.Pool, channel, logger), noop, nil
	case DriverRedis:
		if b.Redis == nil {
			return nil, nil, fmt.Errorf("realtime: драйвер %s требует REDIS_ADDR", DriverRedis)
		}
		return NewRedisPubSub(b.Redis, channel, logger), noop, nil
	case DriverRabbitMQ:
		if b.RabbitURL == "" {
			return nil, nil, fmt.Errorf("realtime: драйвер %s требует RABBITMQ_URL", DriverRabbitMQ)
		}
		r, err := DialRabbit(b.RabbitURL, channel, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("realtime: неизвестный драйвер %q", driver)
	}
}
