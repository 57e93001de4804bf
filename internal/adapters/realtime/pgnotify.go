package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// PGNotify реализует domain.ChangeFeed через LISTEN/NOTIFY.
// Каждая подписка держит отдельное соединение из пула.
type PGNotify struct {
	pool    *pgxpool.Pool
	channel string
	log     zerolog.Logger
}

var _ domain.ChangeFeed = (*PGNotify)(nil)

// NewPGNotify создаёт источник событий для канала NOTIFY channel.
func NewPGNotify(pool *pgxpool.Pool, channel string, logger zerolog.Logger) *PGNotify {
	return &PGNotify{
		pool:    pool,
		channel: channel,
		log:     logger.With().Str("component", "realtime_pg").Logger(),
	}
}

// Subscribe возвращается после выполнения LISTEN.
func (p *PGNotify) Subscribe(ctx context.Context, req domain.SubscribeRequest) (domain.Subscription, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("соединение для LISTEN: %w", err)
	}
	ident := pgx.Identifier{p.channel}.Sanitize()

	start := time.Now()
	_, err = conn.Exec(ctx, "LISTEN "+ident)
	metrics.ObserveNetworkRequest("postgres", "listen", p.channel, start, err)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", p.channel, err)
	}

	recv := func(ctx context.Context) ([]byte, error) {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(n.Payload), nil
	}
	release := func() error {
		defer conn.Release()
		if conn.Conn().IsClosed() {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "UNLISTEN "+ident); err != nil {
			// соединение в неизвестном состоянии, в пул его не возвращаем
			_ = conn.Conn().Close(ctx)
		}
		return nil
	}
	log := p.log.With().Str("filter", req.Filter.String()).Logger()
	return startSubscription(req, recv, nil, release, log), nil
}

// TriggerSQL возвращает DDL триггера, публикующего вставки сообщений в канал NOTIFY.
func TriggerSQL(channel string) string {
	literal := "'" + strings.ReplaceAll(channel, "'", "''") + "'"
	return `CREATE OR REPLACE FUNCTION learnhub_notify_message() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify(` + literal + `, json_build_object(
    'table', TG_TABLE_NAME,
    'type', TG_OP,
    'id', NEW.id::text,
    'record', json_build_object('channel_id', NEW.channel_id::text)
  )::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS community_messages_notify ON community_messages;
CREATE TRIGGER community_messages_notify
  AFTER INSERT ON community_messages
  FOR EACH ROW EXECUTE FUNCTION learnhub_notify_message();
`
}
