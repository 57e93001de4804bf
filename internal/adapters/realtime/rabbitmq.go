package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// Rabbit реализует domain.ChangeFeed через topic-exchange RabbitMQ.
// Ключ маршрутизации события — <table>.<type>.
type Rabbit struct {
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

var _ domain.ChangeFeed = (*Rabbit)(nil)

// DialRabbit подключается к брокеру и объявляет exchange.
func DialRabbit(url, exchange string, logger zerolog.Logger) (*Rabbit, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	start := time.Now()
	conn, err := amqp.Dial(url)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", exchange, start, err)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Rabbit{
		conn:     conn,
		exchange: exchange,
		log:      logger.With().Str("component", "realtime_rabbit").Logger(),
	}, nil
}

func routingKey(table string, event domain.ChangeType) string {
	if event == "" {
		return table + ".*"
	}
	return table + "." + string(event)
}

// Subscribe объявляет эксклюзивную очередь, привязывает её и возвращается после basic.consume-ok.
func (r *Rabbit) Subscribe(ctx context.Context, req domain.SubscribeRequest) (domain.Subscription, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	key := routingKey(req.Table, req.Event)

	start := time.Now()
	deliveries, err := r.consume(ch, key)
	metrics.ObserveNetworkRequest("rabbitmq", "subscribe", key, start, err)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	recv := func(ctx context.Context) ([]byte, error) {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil, amqp.ErrClosed
			}
			return d.Body, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	release := func() error {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
		return nil
	}
	log := r.log.With().Str("filter", req.Filter.String()).Logger()
	return startSubscription(req, recv, nil, release, log), nil
}

func (r *Rabbit) consume(ch *amqp.Channel, key string) (<-chan amqp.Delivery, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, key, r.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", key, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	return deliveries, nil
}

// Publish отправляет событие в exchange.
func (r *Rabbit) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	ch, err := r.publishChannel()
	if err != nil {
		return err
	}
	key := routingKey(ev.Table, ev.Type)
	start := time.Now()
	err = ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", key, start, err)
	if err != nil {
		r.mu.Lock()
		if r.pub == ch {
			r.pub = nil
		}
		r.mu.Unlock()
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (r *Rabbit) publishChannel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub != nil && !r.pub.IsClosed() {
		return r.pub, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	r.pub = ch
	return ch, nil
}

// Close закрывает соединение с брокером вместе со всеми каналами.
func (r *Rabbit) Close() error {
	return r.conn.Close()
}
