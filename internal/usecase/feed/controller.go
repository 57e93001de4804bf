package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"learnhub/internal/domain"
)

// Controller владеет сессией выбранного канала. Смена канала закрывает
// прежнюю сессию до открытия новой, поэтому активна не более одной подписки.
type Controller struct {
	messages domain.MessageRepo
	feed     domain.ChangeFeed
	log      zerolog.Logger

	switching sync.Mutex
	mu        sync.Mutex
	current   *Session
}

// NewController создаёт контроллер ленты.
func NewController(messages domain.MessageRepo, feed domain.ChangeFeed, logger zerolog.Logger) *Controller {
	return &Controller{messages: messages, feed: feed, log: logger}
}

// Current возвращает сессию выбранного канала или nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Select переключает ленту на канал channelID: закрывает прежнюю сессию,
// загружает первую страницу и подписывается на новые сообщения.
// Сессия возвращается и при ошибке загрузки, чтобы вызывающий показал состояние ошибки.
func (c *Controller) Select(ctx context.Context, channelID string) (*Session, error) {
	c.switching.Lock()
	defer c.switching.Unlock()

	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			c.log.Warn().Err(err).Str("channel_id", prev.ChannelID()).Msg("feed: ошибка закрытия подписки")
		}
	}

	session := NewSession(channelID, c.messages, c.feed, c.log)
	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	if _, err := session.Load(ctx, 0); err != nil {
		return session, err
	}
	if err := session.Subscribe(ctx); err != nil {
		return session, err
	}
	return session, nil
}

// Close закрывает текущую сессию.
func (c *Controller) Close() error {
	c.mu.Lock()
	current := c.current
	c.current = nil
	c.mu.Unlock()
	if current == nil {
		return nil
	}
	return current.Close()
}
