package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// MessagesTable — таблица, на вставки в которую подписывается лента.
const MessagesTable = "community_messages"

// State — состояние push-подписки сессии.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Session — контекст одного канала: кэш страниц и не более одной push-подписки.
// Сессия с пустым channelID навсегда остаётся в StateUnsubscribed и ничего не загружает.
type Session struct {
	channelID string
	messages  domain.MessageRepo
	feed      domain.ChangeFeed
	log       zerolog.Logger

	mu      sync.Mutex
	cache   *PageCache
	state   State
	epoch   uint64
	closed  bool
	sub     domain.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	updates chan struct{}
}

// NewSession создаёт сессию канала.
func NewSession(channelID string, messages domain.MessageRepo, feed domain.ChangeFeed, logger zerolog.Logger) *Session {
	channelID = strings.TrimSpace(channelID)
	return &Session{
		channelID: channelID,
		messages:  messages,
		feed:      feed,
		log:       logger.With().Str("channel_id", channelID).Logger(),
		cache:     NewPageCache(),
		updates:   make(chan struct{}, 1),
	}
}

// ChannelID возвращает идентификатор канала сессии.
func (s *Session) ChannelID() string { return s.channelID }

// Updates сигнализирует об изменении кэша. Сигналы схлопываются; канал закрывается вместе с сессией.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// State возвращает текущее состояние подписки.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasMore сообщает, есть ли смысл запрашивать следующую страницу.
func (s *Session) HasMore() bool {
	if s.channelID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.HasMore()
}

// Snapshot возвращает записи кэша по убыванию свежести.
func (s *Session) Snapshot() []domain.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Entries()
}

// Page возвращает копию страницы кэша.
func (s *Session) Page(index int) []domain.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Page(index)
}

// Load загружает страницу page и кладёт её в кэш.
// Результат, пришедший после закрытия сессии или Refresh, отбрасывается.
func (s *Session) Load(ctx context.Context, page int) ([]domain.Message, error) {
	if s.channelID == "" {
		return nil, nil
	}
	if page < 0 {
		return nil, fmt.Errorf("страница %d: %w", page, domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	epoch := s.epoch
	s.mu.Unlock()

	from := page * domain.FeedPageSize
	to := from + domain.FeedPageSize - 1
	msgs, err := s.messages.ListChannelMessages(ctx, s.channelID, from, to)
	if err != nil {
		return nil, fmt.Errorf("загрузка страницы %d: %w", page, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.epoch != epoch {
		s.log.Debug().Int("page", page).Msg("feed: устаревший результат загрузки отброшен")
		return msgs, nil
	}
	if err := s.cache.SetPage(page, msgs); err != nil {
		return nil, err
	}
	s.notifyLocked()
	return msgs, nil
}

// LoadNext загружает следующую страницу, если она может существовать, и сообщает, остались ли ещё.
func (s *Session) LoadNext(ctx context.Context) (bool, error) {
	if s.channelID == "" {
		return false, nil
	}
	s.mu.Lock()
	if s.cache.Loaded() && !s.cache.HasMore() {
		s.mu.Unlock()
		return false, nil
	}
	next := s.cache.NextPage()
	s.mu.Unlock()

	if _, err := s.Load(ctx, next); err != nil {
		return false, err
	}
	return s.HasMore(), nil
}

// Refresh сбрасывает кэш и загружает страницу 0 заново. Незавершённые загрузки прежней эпохи отбрасываются.
func (s *Session) Refresh(ctx context.Context) error {
	if s.channelID == "" {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.epoch++
	pending := pendingOptimistic(s.cache.Page(0), nil)
	s.cache.Reset()
	for i := len(pending) - 1; i >= 0; i-- {
		s.cache.AddOptimistic(pending[i].Message)
	}
	s.mu.Unlock()
	_, err := s.Load(ctx, 0)
	return err
}

// Subscribe открывает push-подписку на вставки сообщений канала.
// Сессия переходит в StateSubscribed только после подтверждения транспортом.
func (s *Session) Subscribe(ctx context.Context) error {
	if s.channelID == "" {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != StateUnsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateSubscribing
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, domain.SubscribeRequest{
		Table:  MessagesTable,
		Event:  domain.ChangeInsert,
		Filter: domain.ChangeFilter{Column: "channel_id", Value: s.channelID},
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateUnsubscribed
		s.mu.Unlock()
		return fmt.Errorf("подписка на канал: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.state != StateSubscribing {
		closed := s.closed
		s.mu.Unlock()
		_ = sub.Close()
		if closed {
			return domain.ErrSessionClosed
		}
		return nil
	}
	handlerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.sub = sub
	s.cancel = cancel
	s.done = done
	s.state = StateSubscribed
	s.mu.Unlock()

	metrics.FeedActiveSubscriptions.Inc()
	s.log.Debug().Msg("feed: подписка активна")
	go s.consume(handlerCtx, sub, done)
	return nil
}

// consume — единственный обработчик событий подписки.
func (s *Session) consume(ctx context.Context, sub domain.Subscription, done chan struct{}) {
	defer close(done)
	defer metrics.FeedActiveSubscriptions.Dec()
	for ev := range sub.Events() {
		metrics.FeedEventsTotal.Inc()
		s.handleInsert(ctx, ev)
	}
	if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Msg("feed: подписка оборвалась")
	}
	s.mu.Lock()
	broken := s.sub == sub
	cancel := s.cancel
	if broken {
		s.sub = nil
		s.cancel = nil
		s.done = nil
		s.state = StateUnsubscribed
	}
	s.mu.Unlock()
	if broken {
		cancel()
		_ = sub.Close()
	}
}

func (s *Session) handleInsert(ctx context.Context, ev domain.ChangeEvent) {
	if ev.RowID == "" {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	msg, err := s.messages.GetMessage(fetchCtx, ev.RowID)
	cancel()
	if err != nil {
		// событие теряется, лента догонит при следующем событии или обновлении
		metrics.FeedRefetchFailures.Inc()
		s.log.Warn().Err(err).Str("message_id", ev.RowID).Msg("feed: не удалось дочитать сообщение")
		return
	}
	if msg.ChannelID != "" && msg.ChannelID != s.channelID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	res := s.cache.Merge(msg)
	metrics.FeedMergesTotal.WithLabelValues(res.String()).Inc()
	if res != MergeDuplicate {
		s.notifyLocked()
	}
}

// Send показывает сообщение оптимистично, сохраняет его и сверяет с подтверждённой версией.
// При ошибке сохранения оптимистичная запись удаляется.
func (s *Session) Send(ctx context.Context, authorID, content string, parentID *string, attachments []domain.Attachment) (domain.Message, error) {
	in, err := domain.NewMessage{
		ID:          uuid.NewString(),
		ChannelID:   s.channelID,
		UserID:      authorID,
		Content:     content,
		Attachments: attachments,
		ParentID:    parentID,
	}.Normalize()
	if err != nil {
		return domain.Message{}, err
	}

	now := time.Now().UTC()
	temp := domain.Message{
		ID:          domain.TempIDPrefix + uuid.NewString(),
		ChannelID:   in.ChannelID,
		UserID:      in.UserID,
		Content:     in.Content,
		Attachments: in.Attachments,
		ParentID:    in.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Message{}, domain.ErrSessionClosed
	}
	s.cache.AddOptimistic(temp)
	s.notifyLocked()
	s.mu.Unlock()

	saved, err := s.messages.InsertMessage(ctx, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.closed && s.cache.Remove(temp.ID) {
			s.notifyLocked()
		}
		return domain.Message{}, fmt.Errorf("отправка сообщения: %w", err)
	}
	if !s.closed {
		res := s.cache.Merge(saved)
		metrics.FeedMergesTotal.WithLabelValues(res.String()).Inc()
		if res != MergeDuplicate {
			s.notifyLocked()
		}
	}
	return saved, nil
}

// Unsubscribe освобождает push-подписку и дожидается завершения обработчика.
func (s *Session) Unsubscribe() error {
	s.mu.Lock()
	sub, cancel, done := s.sub, s.cancel, s.done
	s.sub, s.cancel, s.done = nil, nil, nil
	s.state = StateUnsubscribed
	s.mu.Unlock()
	return release(sub, cancel, done)
}

// Close отписывается и закрывает сессию. Повторный вызов безопасен.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.epoch++
	sub, cancel, done := s.sub, s.cancel, s.done
	s.sub, s.cancel, s.done = nil, nil, nil
	s.state = StateUnsubscribed
	close(s.updates)
	s.mu.Unlock()
	return release(sub, cancel, done)
}

func release(sub domain.Subscription, cancel context.CancelFunc, done chan struct{}) error {
	if cancel != nil {
		cancel()
	}
	var err error
	if sub != nil {
		err = sub.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

func (s *Session) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
