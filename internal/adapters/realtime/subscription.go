package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"learnhub/internal/domain"
)

// receiveFunc блокируется до следующего payload или отмены контекста.
type receiveFunc func(ctx context.Context) ([]byte, error)

// subscription — общая часть всех транспортов: один читатель, фильтр и канал событий.
type subscription struct {
	req       domain.SubscribeRequest
	recv      receiveFunc
	interrupt func() error
	release   func() error
	log       zerolog.Logger

	events chan domain.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	closeErr  error
}

var _ domain.Subscription = (*subscription)(nil)

// startSubscription запускает чтение. interrupt вызывается при закрытии до ожидания
// читателя (для транспортов, не реагирующих на отмену), release — после.
func startSubscription(req domain.SubscribeRequest, recv receiveFunc, interrupt, release func() error, logger zerolog.Logger) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		req:       req,
		recv:      recv,
		interrupt: interrupt,
		release:   release,
		log:       logger,
		events:    make(chan domain.ChangeEvent, 64),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	for {
		payload, err := s.recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		ev, err := DecodeEvent(payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("realtime: пропускаем событие")
			continue
		}
		if !s.req.Matches(ev) {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Events возвращает канал событий. Он закрывается после Close или обрыва транспорта.
func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

// Err возвращает причину обрыва транспорта.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close останавливает чтение и освобождает ресурсы транспорта.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.interrupt != nil {
			s.closeErr = s.interrupt()
		}
		<-s.done
		if s.release != nil {
			if err := s.release(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
