package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"learnhub/internal/domain"
)

// Publisher публикует события в транспорт подписчиков.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Relay пересылает события из src в dst до отмены ctx или обрыва подписки.
// Ошибка публикации одного события не останавливает пересылку.
func Relay(ctx context.Context, src domain.ChangeFeed, req domain.SubscribeRequest, dst Publisher, logger zerolog.Logger) error {
	sub, err := src.Subscribe(ctx, req)
	if err != nil {
		return fmt.Errorf("подписка источника: %w", err)
	}
	defer sub.Close()

	log := logger.With().Str("component", "relay").Str("table", req.Table).Logger()
	log.Info().Msg("relay: пересылка запущена")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("источник оборвался: %w", err)
				}
				return nil
			}
			if err := dst.Publish(ctx, ev); err != nil {
				log.Warn().Err(err).Str("id", ev.RowID).Msg("relay: не удалось переслать событие")
			}
		}
	}
}
