package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// SystemInstruction задаёт роль ассистента в каждом запросе.
const SystemInstruction = "You are the LearnHub study assistant. Answer questions about the learner's courses, " +
	"lessons and study habits clearly and briefly. If you are not sure, say so and suggest asking the instructor " +
	"in the course community."

// FallbackReply показывается пользователю вместо ошибки.
const FallbackReply = "Sorry, I couldn't answer that right now. Please try again in a moment."

// Service отвечает на вопросы ученика.
type Service struct {
	completer domain.Completer
	log       zerolog.Logger
}

// NewService создаёт ассистента.
func NewService(completer domain.Completer, logger zerolog.Logger) *Service {
	return &Service{completer: completer, log: logger.With().Str("component", "assistant").Logger()}
}

// Ask возвращает ответ модели или ошибку. Ответ без текста — domain.ErrEmptyCompletion.
func (s *Service) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("пустой вопрос: %w", domain.ErrInvalidArgument)
	}
	text, err := s.completer.Complete(ctx, SystemInstruction, question)
	if err != nil {
		return "", fmt.Errorf("assistant: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyCompletion
	}
	return text, nil
}

// Reply вызывает Ask и подменяет любую ошибку фиксированным ответом.
func (s *Service) Reply(ctx context.Context, question string) string {
	text, err := s.Ask(ctx, question)
	if err != nil {
		metrics.AssistantFallbacks.Inc()
		ev := s.log.Warn()
		if errors.Is(err, domain.ErrEmptyCompletion) {
			ev = s.log.Info()
		}
		ev.Err(err).Msg("assistant: отдаём запасной ответ")
		return FallbackReply
	}
	return text
}
