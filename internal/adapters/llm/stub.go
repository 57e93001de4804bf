package llm

import (
	"context"
	"strings"

	"learnhub/internal/domain"
)

// Stub отвечает без обращения к модели. Используется, когда ключ API не задан.
type Stub struct{}

var _ domain.Completer = (*Stub)(nil)

// NewStub создаёт заглушку.
func NewStub() *Stub {
	return &Stub{}
}

// Complete повторяет первую строку вопроса.
func (s *Stub) Complete(_ context.Context, _, user string) (string, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(user), "\n", 2)[0])
	if line == "" {
		return "", domain.ErrEmptyCompletion
	}
	return "Ассистент работает в офлайн-режиме. Ваш вопрос: " + clipRunes(line, 200), nil
}
