package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageRunes — предел длины текста сообщения.
	MaxMessageRunes = 4000
	// MaxAttachments — предел вложений в одном сообщении.
	MaxAttachments = 10
)

// Normalize проверяет новое сообщение и возвращает его с обрезанным текстом.
// Одинаково применяется к отправке через REST и через живую ленту.
func (m NewMessage) Normalize() (NewMessage, error) {
	if strings.TrimSpace(m.UserID) == "" {
		return NewMessage{}, ErrUnauthenticated
	}
	if strings.TrimSpace(m.ChannelID) == "" {
		return NewMessage{}, fmt.Errorf("канал не выбран: %w", ErrInvalidArgument)
	}
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" && len(m.Attachments) == 0 {
		return NewMessage{}, fmt.Errorf("пустое сообщение: %w", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(m.Content) > MaxMessageRunes {
		return NewMessage{}, fmt.Errorf("сообщение длиннее %d символов: %w", MaxMessageRunes, ErrInvalidArgument)
	}
	if len(m.Attachments) > MaxAttachments {
		return NewMessage{}, fmt.Errorf("больше %d вложений: %w", MaxAttachments, ErrInvalidArgument)
	}
	if m.ParentID != nil && strings.TrimSpace(*m.ParentID) == "" {
		m.ParentID = nil
	}
	return m, nil
}
