package domain

import "errors"

var (
	// ErrUnauthenticated возвращается, если нет активной сессии пользователя.
	ErrUnauthenticated = errors.New("нет активной сессии пользователя")
	// ErrNotFound возвращается, если запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrInvalidArgument возвращается при некорректных входных данных.
	ErrInvalidArgument = errors.New("некорректные параметры")
	// ErrEmptyCompletion возвращается, если ответ ассистента не содержит текста.
	ErrEmptyCompletion = errors.New("assistant: completion has no text")
	// ErrSessionClosed возвращается при обращении к закрытой сессии ленты.
	ErrSessionClosed = errors.New("сессия ленты закрыта")
)
