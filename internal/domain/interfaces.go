package domain

import (
	"context"
	"time"
)

// MessageRepo читает и пишет сообщения сообщества.
type MessageRepo interface {
	// ListChannelMessages возвращает сообщения канала в диапазоне [from, to] по убыванию created_at.
	ListChannelMessages(ctx context.Context, channelID string, from, to int) ([]Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	InsertMessage(ctx context.Context, msg NewMessage) (Message, error)
	ListReplies(ctx context.Context, parentID string) ([]Message, error)
	ListBookmarked(ctx context.Context, userID string, limit int) ([]Message, error)
}

// ChannelRepo возвращает каналы курсов.
type ChannelRepo interface {
	ListActiveChannels(ctx context.Context, courseID string) ([]Channel, error)
}

// EngagementRepo переключает реакции и закладки.
type EngagementRepo interface {
	// ToggleReaction возвращает true, если реакция добавлена, и false, если снята.
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ToggleBookmark(ctx context.Context, messageID, userID string) (bool, error)
}

// ProfileRepo возвращает профили пользователей.
type ProfileRepo interface {
	ListProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error)
}

// RewardRepo читает агрегаты наград.
type RewardRepo interface {
	ListTopRewards(ctx context.Context, sortBy RewardSort, limit int) ([]RewardRecord, error)
	GetRewards(ctx context.Context, userID string) (RewardRecord, error)
}

// MissionRepo читает задания и прогресс.
type MissionRepo interface {
	ListUserMissions(ctx context.Context, userID string) ([]UserMission, error)
}

// RPC вызывает серверные функции с именованными аргументами.
type RPC interface {
	Call(ctx context.Context, fn string, args map[string]any) ([]map[string]any, error)
}

// Subscription — активная подписка на изменения. Канал событий закрывается после Close
// или при обрыве транспорта; причина обрыва доступна через Err.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// ChangeFeed открывает push-подписки. Subscribe возвращается только после подтверждения транспортом.
type ChangeFeed interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
}

// Completer выполняет запрос к модели: системная инструкция плюс одно сообщение пользователя.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
