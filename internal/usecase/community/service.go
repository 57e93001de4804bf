package community

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
)

const (
	maxEmojiRunes   = 16
	bookmarksLimit  = 100

	messageXP     = 5
	messageReason = "community_message"
)

// XPAwarder начисляет опыт за активность в сообществе.
type XPAwarder interface {
	AwardXP(ctx context.Context, userID string, amount int, reason string) error
}

// Page — одна страница ленты канала.
type Page struct {
	Messages []domain.Message `json:"messages"`
	Page     int              `json:"page"`
	HasMore  bool             `json:"has_more"`
}

// Service обслуживает запросы к сообществу курса без состояния.
type Service struct {
	channels   domain.ChannelRepo
	messages   domain.MessageRepo
	engagement domain.EngagementRepo
	awarder    XPAwarder
	log        zerolog.Logger
}

// NewService создаёт сервис сообщества. awarder может быть nil.
func NewService(channels domain.ChannelRepo, messages domain.MessageRepo, engagement domain.EngagementRepo, awarder XPAwarder, logger zerolog.Logger) *Service {
	return &Service{
		channels:   channels,
		messages:   messages,
		engagement: engagement,
		awarder:    awarder,
		log:        logger.With().Str("component", "community").Logger(),
	}
}

// ListChannels возвращает активные каналы курса.
func (s *Service) ListChannels(ctx context.Context, courseID string) ([]domain.Channel, error) {
	if courseID == "" {
		return nil, fmt.Errorf("пустой идентификатор курса: %w", domain.ErrInvalidArgument)
	}
	channels, err := s.channels.ListActiveChannels(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("получение каналов: %w", err)
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}

// FetchPage возвращает страницу ленты. Без канала — пустая страница без ошибки.
func (s *Service) FetchPage(ctx context.Context, channelID string, page int) (Page, error) {
	if channelID == "" {
		return Page{Messages: []domain.Message{}, Page: page}, nil
	}
	if page < 0 {
		return Page{}, fmt.Errorf("страница %d: %w", page, domain.ErrInvalidArgument)
	}
	from := page * domain.FeedPageSize
	msgs, err := s.messages.ListChannelMessages(ctx, channelID, from, from+domain.FeedPageSize-1)
	if err != nil {
		return Page{}, fmt.Errorf("загрузка страницы %d: %w", page, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return Page{Messages: msgs, Page: page, HasMore: len(msgs) == domain.FeedPageSize}, nil
}

// PostInput — данные нового сообщения.
type PostInput struct {
	ChannelID   string
	Content     string
	ParentID    *string
	Attachments []domain.Attachment
}

// Post сохраняет сообщение. Опыт за сообщение начисляется без влияния на результат.
func (s *Service) Post(ctx context.Context, userID string, in PostInput) (domain.Message, error) {
	msg, err := domain.NewMessage{
		ID:          uuid.NewString(),
		ChannelID:   in.ChannelID,
		UserID:      userID,
		Content:     in.Content,
		Attachments: in.Attachments,
		ParentID:    in.ParentID,
	}.Normalize()
	if err != nil {
		return domain.Message{}, err
	}
	saved, err := s.messages.InsertMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("сохранение сообщения: %w", err)
	}
	s.RewardMessage(ctx, userID)
	return saved, nil
}

// RewardMessage начисляет опыт за отправленное сообщение; ошибка только логируется.
func (s *Service) RewardMessage(ctx context.Context, userID string) {
	if s.awarder == nil {
		return
	}
	if err := s.awarder.AwardXP(ctx, userID, messageXP, messageReason); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("community: не удалось начислить опыт")
	}
}

// ListReplies возвращает ответы в ветке, старые первыми.
func (s *Service) ListReplies(ctx context.Context, parentID string) ([]domain.Message, error) {
	if parentID == "" {
		return nil, fmt.Errorf("пустой идентификатор сообщения: %w", domain.ErrInvalidArgument)
	}
	replies, err := s.messages.ListReplies(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("получение ответов: %w", err)
	}
	if replies == nil {
		replies = []domain.Message{}
	}
	return replies, nil
}

// ToggleReaction ставит или снимает реакцию. Возвращает true, если реакция поставлена.
func (s *Service) ToggleReaction(ctx context.Context, userID, messageID, emoji string) (bool, error) {
	if userID == "" {
		return false, domain.ErrUnauthenticated
	}
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return false, fmt.Errorf("реакция %q: %w", emoji, domain.ErrInvalidArgument)
	}
	added, err := s.engagement.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("переключение реакции: %w", err)
	}
	return added, nil
}

// ToggleBookmark ставит или снимает закладку. Возвращает true, если закладка поставлена.
func (s *Service) ToggleBookmark(ctx context.Context, userID, messageID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrUnauthenticated
	}
	if messageID == "" {
		return false, fmt.Errorf("пустой идентификатор сообщения: %w", domain.ErrInvalidArgument)
	}
	added, err := s.engagement.ToggleBookmark(ctx, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("переключение закладки: %w", err)
	}
	return added, nil
}

// ListBookmarked возвращает сообщения из закладок пользователя, новые первыми.
func (s *Service) ListBookmarked(ctx context.Context, userID string) ([]domain.Message, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	msgs, err := s.messages.ListBookmarked(ctx, userID, bookmarksLimit)
	if err != nil {
		return nil, fmt.Errorf("получение закладок: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}
