package feed

import "learnhub/internal/domain"

// Match — результат сопоставления входящего сообщения с записью кэша.
type Match int

const (
	// MatchNone — разные логические сообщения.
	MatchNone Match = iota
	// MatchSameID — сообщение с таким идентификатором уже в кэше.
	MatchSameID
	// MatchOptimistic — оптимистичная запись с тем же текстом и автором ждёт этого подтверждения.
	MatchOptimistic
)

func (m Match) String() string {
	switch m {
	case MatchSameID:
		return "same_id"
	case MatchOptimistic:
		return "optimistic"
	default:
		return "none"
	}
}

// Reconcile сопоставляет подтверждённое сообщение с записью кэша.
// Оптимистичная запись совпадает только при точном равенстве текста и автора.
func Reconcile(incoming domain.Message, existing domain.FeedEntry) Match {
	if existing.ID() == incoming.ID {
		return MatchSameID
	}
	if existing.IsOptimistic() &&
		existing.Content() == incoming.Content &&
		existing.AuthorID() == incoming.UserID {
		return MatchOptimistic
	}
	return MatchNone
}
