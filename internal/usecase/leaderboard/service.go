package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// overFetchFactor компенсирует фильтрацию по роли: роль известна только после загрузки профилей.
// Если больше двух третей верхних записей принадлежат не студентам, результат короче limit.
const overFetchFactor = 3

// snapshotCache хранит готовые рейтинги.
type snapshotCache interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// Service строит рейтинг студентов.
type Service struct {
	rewards  domain.RewardRepo
	profiles domain.ProfileRepo
	cache    snapshotCache
	ttl      time.Duration
}

// NewService создаёт сервис рейтинга.
func NewService(rewards domain.RewardRepo, profiles domain.ProfileRepo) *Service {
	return &Service{rewards: rewards, profiles: profiles}
}

// WithCache включает кэширование рейтинга на ttl по виду и лимиту. ttl <= 0 отключает кэш.
func (s *Service) WithCache(cache snapshotCache, ttl time.Duration) *Service {
	if ttl > 0 {
		s.cache = cache
		s.ttl = ttl
	}
	return s
}

func cacheKey(kind domain.LeaderboardKind, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%d", kind, limit)
}

// SortFor возвращает атрибут сортировки для вида рейтинга.
func SortFor(kind domain.LeaderboardKind) domain.RewardSort {
	if kind == domain.LeaderboardWeekly {
		return domain.SortWeeklyXP
	}
	return domain.SortTotalCoins
}

func score(sort domain.RewardSort, r domain.RewardRecord) int64 {
	if sort == domain.SortWeeklyXP {
		return r.WeeklyXP
	}
	return r.TotalCoins
}

// GetLeaderboard возвращает до limit студентов с плотными рангами 1..N.
func (s *Service) GetLeaderboard(ctx context.Context, kind domain.LeaderboardKind, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}
	if s.cache != nil {
		if raw, err := s.cache.Get(cacheKey(kind, limit)); err == nil {
			var cached []domain.LeaderboardEntry
			if json.Unmarshal(raw, &cached) == nil && cached != nil {
				return cached, nil
			}
		}
	}

	entries, err := s.build(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(entries); err == nil {
			// ошибка записи в кэш не влияет на ответ
			_ = s.cache.Set(cacheKey(kind, limit), raw, s.ttl)
		}
	}
	return entries, nil
}

func (s *Service) build(ctx context.Context, kind domain.LeaderboardKind, limit int) ([]domain.LeaderboardEntry, error) {
	start := time.Now()
	defer metrics.ObserveLeaderboard(string(kind), start)

	sortBy := SortFor(kind)
	records, err := s.rewards.ListTopRewards(ctx, sortBy, limit*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("загрузка наград: %w", err)
	}
	if len(records) == 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	profiles, err := s.profiles.ListProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("загрузка профилей: %w", err)
	}
	byID := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for _, r := range records {
		if len(entries) == limit {
			break
		}
		p, ok := byID[r.UserID]
		if !ok || p.Role != domain.RoleStudent {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:    len(entries) + 1,
			Reward:  r,
			Profile: p,
			Score:   score(sortBy, r),
		})
	}
	return entries, nil
}
