package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnhub/internal/domain"
)

const (
	fnAwardXP          = "award_xp"
	fnClaimDailyStreak = "claim_daily_streak"
	fnCompleteMission  = "complete_mission"

	// dailyClaimTTL перекрывает UTC-сутки с запасом.
	dailyClaimTTL = 25 * time.Hour
)

// ClaimResult описывает итог ежедневной отметки.
type ClaimResult struct {
	Claimed bool                `json:"claimed"`
	Rewards domain.RewardRecord `json:"rewards"`
}

// Service даёт доступ к наградам и заданиям пользователя.
type Service struct {
	rewards  domain.RewardRepo
	missions domain.MissionRepo
	rpc      domain.RPC
	cache    domain.Cache
	now      func() time.Time
}

// NewService создаёт сервис наград.
func NewService(rewards domain.RewardRepo, missions domain.MissionRepo, rpc domain.RPC, cache domain.Cache) *Service {
	return &Service{rewards: rewards, missions: missions, rpc: rpc, cache: cache, now: time.Now}
}

// GetRewards возвращает награды пользователя; для нового ученика — нулевую запись.
func (s *Service) GetRewards(ctx context.Context, userID string) (domain.RewardRecord, error) {
	if userID == "" {
		return domain.RewardRecord{}, domain.ErrUnauthenticated
	}
	rec, err := s.rewards.GetRewards(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.RewardRecord{UserID: userID}, nil
	}
	if err != nil {
		return domain.RewardRecord{}, fmt.Errorf("получение наград: %w", err)
	}
	return rec, nil
}

// AwardXP начисляет опыт через серверную функцию.
func (s *Service) AwardXP(ctx context.Context, userID string, amount int, reason string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if amount <= 0 {
		return fmt.Errorf("количество опыта %d: %w", amount, domain.ErrInvalidArgument)
	}
	_, err := s.rpc.Call(ctx, fnAwardXP, map[string]any{
		"p_user_id": userID,
		"p_amount":  amount,
		"p_reason":  strings.TrimSpace(reason),
	})
	if err != nil {
		return fmt.Errorf("начисление опыта: %w", err)
	}
	return nil
}

// ClaimDailyStreak отмечает ежедневный визит не чаще раза в UTC-сутки.
func (s *Service) ClaimDailyStreak(ctx context.Context, userID string) (ClaimResult, error) {
	if userID == "" {
		return ClaimResult{}, domain.ErrUnauthenticated
	}
	key := fmt.Sprintf("streak:%s:%s", userID, s.now().UTC().Format("2006-01-02"))
	claimed := false
	err := s.cache.Once(key, dailyClaimTTL, func() error {
		if _, err := s.rpc.Call(ctx, fnClaimDailyStreak, map[string]any{"p_user_id": userID}); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("ежедневная отметка: %w", err)
	}
	rec, err := s.GetRewards(ctx, userID)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Claimed: claimed, Rewards: rec}, nil
}

// ListMissions возвращает активные задания с прогрессом пользователя.
func (s *Service) ListMissions(ctx context.Context, userID string) ([]domain.UserMission, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	missions, err := s.missions.ListUserMissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение заданий: %w", err)
	}
	if missions == nil {
		missions = []domain.UserMission{}
	}
	return missions, nil
}

// CompleteMission отмечает задание выполненным.
func (s *Service) CompleteMission(ctx context.Context, userID, missionID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if missionID == "" {
		return fmt.Errorf("пустой идентификатор задания: %w", domain.ErrInvalidArgument)
	}
	_, err := s.rpc.Call(ctx, fnCompleteMission, map[string]any{
		"p_user_id":    userID,
		"p_mission_id": missionID,
	})
	if err != nil {
		return fmt.Errorf("выполнение задания: %w", err)
	}
	return nil
}
