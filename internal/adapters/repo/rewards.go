package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

const rewardColumns = `user_id::text, total_coins, total_xp, weekly_xp, current_streak, longest_streak, level, updated_at`

func scanReward(row scanner) (domain.RewardRecord, error) {
	var r domain.RewardRecord
	err := row.Scan(&r.UserID, &r.TotalCoins, &r.TotalXP, &r.WeeklyXP, &r.CurrentStreak, &r.LongestStreak, &r.Level, &r.UpdatedAt)
	return r, err
}

// ListTopRewards возвращает записи наград по убыванию выбранного атрибута.
func (p *Postgres) ListTopRewards(ctx context.Context, sortBy domain.RewardSort, limit int) ([]domain.RewardRecord, error) {
	var orderBy string
	switch sortBy {
	case domain.SortWeeklyXP:
		orderBy = "weekly_xp"
	case domain.SortTotalCoins:
		orderBy = "total_coins"
	default:
		return nil, fmt.Errorf("сортировка %q: %w", sortBy, domain.ErrInvalidArgument)
	}
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+rewardColumns+`
FROM user_rewards
ORDER BY `+orderBy+` DESC, user_id
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "rewards_list_top", "user_rewards", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RewardRecord
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRewards возвращает награды пользователя или domain.ErrNotFound.
func (p *Postgres) GetRewards(ctx context.Context, userID string) (domain.RewardRecord, error) {
	if !isUUID(userID) {
		return domain.RewardRecord{}, domain.ErrNotFound
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	r, err := scanReward(p.pool.QueryRow(ctx, `SELECT `+rewardColumns+` FROM user_rewards WHERE user_id = $1::uuid`, userID))
	metrics.ObserveNetworkRequest("postgres", "rewards_get", "user_rewards", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RewardRecord{}, domain.ErrNotFound
	}
	return r, err
}

// ListUserMissions возвращает активные задания с прогрессом пользователя.
func (p *Postgres) ListUserMissions(ctx context.Context, userID string) ([]domain.UserMission, error) {
	if err := requireUUID(userID); err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT m.id::text, m.title, COALESCE(m.description, ''), m.kind, m.target, m.reward_coins, m.reward_xp,
       COALESCE(um.progress, 0), um.completed_at, um.claimed_at
FROM missions m
LEFT JOIN user_missions um ON um.mission_id = m.id AND um.user_id = $1::uuid
WHERE m.is_active
ORDER BY m.title
`, userID)
	metrics.ObserveNetworkRequest("postgres", "missions_list_user", "missions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.UserMission
	for rows.Next() {
		var um domain.UserMission
		if err := rows.Scan(&um.Mission.ID, &um.Mission.Title, &um.Mission.Description, &um.Mission.Kind,
			&um.Mission.Target, &um.Mission.RewardCoins, &um.Mission.RewardXP,
			&um.Progress, &um.CompletedAt, &um.ClaimedAt); err != nil {
			return nil, err
		}
		out = append(out, um)
	}
	return out, rows.Err()
}
