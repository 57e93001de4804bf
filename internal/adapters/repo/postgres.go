package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.MessageRepo    = (*Postgres)(nil)
	_ domain.ChannelRepo    = (*Postgres)(nil)
	_ domain.EngagementRepo = (*Postgres)(nil)
	_ domain.ProfileRepo    = (*Postgres)(nil)
	_ domain.RewardRepo     = (*Postgres)(nil)
	_ domain.MissionRepo    = (*Postgres)(nil)
	_ domain.RPC            = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// messageColumns выбирает сообщение вместе с автором, реакциями и закладками.
const messageColumns = `
m.id::text, m.channel_id::text, m.user_id::text, m.content, COALESCE(m.attachments, '[]'::jsonb),
m.is_pinned, m.is_announcement, m.parent_id::text, m.created_at, m.updated_at,
p.id::text, p.full_name, p.avatar_url, p.role,
COALESCE((
  SELECT json_agg(json_build_object('id', r.id, 'message_id', r.message_id, 'user_id', r.user_id, 'emoji', r.emoji, 'created_at', r.created_at) ORDER BY r.created_at)
  FROM community_reactions r WHERE r.message_id = m.id
), '[]'::json),
COALESCE((
  SELECT json_agg(json_build_object('id', b.id, 'message_id', b.message_id, 'user_id', b.user_id, 'created_at', b.created_at) ORDER BY b.created_at)
  FROM community_bookmarks b WHERE b.message_id = m.id
), '[]'::json)
`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var (
		msg         domain.Message
		attachments []byte
		reactions   []byte
		bookmarks   []byte
		parentID    sql.NullString
		profileID   sql.NullString
		fullName    sql.NullString
		avatarURL   sql.NullString
		role        sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Content, &attachments,
		&msg.IsPinned, &msg.IsAnnouncement, &parentID, &msg.CreatedAt, &msg.UpdatedAt,
		&profileID, &fullName, &avatarURL, &role,
		&reactions, &bookmarks)
	if err != nil {
		return domain.Message{}, err
	}
	if parentID.Valid {
		id := parentID.String
		msg.ParentID = &id
	}
	if profileID.Valid {
		msg.Author = &domain.Profile{
			ID:        profileID.String,
			FullName:  fullName.String,
			AvatarURL: avatarURL.String,
			Role:      domain.Role(role.String),
		}
	}
	if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
		return domain.Message{}, fmt.Errorf("вложения сообщения %s: %w", msg.ID, err)
	}
	if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
		return domain.Message{}, fmt.Errorf("реакции сообщения %s: %w", msg.ID, err)
	}
	if err := json.Unmarshal(bookmarks, &msg.Bookmarks); err != nil {
		return domain.Message{}, fmt.Errorf("закладки сообщения %s: %w", msg.ID, err)
	}
	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ListChannelMessages реализует domain.MessageRepo. Диапазон [from, to] включительный.
func (p *Postgres) ListChannelMessages(ctx context.Context, channelID string, from, to int) ([]domain.Message, error) {
	if from < 0 || to < from {
		return nil, fmt.Errorf("диапазон %d..%d: %w", from, to, domain.ErrInvalidArgument)
	}
	if err := requireUUID(channelID); err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+`
FROM community_messages m
LEFT JOIN profiles p ON p.id = m.user_id
WHERE m.channel_id = $1::uuid
ORDER BY m.created_at DESC, m.id DESC
OFFSET $2 LIMIT $3
`, channelID, from, to-from+1)
	metrics.ObserveNetworkRequest("postgres", "messages_list_channel", "community_messages", start, err)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// GetMessage возвращает сообщение с присоединёнными данными.
func (p *Postgres) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	if !isUUID(id) {
		return domain.Message{}, domain.ErrNotFound
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	msg, err := scanMessage(p.pool.QueryRow(ctx, `SELECT `+messageColumns+`
FROM community_messages m
LEFT JOIN profiles p ON p.id = m.user_id
WHERE m.id = $1::uuid
`, id))
	metrics.ObserveNetworkRequest("postgres", "messages_get", "community_messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.ErrNotFound
	}
	return msg, err
}

// InsertMessage сохраняет сообщение и возвращает его с присоединёнными данными.
func (p *Postgres) InsertMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	if err := requireUUID(msg.ID, msg.ChannelID, msg.UserID); err != nil {
		return domain.Message{}, err
	}
	if parent := derefString(msg.ParentID); parent != "" {
		if err := requireUUID(parent); err != nil {
			return domain.Message{}, err
		}
	}
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	payload, err := json.Marshal(attachments)
	if err != nil {
		return domain.Message{}, fmt.Errorf("вложения: %w", err)
	}

	insertCtx, cancel := p.connCtx(ctx)
	defer cancel()

	var id string
	start := time.Now()
	err = p.pool.QueryRow(insertCtx, `
INSERT INTO community_messages (id, channel_id, user_id, content, attachments, parent_id)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5::jsonb, NULLIF($6, '')::uuid)
RETURNING id::text
`, msg.ID, msg.ChannelID, msg.UserID, msg.Content, payload, derefString(msg.ParentID)).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "community_messages", start, err)
	if err != nil {
		return domain.Message{}, err
	}
	return p.GetMessage(ctx, id)
}

// ListReplies возвращает ответы в ветке, старые первыми.
func (p *Postgres) ListReplies(ctx context.Context, parentID string) ([]domain.Message, error) {
	if err := requireUUID(parentID); err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+`
FROM community_messages m
LEFT JOIN profiles p ON p.id = m.user_id
WHERE m.parent_id = $1::uuid
ORDER BY m.created_at ASC, m.id ASC
LIMIT 200
`, parentID)
	metrics.ObserveNetworkRequest("postgres", "messages_list_replies", "community_messages", start, err)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListBookmarked возвращает сообщения из закладок пользователя, новые первыми.
func (p *Postgres) ListBookmarked(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = domain.FeedPageSize
	}
	if err := requireUUID(userID); err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+`
FROM community_bookmarks bk
JOIN community_messages m ON m.id = bk.message_id
LEFT JOIN profiles p ON p.id = m.user_id
WHERE bk.user_id = $1::uuid
ORDER BY bk.created_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "bookmarks_list", "community_bookmarks", start, err)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListActiveChannels возвращает активные каналы курса.
func (p *Postgres) ListActiveChannels(ctx context.Context, courseID string) ([]domain.Channel, error) {
	if err := requireUUID(courseID); err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id::text, course_id::text, name, COALESCE(description, ''), is_active, created_at
FROM community_channels
WHERE course_id = $1::uuid AND is_active
ORDER BY name
`, courseID)
	metrics.ObserveNetworkRequest("postgres", "channels_list_active", "community_channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.CourseID, &ch.Name, &ch.Description, &ch.IsActive, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ToggleReaction снимает реакцию, если она была, иначе ставит.
func (p *Postgres) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := requireUUID(messageID, userID); err != nil {
		return false, err
	}
	return p.toggle(ctx, "community_reactions",
		`DELETE FROM community_reactions WHERE message_id = $1::uuid AND user_id = $2::uuid AND emoji = $3`,
		`INSERT INTO community_reactions (message_id, user_id, emoji) VALUES ($1::uuid, $2::uuid, $3)`,
		messageID, userID, emoji)
}

// ToggleBookmark снимает закладку, если она была, иначе ставит.
func (p *Postgres) ToggleBookmark(ctx context.Context, messageID, userID string) (bool, error) {
	if err := requireUUID(messageID, userID); err != nil {
		return false, err
	}
	return p.toggle(ctx, "community_bookmarks",
		`DELETE FROM community_bookmarks WHERE message_id = $1::uuid AND user_id = $2::uuid`,
		`INSERT INTO community_bookmarks (message_id, user_id) VALUES ($1::uuid, $2::uuid)`,
		messageID, userID)
}

func (p *Postgres) toggle(ctx context.Context, table, deleteSQL, insertSQL string, args ...any) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", table, start, err)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, deleteSQL, args...)
	metrics.ObserveNetworkRequest("postgres", table+"_delete", table, start, err)
	if err != nil {
		return false, err
	}
	added := res.RowsAffected() == 0
	if added {
		start = time.Now()
		_, err = tx.Exec(ctx, insertSQL, args...)
		metrics.ObserveNetworkRequest("postgres", table+"_insert", table, start, err)
		if err != nil {
			return false, err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", table, start, err)
	if err != nil {
		return false, err
	}
	return added, nil
}

// ListProfilesByIDs возвращает профили ровно для перечисленных пользователей.
func (p *Postgres) ListProfilesByIDs(ctx context.Context, ids []string) ([]domain.Profile, error) {
	valid := onlyUUIDs(ids)
	if len(valid) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id::text, COALESCE(full_name, ''), COALESCE(avatar_url, ''), COALESCE(role, '')
FROM profiles
WHERE id = ANY($1::text[]::uuid[])
`, valid)
	metrics.ObserveNetworkRequest("postgres", "profiles_list_by_ids", "profiles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []domain.Profile
	for rows.Next() {
		var pr domain.Profile
		var role string
		if err := rows.Scan(&pr.ID, &pr.FullName, &pr.AvatarURL, &role); err != nil {
			return nil, err
		}
		pr.Role = domain.Role(role)
		profiles = append(profiles, pr)
	}
	return profiles, rows.Err()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// isUUID сообщает, можно ли сравнить значение с колонкой uuid.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func requireUUID(ids ...string) error {
	for _, id := range ids {
		if !isUUID(id) {
			return fmt.Errorf("идентификатор %q: %w", id, domain.ErrInvalidArgument)
		}
	}
	return nil
}

// onlyUUIDs отбрасывает значения, которые не могут совпасть ни с одной строкой.
func onlyUUIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			out = append(out, id)
		}
	}
	return out
}
