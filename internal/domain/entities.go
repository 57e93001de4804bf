package domain

import "time"

// Role описывает роль пользователя в платформе.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Profile содержит публичные данные пользователя.
type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      Role   `json:"role"`
}

// Channel описывает канал сообщества курса.
type Channel struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Attachment описывает вложение сообщения.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction — эмодзи-реакция пользователя на сообщение.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Bookmark — закладка пользователя на сообщение.
type Bookmark struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message представляет сообщение канала вместе с присоединёнными данными автора.
type Message struct {
	ID             string       `json:"id"`
	ChannelID      string       `json:"channel_id"`
	UserID         string       `json:"user_id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	IsPinned       bool         `json:"is_pinned"`
	IsAnnouncement bool         `json:"is_announcement"`
	ParentID       *string      `json:"parent_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	Author    *Profile   `json:"author,omitempty"`
	Reactions []Reaction `json:"reactions"`
	Bookmarks []Bookmark `json:"bookmarks"`
}

// NewMessage содержит данные для вставки сообщения.
type NewMessage struct {
	ID          string
	ChannelID   string
	UserID      string
	Content     string
	Attachments []Attachment
	ParentID    *string
}

// RewardRecord хранит агрегированные награды пользователя.
type RewardRecord struct {
	UserID        string    `json:"user_id"`
	TotalCoins    int64     `json:"total_coins"`
	TotalXP       int64     `json:"total_xp"`
	WeeklyXP      int64     `json:"weekly_xp"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
	Level         int       `json:"level"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LeaderboardKind определяет атрибут сортировки рейтинга.
type LeaderboardKind string

const (
	LeaderboardWeekly  LeaderboardKind = "weekly"
	LeaderboardAllTime LeaderboardKind = "all_time"
)

// RewardSort — колонка, по которой упорядочиваются награды.
type RewardSort string

const (
	SortWeeklyXP   RewardSort = "weekly_xp"
	SortTotalCoins RewardSort = "total_coins"
)

// LeaderboardEntry — вычисляемая позиция рейтинга, не сохраняется.
type LeaderboardEntry struct {
	Rank    int          `json:"rank"`
	Reward  RewardRecord `json:"reward"`
	Profile Profile      `json:"profile"`
	Score   int64        `json:"score"`
}

// Mission описывает задание с наградой.
type Mission struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Target      int    `json:"target"`
	RewardCoins int64  `json:"reward_coins"`
	RewardXP    int64  `json:"reward_xp"`
}

// UserMission объединяет задание и прогресс пользователя.
type UserMission struct {
	Mission     Mission    `json:"mission"`
	Progress    int        `json:"progress"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}

// Completed сообщает, выполнено ли задание.
func (m UserMission) Completed() bool {
	return m.CompletedAt != nil || (m.Mission.Target > 0 && m.Progress >= m.Mission.Target)
}
