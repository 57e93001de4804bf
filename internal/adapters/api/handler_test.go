package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	infrahttp "learnhub/internal/infra/http"
	"learnhub/internal/usecase/assistant"
	"learnhub/internal/usecase/community"
	"learnhub/internal/usecase/leaderboard"
	"learnhub/internal/usecase/rewards"
)

const testSecret = "test-secret"

// store — хранилище в памяти, реализующее все порты, нужные HTTP-слою.
type store struct {
	mu       sync.Mutex
	messages []domain.Message
	rewards  []domain.RewardRecord
	profiles map[string]domain.Profile
	rpcCalls []string
	cacheSet map[string]bool
}

func newStore() *store {
	return &store{profiles: map[string]domain.Profile{}, cacheSet: map[string]bool{}}
}

func (s *store) ListChannelMessages(_ context.Context, channelID string, from, to int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inChannel []domain.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ChannelID == channelID {
			inChannel = append(inChannel, s.messages[i])
		}
	}
	if from >= len(inChannel) {
		return nil, nil
	}
	end := to + 1
	if end > len(inChannel) {
		end = len(inChannel)
	}
	return inChannel[from:end], nil
}

func (s *store) GetMessage(_ context.Context, id string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Message{}, domain.ErrNotFound
}

func (s *store) InsertMessage(_ context.Context, in domain.NewMessage) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := domain.Message{ID: in.ID, ChannelID: in.ChannelID, UserID: in.UserID, Content: in.Content, Attachments: in.Attachments, ParentID: in.ParentID, CreatedAt: time.Now()}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *store) ListReplies(context.Context, string) ([]domain.Message, error) { return nil, nil }

func (s *store) ListBookmarked(context.Context, string, int) ([]domain.Message, error) {
	return nil, nil
}

func (s *store) ListActiveChannels(_ context.Context, courseID string) ([]domain.Channel, error) {
	return []domain.Channel{{ID: "c1", CourseID: courseID, Name: "general", IsActive: true}}, nil
}

func (s *store) ToggleReaction(context.Context, string, string, string) (bool, error) { return true, nil }

func (s *store) ToggleBookmark(context.Context, string, string) (bool, error) { return true, nil }

func (s *store) ListProfilesByIDs(_ context.Context, ids []string) ([]domain.Profile, error) {
	var out []domain.Profile
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *store) ListTopRewards(_ context.Context, _ domain.RewardSort, limit int) ([]domain.RewardRecord, error) {
	if len(s.rewards) > limit {
		return s.rewards[:limit], nil
	}
	return s.rewards, nil
}

func (s *store) GetRewards(context.Context, string) (domain.RewardRecord, error) {
	return domain.RewardRecord{}, domain.ErrNotFound
}

func (s *store) ListUserMissions(context.Context, string) ([]domain.UserMission, error) {
	return nil, nil
}

func (s *store) Call(_ context.Context, fn string, _ map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcCalls = append(s.rpcCalls, fn)
	return nil, nil
}

func (s *store) Once(key string, _ time.Duration, fn func() error) error {
	s.mu.Lock()
	if s.cacheSet[key] {
		s.mu.Unlock()
		return nil
	}
	s.cacheSet[key] = true
	s.mu.Unlock()
	return fn()
}

func (s *store) Set(string, []byte, time.Duration) error { return nil }

func (s *store) Get(string) ([]byte, error) { return nil, domain.ErrNotFound }

// silentFeed подтверждает подписку и никогда не присылает событий.
type silentFeed struct{}

type silentSub struct {
	events chan domain.ChangeEvent
	once   sync.Once
}

func (silentFeed) Subscribe(context.Context, domain.SubscribeRequest) (domain.Subscription, error) {
	return &silentSub{events: make(chan domain.ChangeEvent)}, nil
}

func (s *silentSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *silentSub) Err() error { return nil }

func (s *silentSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type emptyCompleter struct{}

func (emptyCompleter) Complete(context.Context, string, string) (string, error) {
	return "", domain.ErrEmptyCompletion
}

func newTestRouter(s *store) http.Handler {
	logger := zerolog.Nop()
	rewardsSvc := rewards.NewService(s, s, s, s)
	h := NewHandler(Deps{
		Community:   community.NewService(s, s, s, rewardsSvc, logger),
		Leaderboard: leaderboard.NewService(s, s),
		Rewards:     rewardsSvc,
		Assistant:   assistant.NewService(emptyCompleter{}, logger),
		Messages:    s,
		Feed:        silentFeed{},
		Logger:      logger,
	})
	r := chi.NewRouter()
	h.Mount(r, testSecret)
	return r
}

func token(t *testing.T, userID string) string {
	t.Helper()
	claims := infrahttp.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return raw
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+token(t, "u1"))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequiresSession(t *testing.T) {
	h := newTestRouter(newStore())
	for _, path := range []string{"/api/v1/rewards", "/api/v1/bookmarks", "/api/v1/leaderboard"} {
		if rec := do(t, h, http.MethodGet, path, "", false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: ожидали 401, получили %d", path, rec.Code)
		}
	}
}

func TestMessagesPagination(t *testing.T) {
	s := newStore()
	for i := 0; i < 55; i++ {
		s.messages = append(s.messages, domain.Message{ID: fmt.Sprintf("m%02d", i), ChannelID: "c1"})
	}
	h := newTestRouter(s)

	var page community.Page
	rec := do(t, h, http.MethodGet, "/api/v1/channels/c1/messages", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d: %s", rec.Code, rec.Body)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Messages) != 50 || !page.HasMore || page.Messages[0].ID != "m54" {
		t.Fatalf("первая страница: %d сообщений, has_more=%v", len(page.Messages), page.HasMore)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/channels/c1/messages?page=1", "", true)
	page = community.Page{}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Messages) != 5 || page.HasMore || page.Page != 1 {
		t.Fatalf("вторая страница: %+v", page)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/channels/c1/messages?page=-1", "", true); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
}

func TestPostMessage(t *testing.T) {
	s := newStore()
	h := newTestRouter(s)

	rec := do(t, h, http.MethodPost, "/api/v1/channels/c1/messages", `{"content":"привет"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d: %s", rec.Code, rec.Body)
	}
	var msg domain.Message
	_ = json.Unmarshal(rec.Body.Bytes(), &msg)
	if msg.UserID != "u1" || msg.Content != "привет" || msg.ChannelID != "c1" {
		t.Fatalf("неожиданное сообщение: %+v", msg)
	}
	if len(s.rpcCalls) != 1 || s.rpcCalls[0] != "award_xp" {
		t.Fatalf("ожидали начисление опыта, получили %v", s.rpcCalls)
	}

	cases := []struct{ name, body string }{
		{"пустое", `{"content":"  "}`},
		{"плохой parent", `{"content":"x","parent_id":"nope"}`},
		{"лишнее поле", `{"content":"x","extra":1}`},
		{"не json", `content`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/api/v1/channels/c1/messages", tc.body, true); rec.Code != http.StatusBadRequest {
				t.Fatalf("ожидали 400, получили %d: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestReactionRequiresEmoji(t *testing.T) {
	h := newTestRouter(newStore())
	if rec := do(t, h, http.MethodPost, "/api/v1/messages/m1/reactions", `{}`, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/messages/m1/reactions", `{"emoji":"🔥"}`, true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"active":true`) {
		t.Fatalf("неожиданный ответ %d: %s", rec.Code, rec.Body)
	}
}

func TestLeaderboard(t *testing.T) {
	s := newStore()
	s.rewards = []domain.RewardRecord{
		{UserID: "t1", WeeklyXP: 900},
		{UserID: "s1", WeeklyXP: 500},
		{UserID: "s2", WeeklyXP: 300},
	}
	s.profiles["t1"] = domain.Profile{ID: "t1", Role: domain.RoleInstructor}
	s.profiles["s1"] = domain.Profile{ID: "s1", Role: domain.RoleStudent}
	s.profiles["s2"] = domain.Profile{ID: "s2", Role: domain.RoleStudent}
	h := newTestRouter(s)

	rec := do(t, h, http.MethodGet, "/api/v1/leaderboard?kind=weekly&limit=5", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d: %s", rec.Code, rec.Body)
	}
	var resp leaderboardResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Entries) != 2 || resp.Entries[0].Profile.ID != "s1" || resp.Entries[0].Rank != 1 || resp.Entries[1].Score != 300 {
		t.Fatalf("неожиданный рейтинг: %+v", resp.Entries)
	}

	for _, q := range []string{"kind=monthly", "limit=0", "limit=500", "limit=abc"} {
		if rec := do(t, h, http.MethodGet, "/api/v1/leaderboard?"+q, "", true); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: ожидали 400, получили %d", q, rec.Code)
		}
	}
}

func TestRewardsAndDailyClaim(t *testing.T) {
	s := newStore()
	h := newTestRouter(s)

	rec := do(t, h, http.MethodGet, "/api/v1/rewards", "", true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_coins":0`) {
		t.Fatalf("ожидали нулевые награды, получили %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/rewards/daily", "", true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"claimed":true`) {
		t.Fatalf("неожиданный ответ %d: %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/rewards/daily", "", true)
	if !strings.Contains(rec.Body.String(), `"claimed":false`) {
		t.Fatalf("повторная отметка: %s", rec.Body)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/missions/m1/complete", "", true); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/missions", "", true)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("ожидали пустой список заданий, получили %s", rec.Body)
	}
}

func TestAssistantFallback(t *testing.T) {
	h := newTestRouter(newStore())
	rec := do(t, h, http.MethodPost, "/api/v1/assistant", `{"message":"что почитать?"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var resp assistantResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Reply != assistant.FallbackReply {
		t.Fatalf("ожидали запасной ответ, получили %q", resp.Reply)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/assistant", `{"message":""}`, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrInvalidArgument), http.StatusBadRequest},
		{domain.ErrEmptyCompletion, http.StatusBadGateway},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: ожидали %d, получили %d", tc.err, tc.want, got)
		}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) liveFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame liveFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("не ожидали ошибку чтения: %v", err)
	}
	return frame
}

func TestLiveFeed(t *testing.T) {
	s := newStore()
	s.messages = append(s.messages, domain.Message{ID: "m1", ChannelID: "c1", Content: "первое", UserID: "u2"})
	srv := httptest.NewServer(newTestRouter(s))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/channels/c1/live?access_token=" + token(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != "snapshot" || len(first.Messages) != 1 || first.Messages[0].ID != "m1" || first.State != "subscribed" {
		t.Fatalf("неожиданный первый снимок: %+v", first)
	}

	send := `{"type":"send","content":"ответ","attachments":[{"url":"https://files.example/notes.pdf","name":"notes.pdf","mime_type":"application/pdf","size":2048}]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(send)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		frame := readFrame(t, conn)
		if len(frame.Messages) == 2 && !frame.Messages[0].Optimistic && frame.Messages[0].Content == "ответ" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("не дождались подтверждённого сообщения: %+v", frame)
		}
	}
	saved, err := s.GetMessage(context.Background(), lastID(s))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(saved.Attachments) != 1 || saved.Attachments[0].Name != "notes.pdf" || saved.Attachments[0].Size != 2048 {
		t.Fatalf("вложение не дошло до хранилища: %+v", saved.Attachments)
	}
	waitRPC(t, s, "award_xp")

	tooMany := liveCommand{Type: commandSend, Content: "много", Attachments: make([]domain.Attachment, 11)}
	if err := conn.WriteJSON(tooMany); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for {
		frame := readFrame(t, conn)
		if frame.Type == "error" {
			if !strings.Contains(frame.Error, "Attachments") {
				t.Fatalf("неожиданная ошибка: %q", frame.Error)
			}
			break
		}
	}

	if err := conn.WriteJSON(liveCommand{Type: "dance"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for {
		frame := readFrame(t, conn)
		if frame.Type == "error" {
			if !strings.Contains(frame.Error, "unknown command") {
				t.Fatalf("неожиданная ошибка: %q", frame.Error)
			}
			break
		}
	}
}

func lastID(s *store) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[len(s.messages)-1].ID
}

func waitRPC(t *testing.T, s *store, fn string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, call := range s.rpcCalls {
			if call == fn {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались вызова %s", fn)
}

func TestLiveRequiresSession(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(newStore()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/channels/c1/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("ожидали отказ без токена")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ожидали 401")
	}
}
