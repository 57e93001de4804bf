package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	infrahttp "learnhub/internal/infra/http"
	"learnhub/internal/usecase/feed"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 30 * time.Second
	liveReadLimit  = 16 << 10
)

// liveCommand — сообщение клиента живой ленты.
type liveCommand struct {
	Type        string              `json:"type" validate:"required"`
	Content     string              `json:"content,omitempty" validate:"max=4000"`
	ParentID    *string             `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	Attachments []domain.Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
}

const (
	commandSend     = "send"
	commandLoadMore = "load_more"
	commandRefresh  = "refresh"
)

type liveEntry struct {
	Optimistic bool `json:"optimistic"`
	domain.Message
}

// liveFrame — сообщение сервера живой ленты.
type liveFrame struct {
	Type     string      `json:"type"`
	Messages []liveEntry `json:"messages,omitempty"`
	HasMore  bool        `json:"has_more"`
	State    string      `json:"state,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func snapshotFrame(s *feed.Session) liveFrame {
	entries := s.Snapshot()
	out := make([]liveEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, liveEntry{Optimistic: e.IsOptimistic(), Message: e.Message})
	}
	return liveFrame{Type: "snapshot", Messages: out, HasMore: s.HasMore(), State: s.State().String()}
}

// live держит одну сессию ленты на соединение и отправляет снимок кэша после каждого изменения.
func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	channelID := chi.URLParam(r, "channelID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("api: websocket upgrade не удался")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := h.log.With().Str("channel_id", channelID).Str("user_id", userID).Logger()
	session := feed.NewSession(channelID, h.deps.Messages, h.deps.Feed, log)
	defer session.Close()

	if _, err := session.Load(ctx, 0); err != nil {
		log.Warn().Err(err).Msg("api: загрузка ленты не удалась")
		writeFrame(conn, liveFrame{Type: "error", Error: "failed to load messages"})
		return
	}
	if err := session.Subscribe(ctx); err != nil {
		log.Warn().Err(err).Msg("api: подписка не удалась")
		writeFrame(conn, liveFrame{Type: "error", Error: "failed to subscribe"})
		return
	}

	commands := make(chan liveCommand)
	go readCommands(ctx, cancel, conn, commands, log)
	h.writeLoop(ctx, conn, session, userID, commands, log)
}

func writeFrame(conn *websocket.Conn, frame liveFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(frame)
}

func readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- liveCommand, log zerolog.Logger) {
	defer cancel()
	conn.SetReadLimit(liveReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		var cmd liveCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("api: websocket закрыт")
			}
			return
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, session *feed.Session, userID string, commands <-chan liveCommand, log zerolog.Logger) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	if err := writeFrame(conn, snapshotFrame(session)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case _, ok := <-session.Updates():
			if !ok {
				return
			}
			if err := writeFrame(conn, snapshotFrame(session)); err != nil {
				return
			}
		case cmd := <-commands:
			if err := h.runCommand(ctx, session, userID, cmd); err != nil {
				log.Debug().Err(err).Str("command", cmd.Type).Msg("api: команда живой ленты не выполнена")
				if werr := writeFrame(conn, liveFrame{Type: "error", Error: commandError(err)}); werr != nil {
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) runCommand(ctx context.Context, session *feed.Session, userID string, cmd liveCommand) error {
	if err := h.validate.Struct(cmd); err != nil {
		return invalidFields(err)
	}
	switch cmd.Type {
	case commandSend:
		if _, err := session.Send(ctx, userID, cmd.Content, cmd.ParentID, cmd.Attachments); err != nil {
			return err
		}
		h.deps.Community.RewardMessage(ctx, userID)
		return nil
	case commandLoadMore:
		_, err := session.LoadNext(ctx)
		return err
	case commandRefresh:
		return session.Refresh(ctx)
	default:
		return &badRequest{msg: "unknown command " + cmd.Type}
	}
}

func commandError(err error) string {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return br.msg
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid message"
	default:
		return "command failed"
	}
}
