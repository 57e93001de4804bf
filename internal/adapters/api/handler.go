package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"learnhub/internal/domain"
	infrahttp "learnhub/internal/infra/http"
	"learnhub/internal/usecase/assistant"
	"learnhub/internal/usecase/community"
	"learnhub/internal/usecase/leaderboard"
	"learnhub/internal/usecase/rewards"
)

const (
	maxBodyBytes     = 64 << 10
	maxLeaderboard   = 100
	defaultBoardSize = 20
)

// Deps — зависимости HTTP-слоя.
type Deps struct {
	Community   *community.Service
	Leaderboard *leaderboard.Service
	Rewards     *rewards.Service
	Assistant   *assistant.Service
	// Messages и Feed нужны живой ленте: каждое websocket-соединение владеет своей сессией.
	Messages     domain.MessageRepo
	Feed         domain.ChangeFeed
	DefaultLimit int
	Logger       zerolog.Logger
}

// Handler обслуживает REST и websocket маршруты /api/v1.
type Handler struct {
	deps     Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(deps Deps) *Handler {
	if deps.DefaultLimit <= 0 {
		deps.DefaultLimit = defaultBoardSize
	}
	return &Handler{
		deps:     deps,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: deps.Logger.With().Str("component", "api").Logger(),
	}
}

// Mount регистрирует маршруты. Все они требуют сессионный токен.
func (h *Handler) Mount(r chi.Router, jwtSecret string) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(infrahttp.SessionAuth(jwtSecret))

		r.Get("/courses/{courseID}/channels", h.listChannels)
		r.Get("/channels/{channelID}/messages", h.listMessages)
		r.Post("/channels/{channelID}/messages", h.postMessage)
		r.Get("/channels/{channelID}/live", h.live)
		r.Get("/messages/{messageID}/replies", h.listReplies)
		r.Post("/messages/{messageID}/reactions", h.toggleReaction)
		r.Post("/messages/{messageID}/bookmark", h.toggleBookmark)
		r.Get("/bookmarks", h.listBookmarks)

		r.Get("/leaderboard", h.getLeaderboard)
		r.Get("/rewards", h.getRewards)
		r.Post("/rewards/daily", h.claimDaily)
		r.Get("/missions", h.listMissions)
		r.Post("/missions/{missionID}/complete", h.completeMission)

		r.Post("/assistant", h.askAssistant)
	})
}

// statusFor сопоставляет доменные ошибки HTTP-статусам.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmptyCompletion):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var errInternal = errors.New("internal error")

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("request_id", infrahttp.RequestID(r)).Str("path", r.URL.Path).Msg("api: ошибка запроса")
		infrahttp.WriteError(w, status, errInternal)
		return
	}
	infrahttp.WriteError(w, status, err)
}

// decode читает JSON-тело и проверяет его тегами validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequest{msg: "invalid JSON body"}
	}
	if err := h.validate.Struct(dst); err != nil {
		return invalidFields(err)
	}
	return nil
}

// invalidFields превращает ошибку валидатора в ответ 400 с первым неверным полем.
func invalidFields(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &badRequest{msg: "invalid field " + verrs[0].Field() + ": " + verrs[0].Tag()}
	}
	return &badRequest{msg: err.Error()}
}

type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func (e *badRequest) Unwrap() error { return domain.ErrInvalidArgument }

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &badRequest{msg: "invalid " + name}
	}
	return v, nil
}
