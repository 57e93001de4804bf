package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"learnhub/internal/domain"
	infrahttp "learnhub/internal/infra/http"
)

type assistantRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

type assistantResponse struct {
	Reply string `json:"reply"`
}

type leaderboardResponse struct {
	Kind    domain.LeaderboardKind    `json:"kind"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	kind := domain.LeaderboardKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.LeaderboardWeekly
	}
	if err := h.validate.Var(string(kind), "oneof=weekly all_time"); err != nil {
		h.fail(w, r, &badRequest{msg: "invalid kind"})
		return
	}
	limit, err := queryInt(r, "limit", h.deps.DefaultLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit == 0 || limit > maxLeaderboard {
		h.fail(w, r, &badRequest{msg: "limit must be between 1 and 100"})
		return
	}
	entries, err := h.deps.Leaderboard.GetLeaderboard(r.Context(), kind, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, leaderboardResponse{Kind: kind, Entries: entries})
}

func (h *Handler) getRewards(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.deps.Rewards.GetRewards(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) claimDaily(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.deps.Rewards.ClaimDailyStreak(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) listMissions(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	missions, err := h.deps.Rewards.ListMissions(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, missions)
}

func (h *Handler) completeMission(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Rewards.CompleteMission(r.Context(), userID, chi.URLParam(r, "missionID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) askAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, assistantResponse{Reply: h.deps.Assistant.Reply(r.Context(), req.Message)})
}
