package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"learnhub/internal/domain"
	infrahttp "learnhub/internal/infra/http"
	"learnhub/internal/usecase/community"
)

type postMessageRequest struct {
	Content     string              `json:"content" validate:"max=4000"`
	ParentID    *string             `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	Attachments []domain.Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=64"`
}

type toggleResponse struct {
	Active bool `json:"active"`
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.deps.Community.ListChannels(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, channels)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.deps.Community.FetchPage(r.Context(), chi.URLParam(r, "channelID"), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req postMessageRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := h.deps.Community.Post(r.Context(), userID, community.PostInput{
		ChannelID:   chi.URLParam(r, "channelID"),
		Content:     req.Content,
		ParentID:    req.ParentID,
		Attachments: req.Attachments,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) listReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := h.deps.Community.ListReplies(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, replies)
}

func (h *Handler) toggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reactionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	added, err := h.deps.Community.ToggleReaction(r.Context(), userID, chi.URLParam(r, "messageID"), req.Emoji)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, toggleResponse{Active: added})
}

func (h *Handler) toggleBookmark(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	added, err := h.deps.Community.ToggleBookmark(r.Context(), userID, chi.URLParam(r, "messageID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, toggleResponse{Active: added})
}

func (h *Handler) listBookmarks(w http.ResponseWriter, r *http.Request) {
	userID, err := infrahttp.UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msgs, err := h.deps.Community.ListBookmarked(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, msgs)
}
