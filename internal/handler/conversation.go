package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chitchat/internal/ledger"
	"github.com/chitchat/internal/membership"
	"github.com/chitchat/internal/middleware"
)

type ConversationHandler struct {
	members *membership.Service
	msgs    *ledger.Service
}

func NewConversationHandler(members *membership.Service, msgs *ledger.Service) *ConversationHandler {
	return &ConversationHandler{members: members, msgs: msgs}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convs, err := h.members.ListForUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, err, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conv, err := h.members.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeAppError(w, err, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type EnsureDirectRequest struct {
	PeerID string `json:"peer_id"`
}

// EnsureDirect открывает (или создаёт) парный чат с другом.
func (h *ConversationHandler) EnsureDirect(w http.ResponseWriter, r *http.Request) {
	var req EnsureDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peer_id required")
		return
	}
	userID := middleware.GetUserID(r.Context())
	conv, err := h.members.EnsureDirect(r.Context(), userID, req.PeerID)
	if err != nil {
		writeAppError(w, err, "failed to open chat")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"member_ids"`
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	conv, err := h.members.CreateGroup(r.Context(), userID, req.Name, req.Description, req.MemberIDs)
	if err != nil {
		writeAppError(w, err, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type AddMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

func (h *ConversationHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req AddMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.members.AddMembers(r.Context(), chi.URLParam(r, "id"), userID, req.MemberIDs); err != nil {
		writeAppError(w, err, "failed to add members")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.members.RemoveMember(r.Context(), chi.URLParam(r, "id"), userID, chi.URLParam(r, "memberId")); err != nil {
		writeAppError(w, err, "failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type UpdateInfoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

func (h *ConversationHandler) UpdateInfo(w http.ResponseWriter, r *http.Request) {
	var req UpdateInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.members.UpdateInfo(r.Context(), chi.URLParam(r, "id"), userID, req.Name, req.Description, req.ImageURL); err != nil {
		writeAppError(w, err, "failed to update group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Clear скрывает всю ленту чата у запросившего. Остальные участники видят
// ленту как прежде.
func (h *ConversationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.msgs.Clear(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeAppError(w, err, "failed to clear chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MarkSeen отмечает чужие сообщения чата прочитанными.
func (h *ConversationHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.msgs.MarkSeen(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeAppError(w, err, "failed to mark seen")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
