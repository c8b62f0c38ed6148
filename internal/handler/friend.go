package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chitchat/internal/membership"
	"github.com/chitchat/internal/middleware"
	"github.com/chitchat/internal/presence"
)

type FriendHandler struct {
	members *membership.Service
	tracker *presence.Tracker
}

func NewFriendHandler(members *membership.Service, tracker *presence.Tracker) *FriendHandler {
	return &FriendHandler{members: members, tracker: tracker}
}

// ListFriends возвращает друзей со сводкой парного чата и статусом присутствия.
func (h *FriendHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friends, err := h.members.ListFriends(r.Context(), userID, h.tracker.Online)
	if err != nil {
		writeAppError(w, err, "failed to list friends")
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

// ListRequests возвращает входящие pending-заявки.
func (h *FriendHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	reqs, err := h.members.IncomingRequests(r.Context(), userID)
	if err != nil {
		writeAppError(w, err, "failed to list friend requests")
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

type SendRequestBody struct {
	Username string `json:"username"`
}

// SendRequest создаёт заявку в друзья по имени пользователя.
func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var body SendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	userID := middleware.GetUserID(r.Context())
	req, err := h.members.SendFriendRequest(r.Context(), userID, body.Username)
	if err != nil {
		writeAppError(w, err, "failed to send friend request")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.members.AcceptFriendRequest(r.Context(), chi.URLParam(r, "requestId"), userID); err != nil {
		writeAppError(w, err, "failed to accept friend request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FriendHandler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.members.DeclineFriendRequest(r.Context(), chi.URLParam(r, "requestId"), userID); err != nil {
		writeAppError(w, err, "failed to decline friend request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
