package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chitchat/internal/middleware"
	"github.com/chitchat/internal/model"
	"github.com/chitchat/internal/presence"
	"github.com/chitchat/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
	tracker  *presence.Tracker
}

func NewUserHandler(userRepo *repository.UserRepository, tracker *presence.Tracker) *UserHandler {
	return &UserHandler{userRepo: userRepo, tracker: tracker}
}

func (h *UserHandler) toPublic(u *model.User) model.UserPublic {
	pub := u.ToPublic()
	pub.IsOnline = h.tracker.Online(u.LastSeenAt)
	return pub
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toPublic(user))
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.userRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toPublic(user))
}

func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	users, err := h.userRepo.SearchByUsername(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	result := make([]model.UserPublic, 0, len(users))
	for i := range users {
		if users[i].ID != currentUserID {
			result = append(result, h.toPublic(&users[i]))
		}
	}
	writeJSON(w, http.StatusOK, result)
}

type UpdateProfileRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	username := user.Username
	if strings.TrimSpace(req.Username) != "" {
		username = model.NormalizeUsername(req.Username)
	}
	avatarURL := user.AvatarURL
	if req.AvatarURL != "" {
		avatarURL = strings.TrimSpace(req.AvatarURL)
	}

	if err := h.userRepo.UpdateProfile(r.Context(), userID, username, avatarURL); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	user.Username = username
	user.AvatarURL = avatarURL
	writeJSON(w, http.StatusOK, h.toPublic(user))
}

// CreateUserRequest — регистрация профиля (вызывается шлюзом после его
// собственной аутентификации).
type CreateUserRequest struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// CreateUser создаёт профиль пользователя. Имя обязательно и нормализуется;
// повтор по занятому имени — 409.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	username := model.NormalizeUsername(req.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	_, err := h.userRepo.GetByUsername(r.Context(), username)
	if err == nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to check username")
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.New().String()
	}
	u := &model.User{
		ID:        id,
		Username:  username,
		AvatarURL: strings.TrimSpace(req.AvatarURL),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.userRepo.Create(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, u.ToPublic())
}
