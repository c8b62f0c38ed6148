package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chitchat/internal/ledger"
	"github.com/chitchat/internal/middleware"
	"github.com/chitchat/internal/model"
	"github.com/chitchat/internal/scheduler"
)

type MessageHandler struct {
	msgs  *ledger.Service
	sched *scheduler.Service
}

func NewMessageHandler(msgs *ledger.Service, sched *scheduler.Service) *MessageHandler {
	return &MessageHandler{msgs: msgs, sched: sched}
}

// List возвращает ленту чата для запросившего (скрытые им сообщения отфильтрованы).
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	msgs, err := h.msgs.List(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeAppError(w, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type SendMessageRequest struct {
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
}

// Send добавляет сообщение через REST (альтернатива WebSocket-команде).
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	// Нормализация имени файла: "+" часто приходит вместо пробела (URL-кодирование).
	fileName := strings.TrimSpace(strings.ReplaceAll(req.FileName, "+", " "))
	msg, err := h.msgs.Append(r.Context(), chi.URLParam(r, "id"), userID, ledger.Input{
		Text:        req.Text,
		ContentType: model.ContentType(req.ContentType),
		FileURL:     req.FileURL,
		FileName:    fileName,
	})
	if err != nil {
		writeAppError(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HideForMe скрывает сообщение только у запросившего.
func (h *MessageHandler) HideForMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.msgs.HideForMe(r.Context(), chi.URLParam(r, "messageId"), userID); err != nil {
		writeAppError(w, err, "failed to hide message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type HideForMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

// HideForMembers скрывает сообщение у перечисленных участников чата.
func (h *MessageHandler) HideForMembers(w http.ResponseWriter, r *http.Request) {
	var req HideForMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.msgs.HideForMembers(r.Context(), chi.URLParam(r, "messageId"), userID, req.MemberIDs); err != nil {
		writeAppError(w, err, "failed to hide message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteForEveryone заменяет сообщение надгробием у всех участников.
func (h *MessageHandler) DeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.msgs.DeleteForEveryone(r.Context(), chi.URLParam(r, "messageId"), userID); err != nil {
		writeAppError(w, err, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ScheduleMessageRequest struct {
	Text          string `json:"text"`
	ScheduledTime string `json:"scheduled_time"`
}

// Schedule создаёт отложенное сообщение чата.
func (h *MessageHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	at, err := scheduler.ParseScheduleTime(req.ScheduledTime)
	if err != nil {
		writeAppError(w, err, "invalid schedule time")
		return
	}
	userID := middleware.GetUserID(r.Context())
	sm, err := h.sched.Schedule(r.Context(), chi.URLParam(r, "id"), userID, req.Text, at)
	if err != nil {
		writeAppError(w, err, "failed to schedule message")
		return
	}
	writeJSON(w, http.StatusCreated, sm)
}

// ListScheduled возвращает отложенные сообщения чата.
func (h *MessageHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	items, err := h.sched.ListConversation(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeAppError(w, err, "failed to list scheduled messages")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CancelScheduled отменяет отложенное сообщение до созревания.
func (h *MessageHandler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.sched.Cancel(r.Context(), chi.URLParam(r, "scheduledId"), userID); err != nil {
		writeAppError(w, err, "failed to cancel scheduled message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
