package handler

import (
	"net/http"

	"github.com/chitchat/internal/scheduler"
)

// InternalHandler — служебные ручки, закрытые middleware.InternalOnly.
type InternalHandler struct {
	sched *scheduler.Service
}

func NewInternalHandler(sched *scheduler.Service) *InternalHandler {
	return &InternalHandler{sched: sched}
}

// Sweep принудительно запускает проход по созревшим отложенным сообщениям
// (обычно их переводит фоновый sweeper по расписанию).
func (h *InternalHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	promoted, err := h.sched.SweepDue(r.Context())
	if err != nil {
		writeAppError(w, err, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"promoted":    len(promoted),
		"message_ids": promoted,
	})
}
