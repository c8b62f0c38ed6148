package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chitchat/internal/apperr"
	"github.com/chitchat/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAppError отображает доменные ошибки на HTTP-статусы: валидация — 400,
// права — 403, отсутствие — 404, остальное — 500 с fallback-текстом.
func writeAppError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case apperr.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case apperr.IsPermission(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.Errorf("handler: %s: %v", fallback, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
