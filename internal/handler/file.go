package handler

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/chitchat/internal/blob"
	"github.com/chitchat/internal/config"
)

type FileHandler struct {
	cfg   *config.Config
	store *blob.Store
}

func NewFileHandler(cfg *config.Config) *FileHandler {
	return &FileHandler{cfg: cfg, store: blob.New(cfg.UploadDir, cfg.MaxUploadSize)}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	h.store.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	h.store.Serve(w, r, filename)
}
