package handlers

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vlogmedia/vlog/internal/storage"
)

// StreamHandler serves transcoded HLS/CMAF files with the cache and
// content-type headers players expect.
type StreamHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(store *storage.Store, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{store: store, logger: logger}
}

// Routes registers the streaming route.
func (h *StreamHandler) Routes(r chi.Router) {
	r.Get("/videos/{slug}/*", h.Serve)
}

// Serve streams one file from a video's output directory. Playlists are
// never cached; segments are immutable and cached for a year.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Healthy(); err != nil {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "storage unavailable", Error: "storage_unavailable"})
		return
	}

	slug := chi.URLParam(r, "slug")
	rel := chi.URLParam(r, "*")

	full, err := h.store.ServePath(slug, rel)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "not found", Error: "not_found"})
		return
	}

	setStreamHeaders(w, path.Base(rel))
	http.ServeFile(w, r, full)
}

// setStreamHeaders applies per-extension content type and cache policy.
func setStreamHeaders(w http.ResponseWriter, name string) {
	h := w.Header()
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		h.Set("Content-Type", "application/vnd.apple.mpegurl")
		h.Set("Cache-Control", "no-cache")
	case strings.HasSuffix(name, ".ts"):
		h.Set("Content-Type", "video/mp2t")
		h.Set("Cache-Control", "public, max-age=31536000")
	case strings.HasSuffix(name, ".m4s"):
		h.Set("Content-Type", "video/iso.segment")
		h.Set("Cache-Control", "public, max-age=31536000")
	case strings.HasSuffix(name, ".mp4"):
		h.Set("Content-Type", "video/mp4")
		h.Set("Cache-Control", "public, max-age=31536000")
	case name == "thumbnail.jpg":
		h.Set("Content-Type", "image/jpeg")
		h.Set("Cache-Control", "max-age=60, must-revalidate")
	}
}
