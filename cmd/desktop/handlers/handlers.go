// Package handlers provides the REST handlers of the local desktop
// server. Every response reuses the engine's uniform source-annotated
// shapes.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/facade"
)

// Handler holds the engine reference shared by all routes.
type Handler struct {
	engine *facade.Engine
}

// New creates a Handler for the given engine.
func New(engine *facade.Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes mounts every API route on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Get("/api/library", h.Library)
	r.Get("/api/search", h.Search)
	r.Get("/api/metadata", h.Metadata)
	r.Get("/api/thumbnail", h.Thumbnail)
	r.Post("/api/favorite", h.SetFavorite)
	r.Post("/api/tags", h.SetTags)
	r.Get("/api/sync/status", h.SyncStatus)
	r.Get("/api/sync/queue", h.QueueList)
	r.Post("/api/sync/retry/{id}", h.RetryAction)
	r.Get("/api/diagnostics", h.Diagnostics)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "photonest-desktop",
	})
}

// Library handles GET /api/library.
func (h *Handler) Library(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetLibrary(r.Context()))
}

// Search handles GET /api/search?q=...
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Search(r.Context(), query))
}

// Metadata handles GET /api/metadata?path=...
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "query parameter path is required")
		return
	}
	resp, err := h.engine.GetMetadata(r.Context(), path)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Thumbnail handles GET /api/thumbnail?path=...
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "query parameter path is required")
		return
	}
	data, source, err := h.engine.GetThumbnail(r.Context(), path)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Photonest-Source", string(source))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// SetFavorite handles POST /api/favorite.
func (h *Handler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path     string `json:"path"`
		Favorite bool   `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.SetFavorite(req.Path, req.Favorite))
}

// SetTags handles POST /api/tags.
func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string   `json:"path"`
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.SetTags(req.Path, req.Tags))
}

// SyncStatus handles GET /api/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// QueueList handles GET /api/sync/queue. Dead letters are included so
// the UI can offer manual retry.
func (h *Handler) QueueList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": h.engine.QueueSnapshot(),
		"actions":  h.engine.ListActions(),
	})
}

// RetryAction handles POST /api/sync/retry/{id}.
func (h *Handler) RetryAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.RetryAction(id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retrying", "action_id": id})
}

// Diagnostics handles GET /api/diagnostics.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": h.engine.RecentDiagnostics(0),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound), apperrors.Is(err, apperrors.ErrActionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case apperrors.Is(err, apperrors.ErrInvalid), apperrors.Is(err, apperrors.ErrValidationPermanent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
