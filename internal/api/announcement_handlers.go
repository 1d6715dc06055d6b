package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/models"
)

type AnnouncementHandlers struct {
	repo   models.AnnouncementRepository
	logger *slog.Logger
}

func NewAnnouncementHandlers(repo models.AnnouncementRepository, logger *slog.Logger) *AnnouncementHandlers {
	return &AnnouncementHandlers{
		repo:   repo,
		logger: logger,
	}
}

// List returns all announcements, newest first
// GET /api/announcements
func (h *AnnouncementHandlers) List(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	announcements, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list announcements", "error", err)
		http.Error(w, "Failed to list announcements", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"announcements": announcements,
		"count":         len(announcements),
	})
}

// GetByID returns a single announcement
// GET /api/announcements/:id
func (h *AnnouncementHandlers) GetByID(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/announcements/")

	announcement, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get announcement", "id", id, "error", err)
		http.Error(w, "Failed to get announcement", http.StatusInternalServerError)
		return
	}
	if announcement == nil {
		http.Error(w, "Announcement not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(announcement)
}

// Create adds a new announcement
// POST /api/announcements
// Body: {"title": "...", "body": "..."}
func (h *AnnouncementHandlers) Create(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	var announcement models.Announcement
	if err := json.NewDecoder(r.Body).Decode(&announcement); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if announcement.Title == "" || announcement.Body == "" {
		http.Error(w, "title and body are required", http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), &announcement); err != nil {
		h.logger.Error("failed to create announcement", "error", err)
		http.Error(w, "Failed to create announcement", http.StatusInternalServerError)
		return
	}

	h.logger.Info("created announcement", "id", announcement.ID, "title", announcement.Title)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(announcement)
}

// Update modifies an existing announcement, identified by the id in the body
// PUT /api/announcements
// Body: {"id": "...", "title": "...", "body": "..."}
func (h *AnnouncementHandlers) Update(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	var updates models.Announcement
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if updates.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	existing, err := h.repo.GetByID(r.Context(), updates.ID)
	if err != nil {
		h.logger.Error("failed to get announcement", "id", updates.ID, "error", err)
		http.Error(w, "Failed to get announcement", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Announcement not found", http.StatusNotFound)
		return
	}

	existing.Title = updates.Title
	existing.Body = updates.Body

	if err := h.repo.Update(r.Context(), existing); err != nil {
		h.logger.Error("failed to update announcement", "id", updates.ID, "error", err)
		http.Error(w, "Failed to update announcement", http.StatusInternalServerError)
		return
	}

	h.logger.Info("updated announcement", "id", existing.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(existing)
}

// Delete removes an announcement
// DELETE /api/announcements/:id
func (h *AnnouncementHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/announcements/")

	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete announcement", "id", id, "error", err)
		http.Error(w, "Failed to delete announcement", http.StatusInternalServerError)
		return
	}

	h.logger.Info("deleted announcement", "id", id)

	w.WriteHeader(http.StatusNoContent)
}
