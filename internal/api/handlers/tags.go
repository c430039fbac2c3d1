package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/domain"
)

// TagService manages user tags.
type TagService interface {
	CreateTag(ctx context.Context, userID, name string) (*domain.Tag, error)
	ListTags(ctx context.Context, userID string) ([]*domain.Tag, error)
}

// TagsHandler handles tag endpoints.
type TagsHandler struct {
	svc TagService
	log zerolog.Logger
}

// NewTagsHandler creates a new tags handler.
func NewTagsHandler(svc TagService, log zerolog.Logger) *TagsHandler {
	return &TagsHandler{svc: svc, log: log}
}

// ListTags handles GET /api/tags
func (h *TagsHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	tags, err := h.svc.ListTags(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list tags")
		return
	}
	if tags == nil {
		tags = []*domain.Tag{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tags":  tags,
		"count": len(tags),
	})
}

// CreateTag handles POST /api/tags
func (h *TagsHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSchemaBody)).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tag, err := h.svc.CreateTag(r.Context(), userID, body.Name)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create tag")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tag)
}
