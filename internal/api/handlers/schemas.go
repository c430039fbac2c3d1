package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/pipeline"
)

const maxSchemaBody = 64 << 10

// SchemaService manages column mappings.
type SchemaService interface {
	CreateSchema(ctx context.Context, cs *domain.CsvSchema) error
	UpdateSchema(ctx context.Context, cs *domain.CsvSchema) error
	GetSchema(ctx context.Context, userID, id string) (*domain.CsvSchema, error)
	ListSchemas(ctx context.Context, userID string) ([]*domain.CsvSchema, error)
	CloneSchema(ctx context.Context, userID, id, name string) (*domain.CsvSchema, error)
	DeleteSchema(ctx context.Context, userID, id string) error
}

// SchemasHandler handles schema endpoints.
type SchemasHandler struct {
	svc SchemaService
	log zerolog.Logger
}

// NewSchemasHandler creates a new schemas handler.
func NewSchemasHandler(svc SchemaService, log zerolog.Logger) *SchemasHandler {
	return &SchemasHandler{svc: svc, log: log}
}

// ListSchemas handles GET /api/schemas
func (h *SchemasHandler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListSchemas(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list schemas")
		return
	}
	if list == nil {
		list = []*domain.CsvSchema{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"schemas": list,
		"count":   len(list),
	})
}

// GetSchema handles GET /api/schemas/{id}
func (h *SchemasHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cs, err := h.svc.GetSchema(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get schema")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cs)
}

// CreateSchema handles POST /api/schemas
func (h *SchemasHandler) CreateSchema(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cs, ok := decodeSchema(w, r)
	if !ok {
		return
	}
	cs.UserID = userID

	if err := h.svc.CreateSchema(r.Context(), cs); err != nil {
		writeServiceError(w, h.log, err, "Failed to create schema")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, cs)
}

// UpdateSchema handles PUT /api/schemas/{id}
func (h *SchemasHandler) UpdateSchema(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cs, ok := decodeSchema(w, r)
	if !ok {
		return
	}
	cs.ID = r.PathValue("id")
	cs.UserID = userID

	if err := h.svc.UpdateSchema(r.Context(), cs); err != nil {
		writeServiceError(w, h.log, err, "Failed to update schema")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cs)
}

// DeleteSchema handles DELETE /api/schemas/{id}
func (h *SchemasHandler) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSchema(r.Context(), userID, r.PathValue("id")); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete schema")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloneSchema handles POST /api/schemas/{id}/clone with an optional
// {"name": ...} body.
func (h *SchemasHandler) CloneSchema(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSchemaBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	clone, err := h.svc.CloneSchema(r.Context(), userID, r.PathValue("id"), body.Name)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to clone schema")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, clone)
}

// ValidateSchema handles POST /api/schemas/validate. Nothing is stored.
func (h *SchemasHandler) ValidateSchema(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	cs, ok := decodeSchema(w, r)
	if !ok {
		return
	}
	if err := pipeline.ValidateSchema(cs); err != nil {
		writeServiceError(w, h.log, err, "Failed to validate schema")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func decodeSchema(w http.ResponseWriter, r *http.Request) (*domain.CsvSchema, bool) {
	var cs domain.CsvSchema
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSchemaBody)).Decode(&cs); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	return &cs, true
}
