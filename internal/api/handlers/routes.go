package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
)

// HealthPath is served without authentication.
const HealthPath = "/health"

// Handlers groups every endpoint group of the API.
type Handlers struct {
	Imports *ImportsHandler
	Schemas *SchemasHandler
	Tags    *TagsHandler
	Jobs    *JobsHandler
}

// Register adds all routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports/preview", h.Imports.Preview)
	mux.HandleFunc("POST /api/imports", h.Imports.Finalize)
	mux.HandleFunc("GET /api/imports", h.Imports.ListImports)
	mux.HandleFunc("GET /api/imports/{id}", h.Imports.GetImport)
	mux.HandleFunc("DELETE /api/imports/{id}", h.Imports.DeleteImport)

	mux.HandleFunc("GET /api/schemas", h.Schemas.ListSchemas)
	mux.HandleFunc("POST /api/schemas", h.Schemas.CreateSchema)
	mux.HandleFunc("POST /api/schemas/validate", h.Schemas.ValidateSchema)
	mux.HandleFunc("GET /api/schemas/{id}", h.Schemas.GetSchema)
	mux.HandleFunc("PUT /api/schemas/{id}", h.Schemas.UpdateSchema)
	mux.HandleFunc("DELETE /api/schemas/{id}", h.Schemas.DeleteSchema)
	mux.HandleFunc("POST /api/schemas/{id}/clone", h.Schemas.CloneSchema)

	mux.HandleFunc("GET /api/tags", h.Tags.ListTags)
	mux.HandleFunc("POST /api/tags", h.Tags.CreateTag)

	mux.HandleFunc("GET /api/jobs", h.Jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.Jobs.GetJob)

	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
}
