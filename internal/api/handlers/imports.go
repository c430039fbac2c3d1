package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/archive"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/store"
)

const (
	// multipartOverhead is allowed on top of the file cap for form fields
	// and part headers.
	multipartOverhead = 1 << 20
	maxFinalizeBody   = 64 << 20
)

// ImportService is the part of pipeline.Importer the import endpoints use.
type ImportService interface {
	GetSchema(ctx context.Context, userID, id string) (*domain.CsvSchema, error)
	PreviewTransactions(ctx context.Context, up pipeline.Upload, s *domain.CsvSchema, userID string) (*domain.PreviewResult, error)
	ImportReviewedTransactions(ctx context.Context, req pipeline.FinalizeRequest) (*domain.Import, error)
	ListImports(ctx context.Context, userID string, filter store.ImportFilter) ([]*domain.Import, error)
	GetImport(ctx context.Context, userID, id string) (*domain.Import, error)
	ImportTransactions(ctx context.Context, userID, id string) ([]*domain.Transaction, error)
	DeleteImport(ctx context.Context, userID, id string) error
}

// previewSession remembers server-side facts about a preview until the
// client finalizes it.
type previewSession struct {
	UserID    string
	SchemaID  string
	Filename  string
	SourceURI string
	TotalRows int
}

// ImportsHandler handles the preview, finalize and history endpoints.
type ImportsHandler struct {
	svc           ImportService
	archiver      archive.Archiver
	sessions      *cache.Cache
	maxUploadSize int64
	log           zerolog.Logger
}

// NewImportsHandler creates a new imports handler. archiver may be nil to
// skip raw upload archiving.
func NewImportsHandler(svc ImportService, archiver archive.Archiver, maxUploadSize int64, previewTTL time.Duration, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		svc:           svc,
		archiver:      archiver,
		sessions:      cache.New(previewTTL, 2*previewTTL),
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

type previewResponse struct {
	*domain.PreviewResult
	PreviewToken string `json:"preview_token"`
}

// Preview handles POST /api/imports/preview (multipart: file, schema_id).
func (h *ImportsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, h.log, pipeline.ErrFileTooLarge, "")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	schemaID := r.FormValue("schema_id")
	if schemaID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "schema_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if int64(len(data)) > h.maxUploadSize {
		writeServiceError(w, h.log, pipeline.ErrFileTooLarge, "")
		return
	}

	cs, err := h.svc.GetSchema(ctx, userID, schemaID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load schema")
		return
	}

	up := pipeline.Upload{Filename: header.Filename, Data: data}
	res, err := h.svc.PreviewTransactions(ctx, up, cs, userID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to preview file")
		return
	}

	sess := previewSession{
		UserID:    userID,
		SchemaID:  cs.ID,
		Filename:  header.Filename,
		TotalRows: res.TotalRows,
	}
	if h.archiver != nil {
		uri, err := h.archiver.Archive(ctx, userID, header.Filename, data)
		if err != nil {
			h.log.Warn().Err(err).Str("filename", header.Filename).Msg("Failed to archive upload")
		} else {
			sess.SourceURI = uri
		}
	}

	token := uuid.NewString()
	h.sessions.SetDefault(token, sess)

	middleware.WriteJSON(w, http.StatusOK, previewResponse{PreviewResult: res, PreviewToken: token})
}

type finalizeBody struct {
	AccountID    string                         `json:"account_id"`
	SchemaID     string                         `json:"schema_id"`
	Filename     string                         `json:"filename"`
	PreviewToken string                         `json:"preview_token"`
	TotalRows    int                            `json:"total_rows"`
	Candidates   []*domain.TransactionCandidate `json:"candidates"`
}

// Finalize handles POST /api/imports with the reviewed candidates.
func (h *ImportsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var body finalizeBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFinalizeBody)).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.AccountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	req := pipeline.FinalizeRequest{
		UserID:     userID,
		AccountID:  body.AccountID,
		SchemaID:   body.SchemaID,
		Filename:   body.Filename,
		TotalRows:  body.TotalRows,
		Candidates: body.Candidates,
	}
	if body.PreviewToken != "" {
		v, found := h.sessions.Get(body.PreviewToken)
		sess, _ := v.(previewSession)
		if !found || sess.UserID != userID {
			middleware.WriteError(w, http.StatusBadRequest, "Preview expired or unknown, upload the file again")
			return
		}
		req.SchemaID = sess.SchemaID
		req.Filename = sess.Filename
		req.SourceURI = sess.SourceURI
		req.TotalRows = sess.TotalRows
	}
	if req.Filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}

	imp, err := h.svc.ImportReviewedTransactions(ctx, req)
	if errors.Is(err, pipeline.ErrImportFailed) && imp != nil {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "Import failed",
			"import": imp,
		})
		return
	}
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to import transactions")
		return
	}
	if body.PreviewToken != "" {
		h.sessions.Delete(body.PreviewToken)
	}

	middleware.WriteJSON(w, http.StatusCreated, imp)
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := store.ImportFilter{Status: domain.ImportStatus(query.Get("status"))}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	imports, err := h.svc.ListImports(r.Context(), userID, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list imports")
		return
	}
	if imports == nil {
		imports = []*domain.Import{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": imports,
		"count":   len(imports),
	})
}

type importDetail struct {
	*domain.Import
	Stats        domain.ImportStats    `json:"stats"`
	Transactions []*domain.Transaction `json:"transactions"`
}

// GetImport handles GET /api/imports/{id}
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	imp, err := h.svc.GetImport(ctx, userID, id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get import")
		return
	}
	txs, err := h.svc.ImportTransactions(ctx, userID, id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list import transactions")
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, importDetail{Import: imp, Stats: imp.Stats(), Transactions: txs})
}

// DeleteImport handles DELETE /api/imports/{id}
func (h *ImportsHandler) DeleteImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteImport(r.Context(), userID, r.PathValue("id")); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete import")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return userID, ok
}
