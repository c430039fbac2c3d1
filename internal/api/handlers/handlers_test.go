package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/api/handlers"
	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/jobs"
	"github.com/dvloznov/statement-importer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/store/sqlite"
)

const statement = `Date,Description,Money out,Money in,Balance
15/01/2024,TESCO STORES,25.50,,974.50
16/01/2024,SALARY,,"2,000.00","2,974.50"
`

type fakeArchiver struct {
	archived map[string][]byte
}

func (f *fakeArchiver) Archive(ctx context.Context, userID, filename string, data []byte) (string, error) {
	uri := "gs://raw/" + userID + "/" + filename
	f.archived[uri] = data
	return uri, nil
}

func (f *fakeArchiver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f.archived[uri], nil
}

type testServer struct {
	handler  http.Handler
	jobStore *inmemory.Store
	archiver *fakeArchiver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	log := zerolog.Nop()
	im := pipeline.NewImporter(s)
	ts := &testServer{jobStore: inmemory.NewStore(), archiver: &fakeArchiver{archived: map[string][]byte{}}}

	h := &handlers.Handlers{
		Imports: handlers.NewImportsHandler(im, ts.archiver, 1<<20, time.Minute, log),
		Schemas: handlers.NewSchemasHandler(im, log),
		Tags:    handlers.NewTagsHandler(im, log),
		Jobs:    handlers.NewJobsHandler(ts.jobStore, log),
	}
	mux := http.NewServeMux()
	h.Register(mux)
	ts.handler = middleware.Auth("", handlers.HealthPath)(mux)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) preview(t *testing.T, user, schemaID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("schema_id", schemaID)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports/preview", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.UserIDHeader, user)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

var barclays = map[string]any{
	"name":                   "Barclays",
	"transaction_data_start": 2,
	"date_column":            "A",
	"description_column":     "B",
	"paid_out_column":        "C",
	"paid_in_column":         "D",
	"balance_column":         "E",
}

func (ts *testServer) createSchema(t *testing.T, user string) *domain.CsvSchema {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/schemas", user, barclays)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create schema = %d %s", rec.Code, rec.Body.String())
	}
	return decode[*domain.CsvSchema](t, rec)
}

type previewBody struct {
	domain.PreviewResult
	PreviewToken string `json:"preview_token"`
}

func TestImportFlow(t *testing.T) {
	ts := newTestServer(t)
	cs := ts.createSchema(t, "user-1")

	rec := ts.preview(t, "user-1", cs.ID, "jan.csv", statement)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d %s", rec.Code, rec.Body.String())
	}
	pv := decode[previewBody](t, rec)
	if pv.PreviewToken == "" || pv.ValidCount != 2 || pv.TotalRows != 2 {
		t.Fatalf("preview = %+v", pv)
	}

	rec = ts.do(t, http.MethodPost, "/api/imports", "user-1", map[string]any{
		"account_id":    "acct-1",
		"preview_token": pv.PreviewToken,
		"candidates":    pv.Candidates,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("finalize = %d %s", rec.Code, rec.Body.String())
	}
	imp := decode[domain.Import](t, rec)
	if imp.Status != domain.ImportStatusCompleted || imp.ImportedRows != 2 {
		t.Errorf("import = %+v", imp)
	}
	if imp.SchemaID != cs.ID || imp.Filename != "jan.csv" || imp.SourceURI != "gs://raw/user-1/jan.csv" {
		t.Errorf("session fields not applied: %+v", imp)
	}

	rec = ts.do(t, http.MethodPost, "/api/imports", "user-1", map[string]any{
		"account_id":    "acct-1",
		"preview_token": pv.PreviewToken,
		"candidates":    pv.Candidates,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reused preview token = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/imports/"+imp.ID, "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get import = %d %s", rec.Code, rec.Body.String())
	}
	detail := decode[struct {
		ID           string                `json:"id"`
		Stats        domain.ImportStats    `json:"stats"`
		Transactions []*domain.Transaction `json:"transactions"`
	}](t, rec)
	if detail.ID != imp.ID || len(detail.Transactions) != 2 || detail.Stats.SuccessRate != 100 {
		t.Errorf("detail = %+v", detail)
	}

	if rec := ts.do(t, http.MethodGet, "/api/imports/"+imp.ID, "user-2", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user's import = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/imports?status=completed", "user-1", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 1 {
		t.Errorf("list count = %d", list.Count)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/schemas/"+cs.ID, "user-1", nil); rec.Code != http.StatusConflict {
		t.Errorf("delete schema in use = %d, want 409", rec.Code)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/imports/"+imp.ID, "user-1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete import = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/imports/"+imp.ID, "user-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted import = %d, want 404", rec.Code)
	}
}

func TestPreviewErrors(t *testing.T) {
	ts := newTestServer(t)
	cs := ts.createSchema(t, "user-1")

	tests := []struct {
		name     string
		user     string
		schemaID string
		filename string
		content  string
		want     int
	}{
		{"unsupported extension", "user-1", cs.ID, "statement.pdf", statement, http.StatusBadRequest},
		{"empty file", "user-1", cs.ID, "statement.csv", "", http.StatusBadRequest},
		{"unknown schema", "user-1", "missing", "statement.csv", statement, http.StatusNotFound},
		{"other user's schema", "user-2", cs.ID, "statement.csv", statement, http.StatusNotFound},
		{"missing schema id", "user-1", "", "statement.csv", statement, http.StatusBadRequest},
		{"file over cap", "user-1", cs.ID, "statement.csv", statement + string(bytes.Repeat([]byte("x"), 1<<20)), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.preview(t, tt.user, tt.schemaID, tt.filename, tt.content)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestFinalizeFailedImport(t *testing.T) {
	ts := newTestServer(t)
	cs := ts.createSchema(t, "user-1")

	rec := ts.do(t, http.MethodPost, "/api/imports", "user-1", map[string]any{
		"account_id": "acct-1",
		"schema_id":  cs.ID,
		"filename":   "manual.csv",
		"candidates": []map[string]any{
			{"row_number": 2, "date": "2024-01-15", "paid_out": 100, "status": "approved"},
			{"row_number": 3, "date": "15/01/2024", "paid_out": 200, "status": "approved"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("finalize = %d %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Import domain.Import `json:"import"`
	}](t, rec)
	if body.Import.Status != domain.ImportStatusFailed || body.Import.ErrorMessage == "" {
		t.Errorf("import = %+v", body.Import)
	}

	if rec := ts.do(t, http.MethodPost, "/api/imports", "user-1", map[string]any{"filename": "x.csv"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing account = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/imports", "user-1", map[string]any{"account_id": "a", "preview_token": "nope"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown token = %d, want 400", rec.Code)
	}
}

func TestFinalizeForeignSchema(t *testing.T) {
	ts := newTestServer(t)
	cs := ts.createSchema(t, "user-1")

	for _, schemaID := range []string{cs.ID, "missing"} {
		rec := ts.do(t, http.MethodPost, "/api/imports", "user-2", map[string]any{
			"account_id": "acct-9",
			"schema_id":  schemaID,
			"filename":   "manual.csv",
			"candidates": []map[string]any{
				{"row_number": 2, "date": "2024-01-15", "paid_out": 100, "status": "approved"},
			},
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("finalize with schema %q = %d %s, want 404", schemaID, rec.Code, rec.Body.String())
		}
	}

	if rec := ts.do(t, http.MethodDelete, "/api/schemas/"+cs.ID, "user-1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete own schema = %d %s, want 204", rec.Code, rec.Body.String())
	}
}

func TestSchemaEndpoints(t *testing.T) {
	ts := newTestServer(t)
	cs := ts.createSchema(t, "user-1")

	if rec := ts.do(t, http.MethodPost, "/api/schemas", "user-1", barclays); rec.Code != http.StatusConflict {
		t.Errorf("duplicate name = %d, want 409", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/schemas", "user-1", map[string]any{"name": "Broken", "date_column": "AB"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid schema = %d, want 422", rec.Code)
	}
	invalid := decode[struct {
		Details []map[string]string `json:"details"`
	}](t, rec)
	if len(invalid.Details) == 0 {
		t.Error("no validation details returned")
	}

	if rec := ts.do(t, http.MethodPost, "/api/schemas/validate", "user-1", barclays); rec.Code != http.StatusOK {
		t.Errorf("validate = %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/schemas/"+cs.ID+"/clone", "user-1", map[string]string{"name": "Barclays savings"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("clone = %d %s", rec.Code, rec.Body.String())
	}
	clone := decode[domain.CsvSchema](t, rec)

	update := map[string]any{}
	for k, v := range barclays {
		update[k] = v
	}
	update["name"] = "Barclays savings"
	update["date_format"] = "d/m/Y"
	if rec := ts.do(t, http.MethodPut, "/api/schemas/"+clone.ID, "user-1", update); rec.Code != http.StatusOK {
		t.Errorf("update = %d %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPut, "/api/schemas/"+clone.ID, "user-2", update); rec.Code != http.StatusNotFound {
		t.Errorf("update other user's schema = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/schemas", "user-1", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 2 {
		t.Errorf("schemas = %d, want 2", list.Count)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/schemas/"+clone.ID, "user-1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
}

func TestTagEndpoints(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodPost, "/api/tags", "user-1", map[string]string{"name": "Groceries"}); rec.Code != http.StatusCreated {
		t.Fatalf("create tag = %d %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPost, "/api/tags", "user-1", map[string]string{"name": ""}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank tag = %d, want 422", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/tags", "user-1", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 1 {
		t.Errorf("tags = %d", list.Count)
	}
}

func TestJobEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_ = ts.jobStore.SaveJob(ctx, &jobs.ExportImportJob{JobID: "job-1", ImportID: "imp-1", UserID: "user-1", Status: jobs.JobStatusCompleted})
	_ = ts.jobStore.SaveJob(ctx, &jobs.ExportImportJob{JobID: "job-2", ImportID: "imp-2", UserID: "user-2", Status: jobs.JobStatusFailed})

	if rec := ts.do(t, http.MethodGet, "/api/jobs/job-1", "user-1", nil); rec.Code != http.StatusOK {
		t.Errorf("own job = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/jobs/job-2", "user-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user's job = %d, want 404", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/jobs", "user-1", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 1 {
		t.Errorf("jobs = %d, want 1", list.Count)
	}
}

func TestAuthAndHealth(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/api/imports", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, handlers.HealthPath, "", nil); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
}
