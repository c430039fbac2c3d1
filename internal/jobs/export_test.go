package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-importer/internal/domain"
)

type MockImportSource struct {
	GetImportFunc                func(ctx context.Context, userID, id string) (*domain.Import, error)
	ListTransactionsByImportFunc func(ctx context.Context, userID, importID string) ([]*domain.Transaction, error)
}

func (m *MockImportSource) GetImport(ctx context.Context, userID, id string) (*domain.Import, error) {
	return m.GetImportFunc(ctx, userID, id)
}

func (m *MockImportSource) ListTransactionsByImport(ctx context.Context, userID, importID string) ([]*domain.Transaction, error) {
	if m.ListTransactionsByImportFunc != nil {
		return m.ListTransactionsByImportFunc(ctx, userID, importID)
	}
	return nil, nil
}

type MockExporter struct {
	ExportImportFunc func(ctx context.Context, imp *domain.Import, txs []*domain.Transaction) error
	calls            int
}

func (m *MockExporter) ExportImport(ctx context.Context, imp *domain.Import, txs []*domain.Transaction) error {
	m.calls++
	if m.ExportImportFunc != nil {
		return m.ExportImportFunc(ctx, imp, txs)
	}
	return nil
}

type MockPublisher struct {
	PublishExportImportFunc func(ctx context.Context, job *ExportImportJob) error
}

func (m *MockPublisher) PublishExportImport(ctx context.Context, job *ExportImportJob) error {
	return m.PublishExportImportFunc(ctx, job)
}

func (m *MockPublisher) Close() error { return nil }

func TestExportHandler(t *testing.T) {
	ctx := context.Background()
	job := &ExportImportJob{JobID: "job-1", ImportID: "imp-1", UserID: "user-1"}

	t.Run("exports completed import", func(t *testing.T) {
		src := &MockImportSource{
			GetImportFunc: func(ctx context.Context, userID, id string) (*domain.Import, error) {
				if userID != "user-1" || id != "imp-1" {
					t.Errorf("GetImport(%q, %q)", userID, id)
				}
				return &domain.Import{ID: id, Status: domain.ImportStatusCompleted}, nil
			},
			ListTransactionsByImportFunc: func(ctx context.Context, userID, importID string) ([]*domain.Transaction, error) {
				return []*domain.Transaction{{ID: "tx-1"}, {ID: "tx-2"}}, nil
			},
		}
		var exported int
		exp := &MockExporter{ExportImportFunc: func(ctx context.Context, imp *domain.Import, txs []*domain.Transaction) error {
			exported = len(txs)
			return nil
		}}

		if err := NewExportHandler(src, exp)(ctx, job); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if exported != 2 {
			t.Errorf("exported %d transactions, want 2", exported)
		}
	})

	t.Run("skips failed import", func(t *testing.T) {
		src := &MockImportSource{GetImportFunc: func(ctx context.Context, userID, id string) (*domain.Import, error) {
			return &domain.Import{ID: id, Status: domain.ImportStatusFailed}, nil
		}}
		exp := &MockExporter{}
		if err := NewExportHandler(src, exp)(ctx, job); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if exp.calls != 0 {
			t.Errorf("exporter called %d times", exp.calls)
		}
	})

	t.Run("exporter error is returned for retry", func(t *testing.T) {
		src := &MockImportSource{GetImportFunc: func(ctx context.Context, userID, id string) (*domain.Import, error) {
			return &domain.Import{ID: id, Status: domain.ImportStatusCompleted}, nil
		}}
		boom := errors.New("quota exceeded")
		exp := &MockExporter{ExportImportFunc: func(context.Context, *domain.Import, []*domain.Transaction) error {
			return boom
		}}
		if err := NewExportHandler(src, exp)(ctx, job); !errors.Is(err, boom) {
			t.Errorf("handler = %v, want %v", err, boom)
		}
	})
}

func TestExportNotifier(t *testing.T) {
	var got *ExportImportJob
	n := NewExportNotifier(&MockPublisher{PublishExportImportFunc: func(ctx context.Context, job *ExportImportJob) error {
		got = job
		job.JobID = "job-1"
		return nil
	}})

	imp := &domain.Import{ID: "imp-1", UserID: "user-1"}
	if err := n.ImportCompleted(context.Background(), imp); err != nil {
		t.Fatalf("ImportCompleted: %v", err)
	}
	if got == nil || got.ImportID != "imp-1" || got.UserID != "user-1" {
		t.Errorf("published job = %+v", got)
	}

	boom := errors.New("closed")
	n = NewExportNotifier(&MockPublisher{PublishExportImportFunc: func(context.Context, *ExportImportJob) error { return boom }})
	if err := n.ImportCompleted(context.Background(), imp); !errors.Is(err, boom) {
		t.Errorf("ImportCompleted = %v, want %v", err, boom)
	}
}
