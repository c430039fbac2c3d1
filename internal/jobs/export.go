package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
)

// ImportSource reads committed imports back from the system of record.
type ImportSource interface {
	GetImport(ctx context.Context, userID, id string) (*domain.Import, error)
	ListTransactionsByImport(ctx context.Context, userID, importID string) ([]*domain.Transaction, error)
}

// ImportExporter writes an import and its transactions somewhere else.
type ImportExporter interface {
	ExportImport(ctx context.Context, imp *domain.Import, txs []*domain.Transaction) error
}

// NewExportHandler returns a JobHandler that loads the import named by an
// ExportImportJob and hands it to exp. Imports that did not complete are
// skipped.
func NewExportHandler(src ImportSource, exp ImportExporter) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ExportImportJob)
		if !ok {
			return fmt.Errorf("ExportHandler: unexpected job type %s", job.GetType())
		}
		log := logger.FromContext(ctx).With().
			Str("job_id", j.JobID).
			Str("import_id", j.ImportID).
			Logger()

		imp, err := src.GetImport(ctx, j.UserID, j.ImportID)
		if err != nil {
			return fmt.Errorf("ExportHandler: loading import: %w", err)
		}
		if imp.Status != domain.ImportStatusCompleted {
			log.Warn().Str("status", string(imp.Status)).Msg("Import not completed, nothing to export")
			return nil
		}

		txs, err := src.ListTransactionsByImport(ctx, j.UserID, j.ImportID)
		if err != nil {
			return fmt.Errorf("ExportHandler: loading transactions: %w", err)
		}
		if err := exp.ExportImport(ctx, imp, txs); err != nil {
			return fmt.Errorf("ExportHandler: %w", err)
		}

		log.Info().Int("transactions", len(txs)).Msg("Export job finished")
		return nil
	}
}

// ExportNotifier publishes an export job whenever an import completes.
type ExportNotifier struct {
	publisher Publisher
}

func NewExportNotifier(p Publisher) *ExportNotifier {
	return &ExportNotifier{publisher: p}
}

// ImportCompleted enqueues an ExportImportJob for imp.
func (n *ExportNotifier) ImportCompleted(ctx context.Context, imp *domain.Import) error {
	job := &ExportImportJob{ImportID: imp.ID, UserID: imp.UserID}
	if err := n.publisher.PublishExportImport(ctx, job); err != nil {
		return fmt.Errorf("ExportNotifier: publishing job for import %s: %w", imp.ID, err)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("job_id", job.JobID).
		Str("import_id", imp.ID).
		Msg("Export job published")
	return nil
}
