// Package bigquery mirrors finished imports into a BigQuery dataset for
// reporting. The relational store stays the system of record.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
)

const (
	importsTable      = "imports"
	transactionsTable = "transactions"
)

// Exporter writes imports and their transactions to one dataset. It holds
// a shared BigQuery client to avoid creating a new connection per export.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewExporter creates an Exporter with its own client.
func NewExporter(ctx context.Context, projectID, datasetID string) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ExportImport streams imp and txs into the dataset. An import that is
// already present is skipped so retried jobs do not duplicate rows.
func (e *Exporter) ExportImport(ctx context.Context, imp *domain.Import, txs []*domain.Transaction) error {
	log := logger.FromContext(ctx).With().Str("import_id", imp.ID).Logger()

	exported, err := ImportExportedWithClient(ctx, e.client, e.projectID, e.datasetID, imp.ID)
	if err != nil {
		return err
	}
	if exported {
		log.Info().Msg("Import already exported, skipping")
		return nil
	}

	rows := make([]*TransactionRow, 0, len(txs))
	for _, t := range txs {
		row, err := NewTransactionRow(t)
		if err != nil {
			return fmt.Errorf("ExportImport: %w", err)
		}
		rows = append(rows, row)
	}

	// Transactions first: the import row is the marker checked above.
	if err := InsertTransactionsWithClient(ctx, e.client, e.projectID, e.datasetID, rows); err != nil {
		return err
	}
	if err := InsertImportWithClient(ctx, e.client, e.projectID, e.datasetID, NewImportRow(imp)); err != nil {
		return err
	}

	log.Info().Int("transactions", len(rows)).Msg("Exported import to BigQuery")
	return nil
}

// InsertTransactionsWithClient inserts a batch of TransactionRow using the
// provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	inserter := client.DatasetInProject(projectID, datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// InsertImportWithClient inserts a single ImportRow using the provided
// BigQuery client.
func InsertImportWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, row *ImportRow) error {
	inserter := client.DatasetInProject(projectID, datasetID).Table(importsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertImport: inserting row: %w", err)
	}
	return nil
}

// ImportExportedWithClient reports whether an import row already exists.
func ImportExportedWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, importID string) (bool, error) {
	q := client.Query(`
		SELECT COUNT(1) AS n
		FROM ` + "`" + projectID + "." + datasetID + "." + importsTable + "`" + `
		WHERE import_id = @import_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "import_id", Value: importID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("ImportExported: query read: %w", err)
	}

	var result struct {
		N int64 `bigquery:"n"`
	}
	err = it.Next(&result)
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ImportExported: iter next: %w", err)
	}
	return result.N > 0, nil
}
