package bigquery

import (
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// TransactionRow mirrors one committed transaction in the analytics
// dataset. Money columns are INT64 minor units.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	ImportID      string `bigquery:"import_id"`      // REQUIRED

	UserID    string `bigquery:"user_id"`    // REQUIRED
	AccountID string `bigquery:"account_id"` // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Balance bigquery.NullInt64 `bigquery:"balance"`  // NULLABLE
	PaidIn  bigquery.NullInt64 `bigquery:"paid_in"`  // NULLABLE
	PaidOut bigquery.NullInt64 `bigquery:"paid_out"` // NULLABLE

	Description string              `bigquery:"description"` // REQUIRED STRING
	Reference   bigquery.NullString `bigquery:"reference"`   // NULLABLE STRING
	UniqueHash  string              `bigquery:"unique_hash"` // REQUIRED STRING

	Tags []string `bigquery:"tags"` // REPEATED STRING

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// ImportRow mirrors one finished import.
type ImportRow struct {
	ImportID  string              `bigquery:"import_id"`
	UserID    string              `bigquery:"user_id"`
	AccountID string              `bigquery:"account_id"`
	SchemaID  bigquery.NullString `bigquery:"schema_id"`
	Filename  string              `bigquery:"filename"`
	SourceURI bigquery.NullString `bigquery:"source_uri"`
	Status    string              `bigquery:"status"`

	TotalRows     int64   `bigquery:"total_rows"`
	ProcessedRows int64   `bigquery:"processed_rows"`
	ImportedRows  int64   `bigquery:"imported_rows"`
	DuplicateRows int64   `bigquery:"duplicate_rows"`
	SuccessRate   float64 `bigquery:"success_rate"`

	StartedTS   bigquery.NullTimestamp `bigquery:"started_ts"`
	CompletedTS bigquery.NullTimestamp `bigquery:"completed_ts"`
	CreatedTS   time.Time              `bigquery:"created_ts"`
}

// NewTransactionRow converts a committed transaction.
func NewTransactionRow(t *domain.Transaction) (*TransactionRow, error) {
	date, err := civil.ParseDate(t.Date)
	if err != nil {
		return nil, fmt.Errorf("NewTransactionRow: transaction %s: %w", t.ID, err)
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return &TransactionRow{
		TransactionID:   t.ID,
		ImportID:        t.ImportID,
		UserID:          t.UserID,
		AccountID:       t.AccountID,
		TransactionDate: date,
		Balance:         nullInt64(t.Balance),
		PaidIn:          nullInt64(t.PaidIn),
		PaidOut:         nullInt64(t.PaidOut),
		Description:     t.Description,
		Reference:       nullString(t.Reference),
		UniqueHash:      t.UniqueHash,
		Tags:            tags,
		CreatedTS:       t.CreatedAt,
	}, nil
}

// NewImportRow converts an import and its derived success rate.
func NewImportRow(imp *domain.Import) *ImportRow {
	return &ImportRow{
		ImportID:      imp.ID,
		UserID:        imp.UserID,
		AccountID:     imp.AccountID,
		SchemaID:      nullString(imp.SchemaID),
		Filename:      imp.Filename,
		SourceURI:     nullString(imp.SourceURI),
		Status:        string(imp.Status),
		TotalRows:     int64(imp.TotalRows),
		ProcessedRows: int64(imp.ProcessedRows),
		ImportedRows:  int64(imp.ImportedRows),
		DuplicateRows: int64(imp.DuplicateRows),
		SuccessRate:   imp.Stats().SuccessRate,
		StartedTS:     nullTimestamp(imp.StartedAt),
		CompletedTS:   nullTimestamp(imp.CompletedAt),
		CreatedTS:     imp.CreatedAt,
	}
}

func nullInt64(v *int64) bigquery.NullInt64 {
	if v == nil {
		return bigquery.NullInt64{}
	}
	return bigquery.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}
