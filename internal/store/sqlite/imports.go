package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
)

const importColumns = `id, user_id, account_id, COALESCE(schema_id, ''), filename, source_uri, status,
	total_rows, processed_rows, imported_rows, duplicate_rows, error_message,
	started_at, completed_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(row scanner) (*domain.Import, error) {
	var (
		imp                    domain.Import
		status, createdAt      string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(
		&imp.ID, &imp.UserID, &imp.AccountID, &imp.SchemaID, &imp.Filename, &imp.SourceURI, &status,
		&imp.TotalRows, &imp.ProcessedRows, &imp.ImportedRows, &imp.DuplicateRows, &imp.ErrorMessage,
		&startedAt, &completedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	imp.Status = domain.ImportStatus(status)
	if imp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if imp.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("started_at: %w", err)
	}
	if imp.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("completed_at: %w", err)
	}
	return &imp, nil
}

// CreateImport inserts imp, assigning an ID when empty.
func (s *Store) CreateImport(ctx context.Context, imp *domain.Import) error {
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO imports (
			id, user_id, account_id, schema_id, filename, source_uri, status,
			total_rows, processed_rows, imported_rows, duplicate_rows, error_message,
			started_at, completed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.UserID, imp.AccountID, nullIfEmpty(imp.SchemaID), imp.Filename, imp.SourceURI, string(imp.Status),
		imp.TotalRows, imp.ProcessedRows, imp.ImportedRows, imp.DuplicateRows, imp.ErrorMessage,
		formatNullTime(imp.StartedAt), formatNullTime(imp.CompletedAt), formatTime(imp.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("CreateImport: inserting row: %w", err)
	}
	return nil
}

// UpdateImport writes the mutable fields of imp.
func (s *Store) UpdateImport(ctx context.Context, imp *domain.Import) error {
	return updateImport(ctx, s.db, imp)
}

func updateImport(ctx context.Context, q querier, imp *domain.Import) error {
	res, err := q.ExecContext(ctx, `
		UPDATE imports
		SET status = ?,
		    source_uri = ?,
		    total_rows = ?,
		    processed_rows = ?,
		    imported_rows = ?,
		    duplicate_rows = ?,
		    error_message = ?,
		    started_at = ?,
		    completed_at = ?
		WHERE id = ? AND user_id = ?`,
		string(imp.Status), imp.SourceURI,
		imp.TotalRows, imp.ProcessedRows, imp.ImportedRows, imp.DuplicateRows,
		imp.ErrorMessage, formatNullTime(imp.StartedAt), formatNullTime(imp.CompletedAt),
		imp.ID, imp.UserID,
	)
	if err != nil {
		return fmt.Errorf("UpdateImport: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateImport: import %s: %w", imp.ID, store.ErrNotFound)
	}
	return nil
}

// GetImport returns one import owned by userID.
func (s *Store) GetImport(ctx context.Context, userID, id string) (*domain.Import, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+importColumns+` FROM imports WHERE user_id = ? AND id = ?`, userID, id)
	imp, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetImport: import %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetImport: %w", err)
	}
	return imp, nil
}

// ListImports returns the user's imports, newest first.
func (s *Store) ListImports(ctx context.Context, userID string, filter store.ImportFilter) ([]*domain.Import, error) {
	var (
		sb   strings.Builder
		args = []any{userID}
	)
	sb.WriteString(`SELECT ` + importColumns + ` FROM imports WHERE user_id = ?`)
	if filter.Status != "" {
		sb.WriteString(` AND status = ?`)
		args = append(args, string(filter.Status))
	}
	sb.WriteString(` ORDER BY created_at DESC, id`)
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		sb.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("ListImports: query: %w", err)
	}
	defer rows.Close()

	var imports []*domain.Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("ListImports: scan: %w", err)
		}
		imports = append(imports, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListImports: rows: %w", err)
	}
	return imports, nil
}

// DeleteImport removes the import together with its transactions.
func (s *Store) DeleteImport(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteImport: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE import_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("DeleteImport: deleting transactions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("DeleteImport: deleting import: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("DeleteImport: import %s: %w", id, store.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("DeleteImport: commit: %w", err)
	}
	return nil
}
