package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
)

const importColumns = `id, user_id, account_id, COALESCE(schema_id, ''), filename, source_uri, status,
	total_rows, processed_rows, imported_rows, duplicate_rows, error_message,
	started_at, completed_at, created_at`

func scanImport(row pgx.Row) (*domain.Import, error) {
	var (
		imp    domain.Import
		status string
	)
	err := row.Scan(
		&imp.ID, &imp.UserID, &imp.AccountID, &imp.SchemaID, &imp.Filename, &imp.SourceURI, &status,
		&imp.TotalRows, &imp.ProcessedRows, &imp.ImportedRows, &imp.DuplicateRows, &imp.ErrorMessage,
		&imp.StartedAt, &imp.CompletedAt, &imp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	imp.Status = domain.ImportStatus(status)
	return &imp, nil
}

// CreateImport inserts imp, assigning an ID when empty.
func (s *Store) CreateImport(ctx context.Context, imp *domain.Import) error {
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO imports (
			id, user_id, account_id, schema_id, filename, source_uri, status,
			total_rows, processed_rows, imported_rows, duplicate_rows, error_message,
			started_at, completed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		imp.ID, imp.UserID, imp.AccountID, nullIfEmpty(imp.SchemaID), imp.Filename, imp.SourceURI, string(imp.Status),
		imp.TotalRows, imp.ProcessedRows, imp.ImportedRows, imp.DuplicateRows, imp.ErrorMessage,
		imp.StartedAt, imp.CompletedAt, imp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateImport: inserting row: %w", err)
	}
	return nil
}

// UpdateImport writes the mutable fields of imp.
func (s *Store) UpdateImport(ctx context.Context, imp *domain.Import) error {
	return updateImport(ctx, s.pool, imp)
}

func updateImport(ctx context.Context, q querier, imp *domain.Import) error {
	tag, err := q.Exec(ctx, `
		UPDATE imports
		SET status = $3,
		    source_uri = $4,
		    total_rows = $5,
		    processed_rows = $6,
		    imported_rows = $7,
		    duplicate_rows = $8,
		    error_message = $9,
		    started_at = $10,
		    completed_at = $11
		WHERE id = $1 AND user_id = $2`,
		imp.ID, imp.UserID, string(imp.Status), imp.SourceURI,
		imp.TotalRows, imp.ProcessedRows, imp.ImportedRows, imp.DuplicateRows,
		imp.ErrorMessage, imp.StartedAt, imp.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("UpdateImport: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateImport: import %s: %w", imp.ID, store.ErrNotFound)
	}
	return nil
}

// GetImport returns one import owned by userID.
func (s *Store) GetImport(ctx context.Context, userID, id string) (*domain.Import, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+importColumns+` FROM imports WHERE user_id = $1 AND id = $2`, userID, id)
	imp, err := scanImport(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	sb.WriteString(`SELECT ` + importColumns + ` FROM imports WHERE user_id = $1`)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&sb, ` AND status = $%d`, len(args))
	}
	sb.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
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
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE import_id = $1 AND user_id = $2`, id, userID); err != nil {
			return fmt.Errorf("DeleteImport: deleting transactions: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM imports WHERE id = $1 AND user_id = $2`, id, userID)
		if err != nil {
			return fmt.Errorf("DeleteImport: deleting import: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("DeleteImport: import %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}
