package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
)

const schemaColumns = `id, user_id, name, transaction_data_start,
	date_column, balance_column, amount_column, paid_in_column, paid_out_column,
	description_column, reference_column, date_format, created_at, updated_at`

func scanSchema(row scanner) (*domain.CsvSchema, error) {
	var (
		s                                      domain.CsvSchema
		date, balance, amount, paidIn, paidOut string
		description, reference                 string
		createdAt, updatedAt                   string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.TransactionDataStart,
		&date, &balance, &amount, &paidIn, &paidOut,
		&description, &reference, &s.DateFormat, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	s.DateColumn = domain.ParseColumnRef(date)
	s.BalanceColumn = domain.ParseColumnRef(balance)
	s.AmountColumn = domain.ParseColumnRef(amount)
	s.PaidInColumn = domain.ParseColumnRef(paidIn)
	s.PaidOutColumn = domain.ParseColumnRef(paidOut)
	s.DescriptionColumn = domain.ParseColumnRef(description)
	s.ReferenceColumn = domain.ParseColumnRef(reference)
	return &s, nil
}

// CreateSchema inserts cs, assigning an ID and timestamps.
func (s *Store) CreateSchema(ctx context.Context, cs *domain.CsvSchema) error {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cs.CreatedAt, cs.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO csv_schemas (`+schemaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.UserID, cs.Name, cs.TransactionDataStart,
		cs.DateColumn.String(), cs.BalanceColumn.String(), cs.AmountColumn.String(),
		cs.PaidInColumn.String(), cs.PaidOutColumn.String(),
		cs.DescriptionColumn.String(), cs.ReferenceColumn.String(), cs.DateFormat,
		formatTime(cs.CreatedAt), formatTime(cs.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("CreateSchema: %q: %w", cs.Name, store.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("CreateSchema: inserting row: %w", err)
	}
	return nil
}

// UpdateSchema replaces the mapping of an existing schema.
func (s *Store) UpdateSchema(ctx context.Context, cs *domain.CsvSchema) error {
	cs.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE csv_schemas
		SET name = ?,
		    transaction_data_start = ?,
		    date_column = ?,
		    balance_column = ?,
		    amount_column = ?,
		    paid_in_column = ?,
		    paid_out_column = ?,
		    description_column = ?,
		    reference_column = ?,
		    date_format = ?,
		    updated_at = ?
		WHERE id = ? AND user_id = ?`,
		cs.Name, cs.TransactionDataStart,
		cs.DateColumn.String(), cs.BalanceColumn.String(), cs.AmountColumn.String(),
		cs.PaidInColumn.String(), cs.PaidOutColumn.String(),
		cs.DescriptionColumn.String(), cs.ReferenceColumn.String(), cs.DateFormat,
		formatTime(cs.UpdatedAt), cs.ID, cs.UserID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("UpdateSchema: %q: %w", cs.Name, store.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("UpdateSchema: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateSchema: schema %s: %w", cs.ID, store.ErrNotFound)
	}
	return nil
}

// GetSchema returns one schema owned by userID.
func (s *Store) GetSchema(ctx context.Context, userID, id string) (*domain.CsvSchema, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+schemaColumns+` FROM csv_schemas WHERE user_id = ? AND id = ?`, userID, id)
	cs, err := scanSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetSchema: schema %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSchema: %w", err)
	}
	return cs, nil
}

// ListSchemas returns the user's schemas ordered by name.
func (s *Store) ListSchemas(ctx context.Context, userID string) ([]*domain.CsvSchema, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+schemaColumns+` FROM csv_schemas WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListSchemas: query: %w", err)
	}
	defer rows.Close()

	var schemas []*domain.CsvSchema
	for rows.Next() {
		cs, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("ListSchemas: scan: %w", err)
		}
		schemas = append(schemas, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListSchemas: rows: %w", err)
	}
	return schemas, nil
}

// DeleteSchema removes a schema no import references.
func (s *Store) DeleteSchema(ctx context.Context, userID, id string) error {
	var inUse bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM imports WHERE schema_id = ? AND user_id = ?)`, id, userID).Scan(&inUse); err != nil {
		return fmt.Errorf("DeleteSchema: checking references: %w", err)
	}
	if inUse {
		return fmt.Errorf("DeleteSchema: schema %s: %w", id, store.ErrSchemaInUse)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM csv_schemas WHERE id = ? AND user_id = ?`, id, userID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("DeleteSchema: schema %s: %w", id, store.ErrSchemaInUse)
	}
	if err != nil {
		return fmt.Errorf("DeleteSchema: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("DeleteSchema: schema %s: %w", id, store.ErrNotFound)
	}
	return nil
}
