package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
)

const schemaColumns = `id, user_id, name, transaction_data_start,
	date_column, balance_column, amount_column, paid_in_column, paid_out_column,
	description_column, reference_column, date_format, created_at, updated_at`

func scanSchema(row pgx.Row) (*domain.CsvSchema, error) {
	var (
		s                                      domain.CsvSchema
		date, balance, amount, paidIn, paidOut string
		description, reference                 string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.TransactionDataStart,
		&date, &balance, &amount, &paidIn, &paidOut,
		&description, &reference, &s.DateFormat, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
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

// CreateSchema inserts s, assigning an ID and timestamps.
func (s *Store) CreateSchema(ctx context.Context, cs *domain.CsvSchema) error {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cs.CreatedAt, cs.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO csv_schemas (`+schemaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cs.ID, cs.UserID, cs.Name, cs.TransactionDataStart,
		cs.DateColumn.String(), cs.BalanceColumn.String(), cs.AmountColumn.String(),
		cs.PaidInColumn.String(), cs.PaidOutColumn.String(),
		cs.DescriptionColumn.String(), cs.ReferenceColumn.String(), cs.DateFormat,
		cs.CreatedAt, cs.UpdatedAt,
	)
	if isCode(err, codeUniqueViolation) {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE csv_schemas
		SET name = $3,
		    transaction_data_start = $4,
		    date_column = $5,
		    balance_column = $6,
		    amount_column = $7,
		    paid_in_column = $8,
		    paid_out_column = $9,
		    description_column = $10,
		    reference_column = $11,
		    date_format = $12,
		    updated_at = $13
		WHERE id = $1 AND user_id = $2`,
		cs.ID, cs.UserID, cs.Name, cs.TransactionDataStart,
		cs.DateColumn.String(), cs.BalanceColumn.String(), cs.AmountColumn.String(),
		cs.PaidInColumn.String(), cs.PaidOutColumn.String(),
		cs.DescriptionColumn.String(), cs.ReferenceColumn.String(), cs.DateFormat,
		cs.UpdatedAt,
	)
	if isCode(err, codeUniqueViolation) {
		return fmt.Errorf("UpdateSchema: %q: %w", cs.Name, store.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("UpdateSchema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateSchema: schema %s: %w", cs.ID, store.ErrNotFound)
	}
	return nil
}

// GetSchema returns one schema owned by userID.
func (s *Store) GetSchema(ctx context.Context, userID, id string) (*domain.CsvSchema, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+schemaColumns+` FROM csv_schemas WHERE user_id = $1 AND id = $2`, userID, id)
	cs, err := scanSchema(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("GetSchema: schema %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSchema: %w", err)
	}
	return cs, nil
}

// ListSchemas returns the user's schemas ordered by name.
func (s *Store) ListSchemas(ctx context.Context, userID string) ([]*domain.CsvSchema, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+schemaColumns+` FROM csv_schemas WHERE user_id = $1 ORDER BY name`, userID)
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
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM imports WHERE schema_id = $1 AND user_id = $2)`, id, userID).Scan(&inUse); err != nil {
		return fmt.Errorf("DeleteSchema: checking references: %w", err)
	}
	if inUse {
		return fmt.Errorf("DeleteSchema: schema %s: %w", id, store.ErrSchemaInUse)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM csv_schemas WHERE id = $1 AND user_id = $2`, id, userID)
	if isCode(err, codeForeignKeyViolation) {
		return fmt.Errorf("DeleteSchema: schema %s: %w", id, store.ErrSchemaInUse)
	}
	if err != nil {
		return fmt.Errorf("DeleteSchema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("DeleteSchema: schema %s: %w", id, store.ErrNotFound)
	}
	return nil
}
