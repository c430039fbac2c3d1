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

const dateLayout = "2006-01-02"

// HashExists reports whether the user already has a committed transaction
// with hash.
func (s *Store) HashExists(ctx context.Context, userID, hash string) (bool, error) {
	return hashExists(ctx, s.pool, userID, hash)
}

func hashExists(ctx context.Context, q querier, userID, hash string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id = $1 AND unique_hash = $2)`,
		userID, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HashExists: %w", err)
	}
	return exists, nil
}

// ExistingHashes implements store.TransactionRepository.
func (s *Store) ExistingHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT unique_hash FROM transactions WHERE user_id = $1 AND unique_hash = ANY($2)`,
		userID, hashes,
	)
	if err != nil {
		return nil, fmt.Errorf("ExistingHashes: query: %w", err)
	}
	matched, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ExistingHashes: scan: %w", err)
	}
	for _, h := range matched {
		found[h] = true
	}
	return found, nil
}

// insertIfAbsent relies on the (user_id, unique_hash) constraint: a
// conflicting row returns nothing instead of aborting the transaction.
func insertIfAbsent(ctx context.Context, q querier, t *domain.Transaction) (store.InsertOutcome, error) {
	date, err := time.Parse(dateLayout, t.Date)
	if err != nil {
		return 0, fmt.Errorf("InsertIfAbsent: date %q: %w", t.Date, err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var id string
	err = q.QueryRow(ctx, `
		INSERT INTO transactions (
			id, user_id, account_id, import_id, date, balance, paid_in, paid_out,
			description, reference, unique_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, unique_hash) DO NOTHING
		RETURNING id`,
		t.ID, t.UserID, t.AccountID, t.ImportID, date, t.Balance, t.PaidIn, t.PaidOut,
		t.Description, t.Reference, t.UniqueHash, t.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Conflict, nil
	}
	if err != nil {
		return 0, fmt.Errorf("InsertIfAbsent: %w", err)
	}
	return store.Inserted, nil
}

func attachTags(ctx context.Context, q querier, transactionID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, tagID := range tagIDs {
		batch.Queue(
			`INSERT INTO transaction_tags (transaction_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			transactionID, tagID,
		)
	}

	br := q.SendBatch(ctx, batch)
	for range tagIDs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("AttachTags: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("AttachTags: %w", err)
	}
	return nil
}

// ListTransactionsByImport returns an import's transactions with their tags.
func (s *Store) ListTransactionsByImport(ctx context.Context, userID, importID string) ([]*domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, account_id, import_id, date, balance, paid_in, paid_out,
		       description, reference, unique_hash, created_at
		FROM transactions
		WHERE user_id = $1 AND import_id = $2
		ORDER BY date, created_at`,
		userID, importID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: query: %w", err)
	}
	defer rows.Close()

	var (
		txs  []*domain.Transaction
		byID = make(map[string]*domain.Transaction)
		ids  []string
	)
	for rows.Next() {
		var (
			t    domain.Transaction
			date time.Time
		)
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.AccountID, &t.ImportID, &date, &t.Balance, &t.PaidIn, &t.PaidOut,
			&t.Description, &t.Reference, &t.UniqueHash, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListTransactionsByImport: scan: %w", err)
		}
		t.Date = date.Format(dateLayout)
		txs = append(txs, &t)
		byID[t.ID] = &t
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: rows: %w", err)
	}
	if len(ids) == 0 {
		return txs, nil
	}

	tagRows, err := s.pool.Query(ctx,
		`SELECT transaction_id, tag_id FROM transaction_tags WHERE transaction_id = ANY($1) ORDER BY tag_id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: tags query: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var txID, tagID string
		if err := tagRows.Scan(&txID, &tagID); err != nil {
			return nil, fmt.Errorf("ListTransactionsByImport: tags scan: %w", err)
		}
		if t, ok := byID[txID]; ok {
			t.Tags = append(t.Tags, tagID)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: tags rows: %w", err)
	}
	return txs, nil
}
