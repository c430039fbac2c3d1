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

// HashExists reports whether the user already has a committed transaction
// with hash.
func (s *Store) HashExists(ctx context.Context, userID, hash string) (bool, error) {
	return hashExists(ctx, s.db, userID, hash)
}

func hashExists(ctx context.Context, q querier, userID, hash string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id = ? AND unique_hash = ?)`,
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

	err := queryIn(ctx, s.db,
		`SELECT unique_hash FROM transactions WHERE user_id = ? AND unique_hash IN (%s)`,
		[]any{userID}, hashes,
		func(rows *sql.Rows) error {
			var h string
			if err := rows.Scan(&h); err != nil {
				return err
			}
			found[h] = true
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("ExistingHashes: %w", err)
	}
	return found, nil
}

func insertIfAbsent(ctx context.Context, q querier, t *domain.Transaction) (store.InsertOutcome, error) {
	if _, err := time.Parse(time.DateOnly, t.Date); err != nil {
		return 0, fmt.Errorf("InsertIfAbsent: date %q: %w", t.Date, err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var id string
	err := q.QueryRowContext(ctx, `
		INSERT INTO transactions (
			id, user_id, account_id, import_id, date, balance, paid_in, paid_out,
			description, reference, unique_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, unique_hash) DO NOTHING
		RETURNING id`,
		t.ID, t.UserID, t.AccountID, t.ImportID, t.Date, nullInt(t.Balance), nullInt(t.PaidIn), nullInt(t.PaidOut),
		t.Description, t.Reference, t.UniqueHash, formatTime(t.CreatedAt),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conflict, nil
	}
	if err != nil {
		return 0, fmt.Errorf("InsertIfAbsent: %w", err)
	}
	return store.Inserted, nil
}

func attachTags(ctx context.Context, q querier, transactionID string, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO transaction_tags (transaction_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			transactionID, tagID,
		); err != nil {
			return fmt.Errorf("AttachTags: %w", err)
		}
	}
	return nil
}

// ListTransactionsByImport returns an import's transactions with their tags.
func (s *Store) ListTransactionsByImport(ctx context.Context, userID, importID string) ([]*domain.Transaction, error) {
	txs, err := s.listTransactions(ctx, userID, importID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return txs, nil
	}

	byID := make(map[string]*domain.Transaction, len(txs))
	for _, t := range txs {
		byID[t.ID] = t
	}

	// The first result set is closed by now; the pool holds a single
	// connection.
	err = queryRows(ctx, s.db, `
		SELECT tt.transaction_id, tt.tag_id
		FROM transaction_tags tt
		JOIN transactions t ON t.id = tt.transaction_id
		WHERE t.user_id = ? AND t.import_id = ?
		ORDER BY tt.tag_id`,
		[]any{userID, importID},
		func(rows *sql.Rows) error {
			var txID, tagID string
			if err := rows.Scan(&txID, &tagID); err != nil {
				return err
			}
			if t, ok := byID[txID]; ok {
				t.Tags = append(t.Tags, tagID)
			}
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: tags %w", err)
	}
	return txs, nil
}

func (s *Store) listTransactions(ctx context.Context, userID, importID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, account_id, import_id, date, balance, paid_in, paid_out,
		       description, reference, unique_hash, created_at
		FROM transactions
		WHERE user_id = ? AND import_id = ?
		ORDER BY date, created_at`,
		userID, importID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: query: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var (
			t                        domain.Transaction
			balance, paidIn, paidOut sql.NullInt64
			createdAt                string
		)
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.AccountID, &t.ImportID, &t.Date, &balance, &paidIn, &paidOut,
			&t.Description, &t.Reference, &t.UniqueHash, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("ListTransactionsByImport: scan: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListTransactionsByImport: created_at: %w", err)
		}
		t.Balance, t.PaidIn, t.PaidOut = intPtr(balance), intPtr(paidIn), intPtr(paidOut)
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactionsByImport: rows: %w", err)
	}
	return txs, nil
}
