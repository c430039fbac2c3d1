// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
	"github.com/dvloznov/statement-importer/internal/store/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// helper runs the same inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the PostgreSQL store. It holds one shared connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate empties every data table. It exists for test databases.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE transaction_tags, transactions, tags, imports, csv_schemas`)
	if err != nil {
		return fmt.Errorf("Truncate: %w", err)
	}
	return nil
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

// Migrate applies the embedded migrations that schema_migrations does not
// list yet, each in its own transaction. It returns the applied labels.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}
	all, err := migrate.Load(sub)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT version, name, checksum FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("Migrate: reading applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (migrate.Applied, error) {
		var a migrate.Applied
		err := row.Scan(&a.Version, &a.Name, &a.Checksum)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("Migrate: scanning applied migrations: %w", err)
	}

	pending, err := migrate.Pending(all, applied)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	var labels []string
	for _, m := range pending {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("executing: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				m.Version, m.Name, m.Checksum,
			); err != nil {
				return fmt.Errorf("recording: %w", err)
			}
			return nil
		})
		if err != nil {
			return labels, fmt.Errorf("Migrate: %s: %w", m.Label(), err)
		}
		labels = append(labels, m.Label())
	}
	return labels, nil
}

// txStore implements store.Tx on an open pgx transaction.
type txStore struct {
	q querier
}

func (t *txStore) HashExists(ctx context.Context, userID, hash string) (bool, error) {
	return hashExists(ctx, t.q, userID, hash)
}

func (t *txStore) InsertIfAbsent(ctx context.Context, tx *domain.Transaction) (store.InsertOutcome, error) {
	return insertIfAbsent(ctx, t.q, tx)
}

func (t *txStore) AttachTags(ctx context.Context, transactionID string, tagIDs []string) error {
	return attachTags(ctx, t.q, transactionID, tagIDs)
}

func (t *txStore) UpdateImport(ctx context.Context, imp *domain.Import) error {
	return updateImport(ctx, t.q, imp)
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*txStore)(nil)
)
