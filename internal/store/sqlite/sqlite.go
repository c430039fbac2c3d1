// Package sqlite implements store.Store on an embedded SQLite database. It
// backs the CLI and the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
	"github.com/dvloznov/statement-importer/internal/store/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. SQLite allows one
// writer, so the pool is limited to a single connection; callers must not
// use the Store from inside a WithinTx callback.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite.Open: %s: %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}
	if err := fn(ctx, &txStore{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

// Migrate applies pending embedded migrations and returns their labels.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TEXT NOT NULL
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

	rows, err := s.db.QueryContext(ctx, `SELECT version, name, checksum FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("Migrate: reading applied migrations: %w", err)
	}
	var applied []migrate.Applied
	for rows.Next() {
		var a migrate.Applied
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("Migrate: scanning applied migrations: %w", err)
		}
		applied = append(applied, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	pending, err := migrate.Pending(all, applied)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	var labels []string
	for _, m := range pending {
		if err := s.applyMigration(ctx, m); err != nil {
			return labels, fmt.Errorf("Migrate: %s: %w", m.Label(), err)
		}
		labels = append(labels, m.Label())
	}
	return labels, nil
}

func (s *Store) applyMigration(ctx context.Context, m migrate.Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("executing: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, m.Checksum, formatTime(time.Now()),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recording: %w", err)
	}
	return tx.Commit()
}

// txStore implements store.Tx on an open *sql.Tx.
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// maxInValues bounds one IN (...) list; SQLite rejects statements with more
// than 32766 bound variables.
const maxInValues = 500

// queryIn runs query once per chunk of values. The query must contain one
// %s where the chunk's placeholders go; lead is bound before the chunk.
func queryIn(ctx context.Context, q querier, query string, lead []any, values []string, scan func(*sql.Rows) error) error {
	for start := 0; start < len(values); start += maxInValues {
		chunk := values[start:min(start+maxInValues, len(values))]
		args := make([]any, 0, len(lead)+len(chunk))
		args = append(args, lead...)
		for _, v := range chunk {
			args = append(args, v)
		}
		if err := queryRows(ctx, q, fmt.Sprintf(query, placeholders(len(chunk))), args, scan); err != nil {
			return err
		}
	}
	return nil
}

func queryRows(ctx context.Context, q querier, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*txStore)(nil)
)
