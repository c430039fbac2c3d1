// Package store defines the persistence contract of the importer. The
// postgres and sqlite subpackages implement it.
package store

import (
	"context"
	"errors"

	"github.com/dvloznov/statement-importer/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist for the user.
	ErrNotFound = errors.New("not found")
	// ErrSchemaInUse is returned when deleting a schema that imports reference.
	ErrSchemaInUse = errors.New("schema is referenced by imports")
	// ErrDuplicateName is returned when a user already has a schema or tag
	// with the same name.
	ErrDuplicateName = errors.New("name already exists")
)

// InsertOutcome is the result of InsertIfAbsent.
type InsertOutcome int

const (
	// Inserted means the row was written.
	Inserted InsertOutcome = iota + 1
	// Conflict means the user already has a transaction with the same hash.
	Conflict
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// ImportFilter narrows ListImports.
type ImportFilter struct {
	Status domain.ImportStatus
	Limit  int
	Offset int
}

// ImportRepository persists Import records.
type ImportRepository interface {
	CreateImport(ctx context.Context, imp *domain.Import) error
	UpdateImport(ctx context.Context, imp *domain.Import) error
	GetImport(ctx context.Context, userID, id string) (*domain.Import, error)
	ListImports(ctx context.Context, userID string, filter ImportFilter) ([]*domain.Import, error)
	// DeleteImport removes the import and every transaction it created.
	DeleteImport(ctx context.Context, userID, id string) error
}

// SchemaRepository persists CsvSchema records.
type SchemaRepository interface {
	CreateSchema(ctx context.Context, s *domain.CsvSchema) error
	UpdateSchema(ctx context.Context, s *domain.CsvSchema) error
	GetSchema(ctx context.Context, userID, id string) (*domain.CsvSchema, error)
	ListSchemas(ctx context.Context, userID string) ([]*domain.CsvSchema, error)
	// DeleteSchema fails with ErrSchemaInUse while imports reference it.
	DeleteSchema(ctx context.Context, userID, id string) error
}

// TransactionRepository reads committed transactions.
type TransactionRepository interface {
	HashExists(ctx context.Context, userID, hash string) (bool, error)
	// ExistingHashes returns the subset of hashes already committed.
	ExistingHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error)
	ListTransactionsByImport(ctx context.Context, userID, importID string) ([]*domain.Transaction, error)
}

// TagRepository persists user tags.
type TagRepository interface {
	CreateTag(ctx context.Context, tag *domain.Tag) error
	ListTags(ctx context.Context, userID string) ([]*domain.Tag, error)
	// OwnedTagIDs returns which of ids belong to userID.
	OwnedTagIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error)
}

// Tx is the unit of work a finalize runs in. Nothing written through it is
// visible to other callers until WithinTx returns nil.
type Tx interface {
	HashExists(ctx context.Context, userID, hash string) (bool, error)
	// InsertIfAbsent writes tx unless (user_id, unique_hash) already exists,
	// in which case it reports Conflict without failing the unit of work.
	InsertIfAbsent(ctx context.Context, tx *domain.Transaction) (InsertOutcome, error)
	AttachTags(ctx context.Context, transactionID string, tagIDs []string) error
	UpdateImport(ctx context.Context, imp *domain.Import) error
}

// Store is the full persistence collaborator.
type Store interface {
	ImportRepository
	SchemaRepository
	TransactionRepository
	TagRepository

	// WithinTx runs fn in one atomic transaction. Any error from fn rolls
	// everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) ([]string, error)
	Close() error
}
