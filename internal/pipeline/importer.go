package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-importer/internal/dateparse"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/store"
)

// Default limits applied when Limits leaves a field at zero.
const (
	DefaultMaxFileSize int64 = 10 << 20
	DefaultMaxRows           = 50000
)

// TagSuggester pre-fills Tags on candidates during preview.
type TagSuggester interface {
	SuggestTags(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) error
}

// CompletionHook is told about every import that finished successfully.
type CompletionHook interface {
	ImportCompleted(ctx context.Context, imp *domain.Import) error
}

// Limits bound the work a single preview may do.
type Limits struct {
	MaxFileSize int64
	MaxRows     int
}

// Importer runs the preview and finalize halves of a CSV import.
type Importer struct {
	store    store.Store
	dates    *dateparse.Parser
	detector *DuplicateDetector
	tagger   TagSuggester
	hooks    []CompletionHook
	limits   Limits
	now      func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithTagSuggester enables tag suggestions during preview.
func WithTagSuggester(t TagSuggester) Option {
	return func(im *Importer) { im.tagger = t }
}

// WithCompletionHook registers h to run after each completed import.
func WithCompletionHook(h CompletionHook) Option {
	return func(im *Importer) { im.hooks = append(im.hooks, h) }
}

// WithLimits overrides the default upload limits.
func WithLimits(l Limits) Option {
	return func(im *Importer) {
		if l.MaxFileSize > 0 {
			im.limits.MaxFileSize = l.MaxFileSize
		}
		if l.MaxRows > 0 {
			im.limits.MaxRows = l.MaxRows
		}
	}
}

// WithDateParser replaces the default date format table.
func WithDateParser(p *dateparse.Parser) Option {
	return func(im *Importer) { im.dates = p }
}

// WithClock sets the time source used for import timestamps.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// NewImporter creates an Importer backed by s.
func NewImporter(s store.Store, opts ...Option) *Importer {
	im := &Importer{
		store:    s,
		dates:    dateparse.NewDefault(),
		detector: NewDuplicateDetector(s),
		limits:   Limits{MaxFileSize: DefaultMaxFileSize, MaxRows: DefaultMaxRows},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Detector exposes the duplicate detector.
func (im *Importer) Detector() *DuplicateDetector {
	return im.detector
}

// ListImports returns the user's import history, newest first.
func (im *Importer) ListImports(ctx context.Context, userID string, filter store.ImportFilter) ([]*domain.Import, error) {
	imports, err := im.store.ListImports(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("ListImports: %w", err)
	}
	return imports, nil
}

// GetImport returns one of the user's imports.
func (im *Importer) GetImport(ctx context.Context, userID, id string) (*domain.Import, error) {
	imp, err := im.store.GetImport(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("GetImport: %w", err)
	}
	return imp, nil
}

// ImportTransactions returns the transactions an import created.
func (im *Importer) ImportTransactions(ctx context.Context, userID, id string) ([]*domain.Transaction, error) {
	if _, err := im.store.GetImport(ctx, userID, id); err != nil {
		return nil, fmt.Errorf("ImportTransactions: %w", err)
	}
	txs, err := im.store.ListTransactionsByImport(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("ImportTransactions: %w", err)
	}
	return txs, nil
}

// DeleteImport removes an import and every transaction it created.
func (im *Importer) DeleteImport(ctx context.Context, userID, id string) error {
	if err := im.store.DeleteImport(ctx, userID, id); err != nil {
		return fmt.Errorf("DeleteImport: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("import_id", id).Msg("Deleted import")
	return nil
}
