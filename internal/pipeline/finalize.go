package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/store"
)

// FinalizeRequest is the reviewed preview sent back by the client.
type FinalizeRequest struct {
	UserID     string
	AccountID  string
	SchemaID   string
	Filename   string
	SourceURI  string
	TotalRows  int // preview total_rows; defaults to len(Candidates)
	Candidates []*domain.TransactionCandidate
}

type finalizeCounts struct {
	processed, imported, duplicates int
}

// ImportReviewedTransactions persists the approved candidates of req as one
// Import. All inserts, tag links and the completed status are committed in
// a single store transaction; a hash conflict only counts the row as a
// duplicate, any other failure rolls everything back and leaves the Import
// failed.
func (im *Importer) ImportReviewedTransactions(ctx context.Context, req FinalizeRequest) (*domain.Import, error) {
	if req.UserID == "" || req.AccountID == "" {
		return nil, errors.New("ImportReviewedTransactions: user and account are required")
	}

	if req.SchemaID != "" {
		if _, err := im.store.GetSchema(ctx, req.UserID, req.SchemaID); err != nil {
			return nil, fmt.Errorf("ImportReviewedTransactions: %w", err)
		}
	}

	total := req.TotalRows
	if total < len(req.Candidates) {
		total = len(req.Candidates)
	}
	imp := &domain.Import{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		AccountID: req.AccountID,
		SchemaID:  req.SchemaID,
		Filename:  req.Filename,
		SourceURI: req.SourceURI,
		Status:    domain.ImportStatusPending,
		TotalRows: total,
		CreatedAt: im.now(),
	}
	log := logger.FromContext(ctx).With().
		Str("import_id", imp.ID).
		Str("user_id", imp.UserID).
		Logger()

	if err := im.store.CreateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("ImportReviewedTransactions: creating import: %w", err)
	}
	if err := imp.MarkAsStarted(im.now()); err != nil {
		return nil, fmt.Errorf("ImportReviewedTransactions: %w", err)
	}
	if err := im.store.UpdateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("ImportReviewedTransactions: marking started: %w", err)
	}

	approved := approvedCandidates(req.Candidates)
	tagsFor, err := im.ownedTags(ctx, req.UserID, approved)
	if err != nil {
		return im.fail(ctx, imp, err)
	}

	started := *imp
	err = im.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var n finalizeCounts
		for _, c := range approved {
			if err := ctx.Err(); err != nil {
				return err
			}
			n.processed++

			t, err := im.toTransaction(imp, c)
			if err != nil {
				return fmt.Errorf("row %d: %w", c.RowNumber, err)
			}
			exists, err := tx.HashExists(ctx, t.UserID, t.UniqueHash)
			if err != nil {
				return fmt.Errorf("row %d: %w", c.RowNumber, err)
			}
			if exists {
				n.duplicates++
				continue
			}
			outcome, err := tx.InsertIfAbsent(ctx, t)
			if err != nil {
				return fmt.Errorf("row %d: %w", c.RowNumber, err)
			}
			if outcome == store.Conflict {
				n.duplicates++
				continue
			}
			n.imported++

			if tags := tagsFor(c); len(tags) > 0 {
				if err := tx.AttachTags(ctx, t.ID, tags); err != nil {
					return fmt.Errorf("row %d: %w", c.RowNumber, err)
				}
			}
		}

		imp.ProcessedRows = n.processed
		imp.ImportedRows = n.imported
		imp.DuplicateRows = n.duplicates
		if err := imp.MarkAsCompleted(im.now()); err != nil {
			return err
		}
		return tx.UpdateImport(ctx, imp)
	})
	if err != nil {
		*imp = started
		return im.fail(ctx, imp, err)
	}

	log.Info().
		Int("processed", imp.ProcessedRows).
		Int("imported", imp.ImportedRows).
		Int("duplicates", imp.DuplicateRows).
		Msg("Import completed")

	for _, h := range im.hooks {
		if err := h.ImportCompleted(ctx, imp); err != nil {
			log.Warn().Err(err).Msg("Completion hook failed")
		}
	}
	return imp, nil
}

// fail records cause on imp outside the rolled-back transaction.
func (im *Importer) fail(ctx context.Context, imp *domain.Import, cause error) (*domain.Import, error) {
	log := logger.FromContext(ctx)
	log.Error().Err(cause).Str("import_id", imp.ID).Msg("Import failed")

	if err := imp.MarkAsFailed(cause.Error(), im.now()); err != nil {
		return imp, fmt.Errorf("ImportReviewedTransactions: %w", err)
	}
	if err := im.store.UpdateImport(context.WithoutCancel(ctx), imp); err != nil {
		log.Error().Err(err).Str("import_id", imp.ID).Msg("Failed to record import failure")
	}
	return imp, fmt.Errorf("ImportReviewedTransactions: %w: %w", ErrImportFailed, cause)
}

// toTransaction re-validates a client-supplied candidate and recomputes its
// hash; nothing in the round trip is trusted.
func (im *Importer) toTransaction(imp *domain.Import, c *domain.TransactionCandidate) (*domain.Transaction, error) {
	if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
		return nil, fmt.Errorf("invalid date %q", c.Date)
	}
	for name, v := range map[string]*int64{"paid_in": c.PaidIn, "paid_out": c.PaidOut} {
		if v != nil && *v < 0 {
			return nil, fmt.Errorf("negative %s %d", name, *v)
		}
	}

	t := c.ToTransaction(imp.UserID, imp.AccountID, imp.ID)
	t.ID = uuid.NewString()
	t.UniqueHash = Hash(imp.UserID, t.Date, t.Balance, t.PaidIn, t.PaidOut)
	t.Tags = nil
	t.CreatedAt = im.now()
	return t, nil
}

func approvedCandidates(candidates []*domain.TransactionCandidate) []*domain.TransactionCandidate {
	var approved []*domain.TransactionCandidate
	for _, c := range candidates {
		if c != nil && c.Status == domain.CandidateStatusApproved {
			approved = append(approved, c)
		}
	}
	return approved
}

// ownedTags checks every requested tag id once and returns a lookup that
// yields only the ids the user owns. It runs before the write transaction
// opens.
func (im *Importer) ownedTags(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) (func(*domain.TransactionCandidate) []string, error) {
	var requested []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		for _, id := range c.Tags {
			if !seen[id] {
				seen[id] = true
				requested = append(requested, id)
			}
		}
	}

	owned := map[string]bool{}
	if len(requested) > 0 {
		var err error
		if owned, err = im.store.OwnedTagIDs(ctx, userID, requested); err != nil {
			return nil, fmt.Errorf("checking tag ownership: %w", err)
		}
		if dropped := len(requested) - len(owned); dropped > 0 {
			log := logger.FromContext(ctx)
			log.Warn().
				Str("user_id", userID).
				Int("dropped", dropped).
				Msg("Ignoring tags the user does not own")
		}
	}

	return func(c *domain.TransactionCandidate) []string {
		var ids []string
		for _, id := range c.Tags {
			if owned[id] {
				ids = append(ids, id)
			}
		}
		return ids
	}, nil
}
