package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
)

// Upload is a raw file as received from the client.
type Upload struct {
	Filename string
	Data     []byte
}

// newPreviewPipeline creates the standard 8-step preview pipeline.
func (im *Importer) newPreviewPipeline() *Pipeline {
	return NewPipeline(
		&ValidateUploadStep{MaxSize: im.limits.MaxFileSize},
		&ResolveSchemaStep{},
		&DecodeStep{},
		&ReadRecordsStep{MaxRows: im.limits.MaxRows},
		&DetectDateFormatStep{Dates: im.dates},
		&ExtractRowsStep{Dates: im.dates},
		&FlagDuplicatesStep{Detector: im.detector},
		&SuggestTagsStep{Tagger: im.tagger},
	)
}

// PreviewTransactions extracts candidates from up without writing anything.
// Row problems are returned in the result; only file and schema problems
// fail the call.
func (im *Importer) PreviewTransactions(ctx context.Context, up Upload, s *domain.CsvSchema, userID string) (*domain.PreviewResult, error) {
	log := logger.FromContext(ctx).With().
		Str("user_id", userID).
		Str("filename", up.Filename).
		Logger()

	state := &PreviewState{
		Upload: up,
		Schema: s,
		UserID: userID,
		Result: &domain.PreviewResult{
			Candidates: []*domain.TransactionCandidate{},
			Errors:     []domain.RowError{},
		},
	}
	if err := im.newPreviewPipeline().Execute(ctx, state); err != nil {
		log.Warn().Err(err).Msg("Preview failed")
		return nil, fmt.Errorf("PreviewTransactions: %w", err)
	}

	res := state.Result
	log.Info().
		Int("total_rows", res.TotalRows).
		Int("valid", res.ValidCount).
		Int("duplicates", res.DuplicateCount).
		Int("errors", len(res.Errors)).
		Msg("Preview complete")
	return res, nil
}
