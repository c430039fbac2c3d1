package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-importer/internal/dateparse"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/schema"
	"github.com/dvloznov/statement-importer/internal/textenc"
)

// detectSampleSize bounds how many date cells feed format detection.
const detectSampleSize = 50

// PipelineStep represents a single step in the preview pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PreviewState) error
}

// PreviewState holds the shared state across all preview steps.
type PreviewState struct {
	Upload Upload
	Schema *domain.CsvSchema
	UserID string

	Resolved *schema.Resolved
	Text     string
	Encoding string
	Records  []Record
	DateHint string

	Result *domain.PreviewResult
}

// Record is one parsed CSV record and the line it starts on.
type Record struct {
	Line   int
	Fields []string
	Err    error
}

// Step 1: ValidateUploadStep rejects files the importer cannot read.
type ValidateUploadStep struct {
	MaxSize int64
}

func (s *ValidateUploadStep) Execute(ctx context.Context, state *PreviewState) error {
	up := state.Upload
	switch strings.ToLower(filepath.Ext(up.Filename)) {
	case ".csv", ".txt":
	default:
		return fmt.Errorf("%q: %w", up.Filename, ErrUnsupportedFileType)
	}
	if len(up.Data) == 0 {
		return ErrEmptyFile
	}
	if s.MaxSize > 0 && int64(len(up.Data)) > s.MaxSize {
		return fmt.Errorf("%d bytes exceeds %d: %w", len(up.Data), s.MaxSize, ErrFileTooLarge)
	}
	if ct := http.DetectContentType(up.Data); !textLike(ct) {
		return fmt.Errorf("%q looks like %s: %w", up.Filename, ct, ErrUnsupportedFileType)
	}
	return nil
}

// textLike accepts sniffed types a CSV export can produce. UTF-16 without a
// BOM sniffs as octet-stream because of its NUL bytes.
func textLike(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") || contentType == "application/octet-stream"
}

// Step 2: ResolveSchemaStep validates the schema and resolves its columns.
type ResolveSchemaStep struct{}

func (s *ResolveSchemaStep) Execute(ctx context.Context, state *PreviewState) error {
	if state.Schema == nil {
		return errors.New("no schema")
	}
	resolved, err := schema.Resolve(state.Schema)
	if err != nil {
		return err
	}
	state.Resolved = resolved
	return nil
}

// Step 3: DecodeStep converts the upload to UTF-8.
type DecodeStep struct{}

func (s *DecodeStep) Execute(ctx context.Context, state *PreviewState) error {
	res := textenc.Normalize(state.Upload.Data)
	if strings.TrimSpace(res.Text) == "" {
		return ErrEmptyFile
	}
	state.Text = res.Text
	state.Encoding = res.Encoding
	log := logger.FromContext(ctx)
	log.Debug().Str("encoding", res.Encoding).Msg("Decoded upload")
	return nil
}

// Step 4: ReadRecordsStep splits the text into CSV records. A malformed
// record is kept with its error so it surfaces as a row error.
type ReadRecordsStep struct {
	MaxRows int
}

func (s *ReadRecordsStep) Execute(ctx context.Context, state *PreviewState) error {
	r := csv.NewReader(strings.NewReader(state.Text))
	r.FieldsPerRecord = -1

	var (
		records  []Record
		dataRows int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields, err := r.Read()
		if err == io.EOF {
			break
		}

		var rec Record
		var perr *csv.ParseError
		switch {
		case errors.As(err, &perr):
			rec = Record{Line: perr.StartLine, Fields: fields, Err: perr}
		case err != nil:
			return fmt.Errorf("reading csv: %w", err)
		default:
			line, _ := r.FieldPos(0)
			rec = Record{Line: line, Fields: fields}
		}

		if rec.Line >= state.Resolved.DataStart && (rec.Err != nil || !isBlank(rec.Fields)) {
			dataRows++
			if s.MaxRows > 0 && dataRows > s.MaxRows {
				return fmt.Errorf("more than %d rows: %w", s.MaxRows, ErrTooManyRows)
			}
		}
		records = append(records, rec)
	}
	state.Records = records
	return nil
}

// Step 5: DetectDateFormatStep picks a batch-wide date format when the
// schema has no hint.
type DetectDateFormatStep struct {
	Dates *dateparse.Parser
}

func (s *DetectDateFormatStep) Execute(ctx context.Context, state *PreviewState) error {
	if state.Resolved.DateFormat != "" {
		return nil
	}

	var samples []string
	for _, rec := range state.Records {
		if rec.Err != nil || rec.Line < state.Resolved.DataStart {
			continue
		}
		if v := cell(rec.Fields, state.Resolved.Date); v != "" {
			samples = append(samples, cleanCell(v))
		}
		if len(samples) == detectSampleSize {
			break
		}
	}

	if name, ok := s.Dates.DetectFormat(samples); ok {
		state.DateHint = name
		state.Result.DetectedDateFormat = name
		log := logger.FromContext(ctx)
		log.Debug().Str("format", name).Int("samples", len(samples)).Msg("Detected date format")
	}
	return nil
}

// Step 6: ExtractRowsStep runs every record through the extractor.
type ExtractRowsStep struct {
	Dates *dateparse.Parser
}

func (s *ExtractRowsStep) Execute(ctx context.Context, state *PreviewState) error {
	ex := NewExtractor(state.Resolved, s.Dates, state.UserID, state.DateHint)
	res := state.Result

	for _, rec := range state.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Err != nil {
			if rec.Line < state.Resolved.DataStart {
				continue
			}
			res.Errors = append(res.Errors, domain.RowError{
				RowNumber: rec.Line,
				Message:   rec.Err.Error(),
				RawRow:    rec.Fields,
			})
			continue
		}

		out := ex.Extract(rec.Fields, rec.Line)
		switch {
		case out.Skipped:
		case out.Err != nil:
			res.Errors = append(res.Errors, *out.Err)
		default:
			res.Candidates = append(res.Candidates, out.Candidate)
		}
	}
	res.TotalRows = len(res.Candidates) + len(res.Errors)
	res.Encoding = state.Encoding
	return nil
}

// Step 7: FlagDuplicatesStep marks candidates already committed and sets
// their default review status.
type FlagDuplicatesStep struct {
	Detector *DuplicateDetector
}

func (s *FlagDuplicatesStep) Execute(ctx context.Context, state *PreviewState) error {
	res := state.Result
	dupes, err := s.Detector.Flag(ctx, state.UserID, res.Candidates)
	if err != nil {
		return err
	}
	for _, c := range res.Candidates {
		if c.IsDuplicate {
			c.Status = domain.CandidateStatusDuplicate
		} else {
			c.Status = domain.CandidateStatusApproved
		}
	}
	res.DuplicateCount = dupes
	res.ValidCount = len(res.Candidates) - dupes
	return nil
}

// Step 8: SuggestTagsStep pre-fills tags on new candidates. Suggestions are
// optional, so failures are logged and ignored.
type SuggestTagsStep struct {
	Tagger TagSuggester
}

func (s *SuggestTagsStep) Execute(ctx context.Context, state *PreviewState) error {
	if s.Tagger == nil {
		return nil
	}
	var fresh []*domain.TransactionCandidate
	for _, c := range state.Result.Candidates {
		if !c.IsDuplicate {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.Tagger.SuggestTags(ctx, state.UserID, fresh); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Tag suggestion failed")
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PreviewState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
