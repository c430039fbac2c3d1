package pipeline

import (
	"fmt"
	"strings"

	"github.com/dvloznov/statement-importer/internal/dateparse"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/money"
	"github.com/dvloznov/statement-importer/internal/schema"
)

// RowResult is the outcome of extracting one CSV record: exactly one of
// Candidate and Err is set, or Skipped is true.
type RowResult struct {
	Candidate *domain.TransactionCandidate
	Err       *domain.RowError
	Skipped   bool
}

// Extractor turns raw CSV records into transaction candidates for one user
// and one resolved schema.
type Extractor struct {
	schema *schema.Resolved
	dates  *dateparse.Parser
	userID string
	hint   string
}

// NewExtractor builds an extractor. hint overrides the schema's date format
// when the schema does not configure one.
func NewExtractor(resolved *schema.Resolved, dates *dateparse.Parser, userID, hint string) *Extractor {
	if resolved.DateFormat != "" {
		hint = resolved.DateFormat
	}
	return &Extractor{schema: resolved, dates: dates, userID: userID, hint: hint}
}

// Extract processes the record at the 1-based rowNumber. Rows before the
// schema's data start and blank rows are skipped.
func (e *Extractor) Extract(row []string, rowNumber int) RowResult {
	if rowNumber < e.schema.DataStart || isBlank(row) {
		return RowResult{Skipped: true}
	}

	cells := make([]string, len(row))
	for i, c := range row {
		cells[i] = cleanCell(c)
	}
	fail := func(format string, args ...any) RowResult {
		return RowResult{Err: &domain.RowError{
			RowNumber: rowNumber,
			Message:   fmt.Sprintf(format, args...),
			RawRow:    row,
		}}
	}

	rawDate := cell(cells, e.schema.Date)
	if rawDate == "" {
		return fail("missing date")
	}
	date, err := e.dates.Parse(rawDate, e.hint)
	if err != nil {
		return fail("%v", err)
	}

	rawBalance := cell(cells, e.schema.Balance)
	balance, err := money.Parse(rawBalance)
	if err != nil {
		return fail("invalid balance %q", rawBalance)
	}

	var paidIn, paidOut *int64
	if e.schema.SingleAmount {
		rawAmount := cell(cells, e.schema.Amount)
		amount, err := money.Parse(rawAmount)
		if err != nil {
			return fail("invalid amount %q", rawAmount)
		}
		if amount != nil {
			if *amount >= 0 {
				paidIn = amount
			} else {
				abs := -*amount
				paidOut = &abs
			}
		}
	} else {
		rawIn := cell(cells, e.schema.PaidIn)
		if paidIn, err = money.Parse(rawIn); err != nil {
			return fail("invalid paid in %q", rawIn)
		}
		rawOut := cell(cells, e.schema.PaidOut)
		if paidOut, err = money.Parse(rawOut); err != nil {
			return fail("invalid paid out %q", rawOut)
		}
	}

	c := &domain.TransactionCandidate{
		RowNumber:   rowNumber,
		Date:        date,
		Balance:     balance,
		PaidIn:      paidIn,
		PaidOut:     paidOut,
		Description: cell(cells, e.schema.Description),
		Reference:   cell(cells, e.schema.Reference),
		Status:      domain.CandidateStatusPending,
		Tags:        []string{},
	}
	c.UniqueHash = Hash(e.userID, c.Date, c.Balance, c.PaidIn, c.PaidOut)
	return RowResult{Candidate: c}
}

// cell returns the cleaned value at idx, or "" when the column is unset or
// the row is short.
func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func cleanCell(s string) string {
	s = strings.ReplaceAll(s, "\uFEFF", "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ToValidUTF8(s, "")
	return strings.TrimSpace(s)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if cleanCell(c) != "" {
			return false
		}
	}
	return true
}
