package domain

import (
	"fmt"
	"time"
)

// Transaction is a committed ledger row. Monetary fields are integer minor
// units (pennies) and nil when the source cell was empty.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AccountID   string    `json:"account_id"`
	ImportID    string    `json:"import_id"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Balance     *int64    `json:"balance"`
	PaidIn      *int64    `json:"paid_in"`
	PaidOut     *int64    `json:"paid_out"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	UniqueHash  string    `json:"unique_hash"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CandidateStatus is the review state of a previewed row.
type CandidateStatus string

const (
	CandidateStatusPending   CandidateStatus = "pending"
	CandidateStatusApproved  CandidateStatus = "approved"
	CandidateStatusDiscarded CandidateStatus = "discarded"
	CandidateStatusDuplicate CandidateStatus = "duplicate"
)

// Valid reports whether s is one of the known candidate statuses.
func (s CandidateStatus) Valid() bool {
	switch s {
	case CandidateStatusPending, CandidateStatusApproved, CandidateStatusDiscarded, CandidateStatusDuplicate:
		return true
	}
	return false
}

// TransactionCandidate is an extracted row awaiting review. It travels to the
// review UI and back as JSON, so it carries no server-only state.
type TransactionCandidate struct {
	RowNumber   int             `json:"row_number"`
	Date        string          `json:"date"`
	Balance     *int64          `json:"balance"`
	PaidIn      *int64          `json:"paid_in"`
	PaidOut     *int64          `json:"paid_out"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	UniqueHash  string          `json:"unique_hash"`
	IsDuplicate bool            `json:"is_duplicate"`
	Status      CandidateStatus `json:"status"`
	Tags        []string        `json:"tags"`
}

// ToTransaction converts an approved candidate into a row for the given import.
func (c *TransactionCandidate) ToTransaction(userID, accountID, importID string) *Transaction {
	return &Transaction{
		UserID:      userID,
		AccountID:   accountID,
		ImportID:    importID,
		Date:        c.Date,
		Balance:     c.Balance,
		PaidIn:      c.PaidIn,
		PaidOut:     c.PaidOut,
		Description: c.Description,
		Reference:   c.Reference,
		UniqueHash:  c.UniqueHash,
		Tags:        c.Tags,
	}
}

// RowError describes a CSV row that could not be turned into a candidate.
type RowError struct {
	RowNumber int      `json:"row_number"`
	Message   string   `json:"message"`
	RawRow    []string `json:"raw_row"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowNumber, e.Message)
}

// PreviewResult is everything the review screen needs. Nothing in it has
// been persisted.
type PreviewResult struct {
	Candidates         []*TransactionCandidate `json:"candidates"`
	Errors             []RowError              `json:"errors"`
	ValidCount         int                     `json:"valid_count"`
	DuplicateCount     int                     `json:"duplicate_count"`
	TotalRows          int                     `json:"total_rows"`
	DetectedDateFormat string                  `json:"detected_date_format,omitempty"`
	Encoding           string                  `json:"encoding"`
}

// Tag is a user-owned label that can be attached to transactions.
type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
