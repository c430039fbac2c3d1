package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ImportStatus represents where an import is in its lifecycle.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// maxErrorMessageLen caps stored failure reasons.
const maxErrorMessageLen = 2000

// ErrInvalidTransition is returned when a status change is not allowed from
// the current state.
var ErrInvalidTransition = errors.New("invalid import status transition")

// Import is one finalize attempt for one uploaded file.
type Import struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	AccountID     string       `json:"account_id"`
	SchemaID      string       `json:"schema_id"`
	Filename      string       `json:"filename"`
	SourceURI     string       `json:"source_uri,omitempty"`
	Status        ImportStatus `json:"status"`
	TotalRows     int          `json:"total_rows"`
	ProcessedRows int          `json:"processed_rows"`
	ImportedRows  int          `json:"imported_rows"`
	DuplicateRows int          `json:"duplicate_rows"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ImportStats are derived from the counters and never stored.
type ImportStats struct {
	SuccessRate float64 `json:"success_rate"`
	ErrorRows   int     `json:"error_rows"`
}

// IsTerminal reports whether the import can no longer change state.
func (i *Import) IsTerminal() bool {
	return i.Status == ImportStatusCompleted || i.Status == ImportStatusFailed
}

// MarkAsStarted moves a pending import to processing.
func (i *Import) MarkAsStarted(now time.Time) error {
	if i.Status != ImportStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, ImportStatusProcessing)
	}
	i.Status = ImportStatusProcessing
	i.StartedAt = &now
	return nil
}

// MarkAsCompleted moves a processing import to completed.
func (i *Import) MarkAsCompleted(now time.Time) error {
	if i.Status != ImportStatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, ImportStatusCompleted)
	}
	i.Status = ImportStatusCompleted
	i.CompletedAt = &now
	i.ErrorMessage = ""
	return nil
}

// MarkAsFailed records reason and moves a non-terminal import to failed.
func (i *Import) MarkAsFailed(reason string, now time.Time) error {
	if i.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, ImportStatusFailed)
	}
	if len(reason) > maxErrorMessageLen {
		reason = reason[:maxErrorMessageLen]
	}
	i.Status = ImportStatusFailed
	i.ErrorMessage = reason
	i.CompletedAt = &now
	return nil
}

// Stats returns the percentage of processed rows that were imported (two
// decimals, 0 when nothing was processed) and the rows never processed.
func (i *Import) Stats() ImportStats {
	stats := ImportStats{}
	if i.ProcessedRows > 0 {
		rate := float64(i.ImportedRows) / float64(i.ProcessedRows) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	if errRows := i.TotalRows - i.ProcessedRows; errRows > 0 {
		stats.ErrorRows = errRows
	}
	return stats
}
