package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestImport_StateMachine(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	imp := &Import{Status: ImportStatusPending}
	if err := imp.MarkAsCompleted(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed error = %v, want ErrInvalidTransition", err)
	}

	if err := imp.MarkAsStarted(now); err != nil {
		t.Fatalf("MarkAsStarted: %v", err)
	}
	if imp.Status != ImportStatusProcessing || imp.StartedAt == nil {
		t.Fatalf("after start: status %q, started_at %v", imp.Status, imp.StartedAt)
	}
	if err := imp.MarkAsStarted(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("processing -> processing error = %v, want ErrInvalidTransition", err)
	}

	if err := imp.MarkAsCompleted(now.Add(time.Second)); err != nil {
		t.Fatalf("MarkAsCompleted: %v", err)
	}
	if imp.Status != ImportStatusCompleted || imp.CompletedAt == nil {
		t.Fatalf("after complete: status %q, completed_at %v", imp.Status, imp.CompletedAt)
	}

	for name, fn := range map[string]func() error{
		"start":    func() error { return imp.MarkAsStarted(now) },
		"complete": func() error { return imp.MarkAsCompleted(now) },
		"fail":     func() error { return imp.MarkAsFailed("boom", now) },
	} {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on completed import error = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestImport_MarkAsFailed(t *testing.T) {
	now := time.Now()

	imp := &Import{Status: ImportStatusPending}
	if err := imp.MarkAsFailed(strings.Repeat("x", 5000), now); err != nil {
		t.Fatalf("MarkAsFailed from pending: %v", err)
	}
	if imp.Status != ImportStatusFailed {
		t.Errorf("status = %q, want failed", imp.Status)
	}
	if len(imp.ErrorMessage) != maxErrorMessageLen {
		t.Errorf("error message length = %d, want %d", len(imp.ErrorMessage), maxErrorMessageLen)
	}
	if imp.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if err := imp.MarkAsFailed("again", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("failed -> failed error = %v, want ErrInvalidTransition", err)
	}
}

func TestImport_Stats(t *testing.T) {
	tests := []struct {
		name string
		imp  Import
		want ImportStats
	}{
		{
			name: "nothing processed",
			imp:  Import{TotalRows: 4},
			want: ImportStats{SuccessRate: 0, ErrorRows: 4},
		},
		{
			name: "partial duplicates",
			imp:  Import{TotalRows: 5, ProcessedRows: 3, ImportedRows: 2, DuplicateRows: 1},
			want: ImportStats{SuccessRate: 66.67, ErrorRows: 2},
		},
		{
			name: "all imported",
			imp:  Import{TotalRows: 2, ProcessedRows: 2, ImportedRows: 2},
			want: ImportStats{SuccessRate: 100, ErrorRows: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.imp.Stats(); got != tt.want {
				t.Errorf("Stats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCandidateStatus_Valid(t *testing.T) {
	for _, s := range []CandidateStatus{CandidateStatusPending, CandidateStatusApproved, CandidateStatusDiscarded, CandidateStatusDuplicate} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if CandidateStatus("imported").Valid() {
		t.Error(`"imported" should not be valid`)
	}
}
