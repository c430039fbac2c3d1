package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// MockHashLookup is a mock implementation of HashLookup.
type MockHashLookup struct {
	HashExistsFunc     func(ctx context.Context, userID, hash string) (bool, error)
	ExistingHashesFunc func(ctx context.Context, userID string, hashes []string) (map[string]bool, error)
}

func (m *MockHashLookup) HashExists(ctx context.Context, userID, hash string) (bool, error) {
	return m.HashExistsFunc(ctx, userID, hash)
}

func (m *MockHashLookup) ExistingHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error) {
	return m.ExistingHashesFunc(ctx, userID, hashes)
}

func TestDuplicateDetector_Flag(t *testing.T) {
	var queried []string
	d := NewDuplicateDetector(&MockHashLookup{
		ExistingHashesFunc: func(ctx context.Context, userID string, hashes []string) (map[string]bool, error) {
			queried = hashes
			return map[string]bool{"old": true}, nil
		},
	})

	candidates := []*domain.TransactionCandidate{
		{UniqueHash: "old"},
		{UniqueHash: "new"},
		{UniqueHash: "new"},
	}
	n, err := d.Flag(context.Background(), "user-1", candidates)
	if err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if n != 1 {
		t.Errorf("flagged = %d, want 1", n)
	}
	if !candidates[0].IsDuplicate || candidates[1].IsDuplicate || candidates[2].IsDuplicate {
		t.Errorf("flags = %v %v %v; same-batch copies must not flag each other",
			candidates[0].IsDuplicate, candidates[1].IsDuplicate, candidates[2].IsDuplicate)
	}
	if len(queried) != 2 {
		t.Errorf("queried %v, want each hash once", queried)
	}
}

func TestDuplicateDetector_Errors(t *testing.T) {
	boom := errors.New("connection reset")
	d := NewDuplicateDetector(&MockHashLookup{
		HashExistsFunc: func(ctx context.Context, userID, hash string) (bool, error) {
			return false, boom
		},
		ExistingHashesFunc: func(ctx context.Context, userID string, hashes []string) (map[string]bool, error) {
			return nil, boom
		},
	})

	if _, err := d.Exists(context.Background(), "u", "h"); !errors.Is(err, boom) {
		t.Errorf("Exists error = %v, want %v", err, boom)
	}
	if _, err := d.Flag(context.Background(), "u", []*domain.TransactionCandidate{{UniqueHash: "h"}}); !errors.Is(err, boom) {
		t.Errorf("Flag error = %v, want %v", err, boom)
	}
	if n, err := d.Flag(context.Background(), "u", nil); n != 0 || err != nil {
		t.Errorf("Flag(nil) = %d, %v", n, err)
	}
}
