package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// HashLookup is the read side of the transaction store the detector needs.
type HashLookup interface {
	HashExists(ctx context.Context, userID, hash string) (bool, error)
	ExistingHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error)
}

// DuplicateDetector checks candidates against committed transactions only.
// Two candidates in the same batch with the same hash are not compared with
// each other.
type DuplicateDetector struct {
	lookup HashLookup
}

// NewDuplicateDetector creates a detector over lookup.
func NewDuplicateDetector(lookup HashLookup) *DuplicateDetector {
	return &DuplicateDetector{lookup: lookup}
}

// Exists reports whether the user already has a transaction with hash.
func (d *DuplicateDetector) Exists(ctx context.Context, userID, hash string) (bool, error) {
	exists, err := d.lookup.HashExists(ctx, userID, hash)
	if err != nil {
		return false, fmt.Errorf("DuplicateDetector.Exists: %w", err)
	}
	return exists, nil
}

// Flag sets IsDuplicate on every candidate whose hash is already committed
// and returns how many were flagged. It issues a single lookup.
func (d *DuplicateDetector) Flag(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	hashes := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c.UniqueHash] {
			seen[c.UniqueHash] = true
			hashes = append(hashes, c.UniqueHash)
		}
	}

	existing, err := d.lookup.ExistingHashes(ctx, userID, hashes)
	if err != nil {
		return 0, fmt.Errorf("DuplicateDetector.Flag: %w", err)
	}

	flagged := 0
	for _, c := range candidates {
		c.IsDuplicate = existing[c.UniqueHash]
		if c.IsDuplicate {
			flagged++
		}
	}
	return flagged, nil
}
