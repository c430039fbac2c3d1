// Package tagging suggests tags for previewed transactions, either from
// user-maintained rules or from a Gemini model.
package tagging

import (
	"context"
	"errors"
	"strings"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// Suggester adds tag ids to candidates in place.
type Suggester interface {
	SuggestTags(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) error
}

// TagLister is the read side of the tag store.
type TagLister interface {
	ListTags(ctx context.Context, userID string) ([]*domain.Tag, error)
}

// Chain runs every suggester in order. A failing suggester does not stop
// the ones after it; the errors are joined.
type Chain []Suggester

func (c Chain) SuggestTags(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) error {
	var errs []error
	for _, s := range c {
		if err := s.SuggestTags(ctx, userID, candidates); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// tagIndex maps normalized tag names to ids for one user.
type tagIndex map[string]string

func loadTagIndex(ctx context.Context, tags TagLister, userID string) (tagIndex, error) {
	list, err := tags.ListTags(ctx, userID)
	if err != nil {
		return nil, err
	}
	idx := make(tagIndex, len(list))
	for _, t := range list {
		idx[normalizeName(t.Name)] = t.ID
	}
	return idx, nil
}

// normalizeName converts to lowercase and trims whitespace for
// case-insensitive comparison.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// addTag appends id unless the candidate already carries it.
func addTag(c *domain.TransactionCandidate, id string) {
	for _, existing := range c.Tags {
		if existing == id {
			return
		}
	}
	c.Tags = append(c.Tags, id)
}
