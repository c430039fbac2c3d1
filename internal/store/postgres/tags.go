package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
)

// CreateTag inserts tag, assigning an ID when empty.
func (s *Store) CreateTag(ctx context.Context, tag *domain.Tag) error {
	if tag.ID == "" {
		tag.ID = uuid.NewString()
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tags (id, user_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		tag.ID, tag.UserID, tag.Name, tag.CreatedAt,
	)
	if isCode(err, codeUniqueViolation) {
		return fmt.Errorf("CreateTag: %q: %w", tag.Name, store.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("CreateTag: %w", err)
	}
	return nil
}

// ListTags returns the user's tags ordered by name.
func (s *Store) ListTags(ctx context.Context, userID string) ([]*domain.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, created_at FROM tags WHERE user_id = $1 ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListTags: query: %w", err)
	}
	tags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Tag, error) {
		var t domain.Tag
		err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.CreatedAt)
		return &t, err
	})
	if err != nil {
		return nil, fmt.Errorf("ListTags: scan: %w", err)
	}
	return tags, nil
}

// OwnedTagIDs implements store.TagRepository.
func (s *Store) OwnedTagIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	owned := make(map[string]bool)
	if len(ids) == 0 {
		return owned, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM tags WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("OwnedTagIDs: query: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("OwnedTagIDs: scan: %w", err)
	}
	for _, id := range found {
		owned[id] = true
	}
	return owned, nil
}
