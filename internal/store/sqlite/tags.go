package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		tag.ID, tag.UserID, tag.Name, formatTime(tag.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("CreateTag: %q: %w", tag.Name, store.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("CreateTag: %w", err)
	}
	return nil
}

// ListTags returns the user's tags ordered by name.
func (s *Store) ListTags(ctx context.Context, userID string) ([]*domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM tags WHERE user_id = ? ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListTags: query: %w", err)
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		var (
			t         domain.Tag
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("ListTags: scan: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListTags: created_at: %w", err)
		}
		tags = append(tags, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTags: rows: %w", err)
	}
	return tags, nil
}

// OwnedTagIDs implements store.TagRepository.
func (s *Store) OwnedTagIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	owned := make(map[string]bool)
	if len(ids) == 0 {
		return owned, nil
	}
	err := queryIn(ctx, s.db,
		`SELECT id FROM tags WHERE user_id = ? AND id IN (%s)`,
		[]any{userID}, ids,
		func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			owned[id] = true
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("OwnedTagIDs: %w", err)
	}
	return owned, nil
}
