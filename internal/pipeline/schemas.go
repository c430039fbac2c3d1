package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/schema"
)

// ValidateSchema checks cs without storing it. Problems are returned as
// schema.ValidationErrors.
func ValidateSchema(cs *domain.CsvSchema) error {
	var errs schema.ValidationErrors
	cs.Name = strings.TrimSpace(cs.Name)
	if cs.Name == "" {
		errs = append(errs, schema.FieldError{Field: "name", Message: "is required"})
	}
	var verrs schema.ValidationErrors
	if err := schema.Validate(cs); errors.As(err, &verrs) {
		errs = append(errs, verrs...)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CreateSchema validates cs and stores it as a new schema.
func (im *Importer) CreateSchema(ctx context.Context, cs *domain.CsvSchema) error {
	if err := ValidateSchema(cs); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}
	cs.ID = uuid.NewString()
	if err := im.store.CreateSchema(ctx, cs); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("schema_id", cs.ID).Str("name", cs.Name).Msg("Created schema")
	return nil
}

// UpdateSchema validates cs and replaces the stored mapping with the same ID.
func (im *Importer) UpdateSchema(ctx context.Context, cs *domain.CsvSchema) error {
	if err := ValidateSchema(cs); err != nil {
		return fmt.Errorf("UpdateSchema: %w", err)
	}
	if err := im.store.UpdateSchema(ctx, cs); err != nil {
		return fmt.Errorf("UpdateSchema: %w", err)
	}
	return nil
}

func (im *Importer) GetSchema(ctx context.Context, userID, id string) (*domain.CsvSchema, error) {
	cs, err := im.store.GetSchema(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("GetSchema: %w", err)
	}
	return cs, nil
}

func (im *Importer) ListSchemas(ctx context.Context, userID string) ([]*domain.CsvSchema, error) {
	list, err := im.store.ListSchemas(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListSchemas: %w", err)
	}
	return list, nil
}

// CloneSchema copies one of the user's schemas under name. An empty name
// becomes "<original> (copy)".
func (im *Importer) CloneSchema(ctx context.Context, userID, id, name string) (*domain.CsvSchema, error) {
	src, err := im.store.GetSchema(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("CloneSchema: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = src.Name + " (copy)"
	}
	clone := src.Clone(name)
	if err := im.CreateSchema(ctx, clone); err != nil {
		return nil, fmt.Errorf("CloneSchema: %w", err)
	}
	return clone, nil
}

// DeleteSchema removes a schema. It fails with store.ErrSchemaInUse while
// any import still references it.
func (im *Importer) DeleteSchema(ctx context.Context, userID, id string) error {
	if err := im.store.DeleteSchema(ctx, userID, id); err != nil {
		return fmt.Errorf("DeleteSchema: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("schema_id", id).Msg("Deleted schema")
	return nil
}

// CreateTag adds a tag for userID. Names are trimmed and must be non-empty.
func (im *Importer) CreateTag(ctx context.Context, userID, name string) (*domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("CreateTag: %w", schema.ValidationErrors{{Field: "name", Message: "is required"}})
	}
	tag := &domain.Tag{ID: uuid.NewString(), UserID: userID, Name: name, CreatedAt: im.now()}
	if err := im.store.CreateTag(ctx, tag); err != nil {
		return nil, fmt.Errorf("CreateTag: %w", err)
	}
	return tag, nil
}

func (im *Importer) ListTags(ctx context.Context, userID string) ([]*domain.Tag, error) {
	tags, err := im.store.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListTags: %w", err)
	}
	return tags, nil
}
