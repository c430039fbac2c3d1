package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/schema"
	"github.com/dvloznov/statement-importer/internal/store"
)

func TestValidateSchema(t *testing.T) {
	err := pipeline.ValidateSchema(&domain.CsvSchema{Name: "  "})

	var verrs schema.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}
	fields := map[string]bool{}
	for _, fe := range verrs {
		fields[fe.Field] = true
	}
	for _, want := range []string{"name", "transaction_data_start", "date_column", "balance_column", "amount_column"} {
		if !fields[want] {
			t.Errorf("missing error for %s in %v", want, verrs)
		}
	}
}

func TestImporter_SchemaLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	im := pipeline.NewImporter(s)

	cs := &domain.CsvSchema{
		UserID:               "user-1",
		Name:                 " Monzo ",
		TransactionDataStart: 2,
		DateColumn:           domain.IndexColumn(1),
		AmountColumn:         domain.IndexColumn(3),
		BalanceColumn:        domain.IndexColumn(4),
		DescriptionColumn:    domain.IndexColumn(2),
	}
	if err := im.CreateSchema(ctx, cs); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	if cs.ID == "" || cs.Name != "Monzo" {
		t.Errorf("created schema = %+v", cs)
	}

	if err := im.CreateSchema(ctx, &domain.CsvSchema{UserID: "user-1", Name: "bad"}); err == nil {
		t.Error("CreateSchema stored an invalid schema")
	}

	clone, err := im.CloneSchema(ctx, "user-1", cs.ID, "")
	if err != nil {
		t.Fatalf("CloneSchema: %v", err)
	}
	if clone.ID == cs.ID || clone.Name != "Monzo (copy)" || clone.AmountColumn.String() != cs.AmountColumn.String() {
		t.Errorf("clone = %+v", clone)
	}
	if _, err := im.CloneSchema(ctx, "user-1", cs.ID, "Monzo"); !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("clone onto existing name = %v, want ErrDuplicateName", err)
	}
	if _, err := im.CloneSchema(ctx, "user-2", cs.ID, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("clone of other user's schema = %v, want ErrNotFound", err)
	}

	clone.DateFormat = "d/m/Y"
	if err := im.UpdateSchema(ctx, clone); err != nil {
		t.Fatalf("UpdateSchema: %v", err)
	}
	got, err := im.GetSchema(ctx, "user-1", clone.ID)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if got.DateFormat != "d/m/Y" {
		t.Errorf("DateFormat = %q", got.DateFormat)
	}

	list, err := im.ListSchemas(ctx, "user-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListSchemas = %d, %v", len(list), err)
	}

	if err := im.DeleteSchema(ctx, "user-1", clone.ID); err != nil {
		t.Fatalf("DeleteSchema: %v", err)
	}
	if _, err := im.GetSchema(ctx, "user-1", clone.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSchema after delete = %v, want ErrNotFound", err)
	}
}

func TestImporter_DeleteSchemaInUse(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cs := barclaysSchema(t, s)
	im := pipeline.NewImporter(s)

	res, err := im.PreviewTransactions(ctx, upload(statement), cs, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := im.ImportReviewedTransactions(ctx, finalizeRequest(cs, res)); err != nil {
		t.Fatal(err)
	}

	if err := im.DeleteSchema(ctx, "user-1", cs.ID); !errors.Is(err, store.ErrSchemaInUse) {
		t.Errorf("DeleteSchema = %v, want ErrSchemaInUse", err)
	}
}

func TestImporter_Tags(t *testing.T) {
	ctx := context.Background()
	im := pipeline.NewImporter(openStore(t))

	if _, err := im.CreateTag(ctx, "user-1", " "); err == nil {
		t.Error("CreateTag accepted a blank name")
	}
	tag, err := im.CreateTag(ctx, "user-1", " Groceries ")
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if tag.Name != "Groceries" || tag.ID == "" {
		t.Errorf("tag = %+v", tag)
	}
	if _, err := im.CreateTag(ctx, "user-1", "Groceries"); !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("duplicate tag = %v, want ErrDuplicateName", err)
	}

	tags, err := im.ListTags(ctx, "user-1")
	if err != nil || len(tags) != 1 {
		t.Fatalf("ListTags = %d, %v", len(tags), err)
	}
	if others, _ := im.ListTags(ctx, "user-2"); len(others) != 0 {
		t.Errorf("user-2 sees %d tags", len(others))
	}
}
