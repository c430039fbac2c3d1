// Package storetest holds behaviour checks every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/store"
)

// Factory returns a migrated, empty store. The caller closes it via
// t.Cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SchemaCRUD", func(t *testing.T) { testSchemaCRUD(t, newStore(t)) })
	t.Run("SchemaInUse", func(t *testing.T) { testSchemaInUse(t, newStore(t)) })
	t.Run("ImportLifecycle", func(t *testing.T) { testImportLifecycle(t, newStore(t)) })
	t.Run("InsertIfAbsent", func(t *testing.T) { testInsertIfAbsent(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Tags", func(t *testing.T) { testTags(t, newStore(t)) })
	t.Run("DeleteImportCascades", func(t *testing.T) { testDeleteImport(t, newStore(t)) })
	t.Run("LargeLookups", func(t *testing.T) { testLargeLookups(t, newStore(t)) })
}

func int64Ptr(v int64) *int64 { return &v }

func newSchema(userID, name string) *domain.CsvSchema {
	return &domain.CsvSchema{
		UserID:               userID,
		Name:                 name,
		TransactionDataStart: 2,
		DateColumn:           domain.IndexColumn(1),
		BalanceColumn:        domain.LetterColumn("E"),
		PaidInColumn:         domain.IndexColumn(3),
		PaidOutColumn:        domain.IndexColumn(4),
		DescriptionColumn:    domain.IndexColumn(2),
		DateFormat:           "d/m/Y",
	}
}

func newImport(t *testing.T, s store.Store, userID, schemaID string) *domain.Import {
	t.Helper()
	imp := &domain.Import{
		UserID:    userID,
		AccountID: "acct-1",
		SchemaID:  schemaID,
		Filename:  "statement.csv",
		Status:    domain.ImportStatusPending,
		TotalRows: 3,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateImport(context.Background(), imp); err != nil {
		t.Fatalf("CreateImport: %v", err)
	}
	return imp
}

func newTransaction(imp *domain.Import, date, hash string) *domain.Transaction {
	return &domain.Transaction{
		UserID:      imp.UserID,
		AccountID:   imp.AccountID,
		ImportID:    imp.ID,
		Date:        date,
		Balance:     int64Ptr(10050),
		PaidOut:     int64Ptr(2500),
		Description: "Coffee",
		UniqueHash:  hash,
	}
}

func testSchemaCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()

	cs := newSchema("user-1", "Barclays")
	if err := s.CreateSchema(ctx, cs); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	if cs.ID == "" {
		t.Fatal("CreateSchema did not assign an ID")
	}

	dup := newSchema("user-1", "Barclays")
	if err := s.CreateSchema(ctx, dup); !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("CreateSchema duplicate = %v, want ErrDuplicateName", err)
	}
	if err := s.CreateSchema(ctx, newSchema("user-2", "Barclays")); err != nil {
		t.Errorf("CreateSchema for another user: %v", err)
	}

	got, err := s.GetSchema(ctx, "user-1", cs.ID)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if got.DateColumn.Index() != 1 || got.BalanceColumn.Letter() != 'E' {
		t.Errorf("GetSchema columns = %v/%v, want 1/E", got.DateColumn, got.BalanceColumn)
	}
	if got.AmountColumn.IsSet() {
		t.Errorf("GetSchema amount column = %v, want unset", got.AmountColumn)
	}
	if got.DateFormat != "d/m/Y" {
		t.Errorf("GetSchema date format = %q", got.DateFormat)
	}

	if _, err := s.GetSchema(ctx, "user-2", cs.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSchema other user = %v, want ErrNotFound", err)
	}

	got.AmountColumn = domain.IndexColumn(6)
	got.Name = "Barclays current"
	if err := s.UpdateSchema(ctx, got); err != nil {
		t.Fatalf("UpdateSchema: %v", err)
	}
	list, err := s.ListSchemas(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSchemas: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Barclays current" || list[0].AmountColumn.Index() != 6 {
		t.Errorf("ListSchemas = %+v", list)
	}

	if err := s.DeleteSchema(ctx, "user-1", cs.ID); err != nil {
		t.Fatalf("DeleteSchema: %v", err)
	}
	if err := s.DeleteSchema(ctx, "user-1", cs.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteSchema twice = %v, want ErrNotFound", err)
	}
}

func testSchemaInUse(t *testing.T, s store.Store) {
	ctx := context.Background()
	cs := newSchema("user-1", "HSBC")
	if err := s.CreateSchema(ctx, cs); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	newImport(t, s, "user-1", cs.ID)

	if err := s.DeleteSchema(ctx, "user-1", cs.ID); !errors.Is(err, store.ErrSchemaInUse) {
		t.Errorf("DeleteSchema = %v, want ErrSchemaInUse", err)
	}
	if err := s.DeleteSchema(ctx, "user-2", cs.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteSchema by another user = %v, want ErrNotFound", err)
	}
}

func testImportLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	imp := newImport(t, s, "user-1", "")

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := imp.MarkAsStarted(now); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateImport(ctx, imp); err != nil {
		t.Fatalf("UpdateImport: %v", err)
	}

	got, err := s.GetImport(ctx, "user-1", imp.ID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	if got.Status != domain.ImportStatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, now)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", got.CompletedAt)
	}

	second := newImport(t, s, "user-1", "")
	if err := second.MarkAsFailed("boom", now); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateImport(ctx, second); err != nil {
		t.Fatalf("UpdateImport: %v", err)
	}
	newImport(t, s, "user-2", "")

	all, err := s.ListImports(ctx, "user-1", store.ImportFilter{})
	if err != nil {
		t.Fatalf("ListImports: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListImports returned %d imports, want 2", len(all))
	}
	if all[0].ID != second.ID {
		t.Errorf("ListImports not newest first: %s, %s", all[0].ID, all[1].ID)
	}

	failed, err := s.ListImports(ctx, "user-1", store.ImportFilter{Status: domain.ImportStatusFailed})
	if err != nil {
		t.Fatalf("ListImports: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "boom" {
		t.Errorf("ListImports(failed) = %+v", failed)
	}

	page, err := s.ListImports(ctx, "user-1", store.ImportFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListImports: %v", err)
	}
	if len(page) != 1 || page[0].ID != imp.ID {
		t.Errorf("ListImports(limit 1, offset 1) = %+v", page)
	}

	missing := &domain.Import{ID: "missing", UserID: "user-1", Status: domain.ImportStatusFailed}
	if err := s.UpdateImport(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateImport missing = %v, want ErrNotFound", err)
	}
}

func testInsertIfAbsent(t *testing.T, s store.Store) {
	ctx := context.Background()
	imp := newImport(t, s, "user-1", "")

	var outcomes []store.InsertOutcome
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, hash := range []string{"h1", "h2", "h1"} {
			out, err := tx.InsertIfAbsent(ctx, newTransaction(imp, "2024-01-15", hash))
			if err != nil {
				return err
			}
			outcomes = append(outcomes, out)
		}
		exists, err := tx.HashExists(ctx, "user-1", "h2")
		if err != nil {
			return err
		}
		if !exists {
			t.Error("HashExists inside tx = false, want true")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	want := []store.InsertOutcome{store.Inserted, store.Inserted, store.Conflict}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %v, want %v", i, outcomes[i], want[i])
		}
	}

	found, err := s.ExistingHashes(ctx, "user-1", []string{"h1", "h2", "h3"})
	if err != nil {
		t.Fatalf("ExistingHashes: %v", err)
	}
	if !found["h1"] || !found["h2"] || found["h3"] {
		t.Errorf("ExistingHashes = %v", found)
	}
	other, err := s.ExistingHashes(ctx, "user-2", []string{"h1"})
	if err != nil {
		t.Fatalf("ExistingHashes: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ExistingHashes leaked across users: %v", other)
	}

	txs, err := s.ListTransactionsByImport(ctx, "user-1", imp.ID)
	if err != nil {
		t.Fatalf("ListTransactionsByImport: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	first := txs[0]
	if first.Date != "2024-01-15" || first.Balance == nil || *first.Balance != 10050 {
		t.Errorf("transaction = %+v", first)
	}
	if first.PaidIn != nil {
		t.Errorf("paid_in = %v, want nil", *first.PaidIn)
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	imp := newImport(t, s, "user-1", "")
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.InsertIfAbsent(ctx, newTransaction(imp, "2024-02-01", "r1")); err != nil {
			return err
		}
		imp.ImportedRows = 1
		if err := tx.UpdateImport(ctx, imp); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx = %v, want boom", err)
	}

	exists, err := s.HashExists(ctx, "user-1", "r1")
	if err != nil {
		t.Fatalf("HashExists: %v", err)
	}
	if exists {
		t.Error("transaction survived rollback")
	}
	got, err := s.GetImport(ctx, "user-1", imp.ID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	if got.ImportedRows != 0 {
		t.Errorf("imported_rows = %d after rollback, want 0", got.ImportedRows)
	}
}

func testTags(t *testing.T, s store.Store) {
	ctx := context.Background()
	groceries := &domain.Tag{UserID: "user-1", Name: "groceries"}
	travel := &domain.Tag{UserID: "user-1", Name: "travel"}
	foreign := &domain.Tag{UserID: "user-2", Name: "groceries"}
	for _, tag := range []*domain.Tag{groceries, travel, foreign} {
		if err := s.CreateTag(ctx, tag); err != nil {
			t.Fatalf("CreateTag(%s): %v", tag.Name, err)
		}
	}
	if err := s.CreateTag(ctx, &domain.Tag{UserID: "user-1", Name: "travel"}); !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("CreateTag duplicate = %v, want ErrDuplicateName", err)
	}

	tags, err := s.ListTags(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "groceries" {
		t.Errorf("ListTags = %+v", tags)
	}

	owned, err := s.OwnedTagIDs(ctx, "user-1", []string{groceries.ID, foreign.ID, "nope"})
	if err != nil {
		t.Fatalf("OwnedTagIDs: %v", err)
	}
	if !owned[groceries.ID] || owned[foreign.ID] || owned["nope"] {
		t.Errorf("OwnedTagIDs = %v", owned)
	}

	imp := newImport(t, s, "user-1", "")
	tx := newTransaction(imp, "2024-03-03", "t1")
	err = s.WithinTx(ctx, func(ctx context.Context, w store.Tx) error {
		if _, err := w.InsertIfAbsent(ctx, tx); err != nil {
			return err
		}
		return w.AttachTags(ctx, tx.ID, []string{travel.ID, groceries.ID, travel.ID})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	txs, err := s.ListTransactionsByImport(ctx, "user-1", imp.ID)
	if err != nil {
		t.Fatalf("ListTransactionsByImport: %v", err)
	}
	if len(txs) != 1 || len(txs[0].Tags) != 2 {
		t.Fatalf("transactions = %+v", txs)
	}
}

func testDeleteImport(t *testing.T, s store.Store) {
	ctx := context.Background()
	imp := newImport(t, s, "user-1", "")
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertIfAbsent(ctx, newTransaction(imp, "2024-04-04", "d1"))
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	if err := s.DeleteImport(ctx, "user-2", imp.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteImport other user = %v, want ErrNotFound", err)
	}
	if err := s.DeleteImport(ctx, "user-1", imp.ID); err != nil {
		t.Fatalf("DeleteImport: %v", err)
	}
	if _, err := s.GetImport(ctx, "user-1", imp.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetImport after delete = %v, want ErrNotFound", err)
	}
	exists, err := s.HashExists(ctx, "user-1", "d1")
	if err != nil {
		t.Fatalf("HashExists: %v", err)
	}
	if exists {
		t.Error("transaction survived import deletion")
	}
}

// testLargeLookups covers batches larger than SQLite's bound-variable limit.
func testLargeLookups(t *testing.T, s store.Store) {
	ctx := context.Background()
	const (
		stored  = 600
		lookups = 40000
	)

	tag := &domain.Tag{UserID: "user-1", Name: "bulk"}
	if err := s.CreateTag(ctx, tag); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	imp := newImport(t, s, "user-1", "")
	err := s.WithinTx(ctx, func(ctx context.Context, w store.Tx) error {
		for i := 0; i < stored; i++ {
			tx := newTransaction(imp, "2024-01-02", fmt.Sprintf("hash-%05d", i))
			if _, err := w.InsertIfAbsent(ctx, tx); err != nil {
				return err
			}
			if i%2 == 0 {
				if err := w.AttachTags(ctx, tx.ID, []string{tag.ID}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	hashes := make([]string, lookups)
	ids := make([]string, lookups)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("hash-%05d", i)
		ids[i] = fmt.Sprintf("tag-%05d", i)
	}
	ids[lookups-1] = tag.ID

	found, err := s.ExistingHashes(ctx, "user-1", hashes)
	if err != nil {
		t.Fatalf("ExistingHashes: %v", err)
	}
	if len(found) != stored {
		t.Errorf("ExistingHashes found %d, want %d", len(found), stored)
	}

	owned, err := s.OwnedTagIDs(ctx, "user-1", ids)
	if err != nil {
		t.Fatalf("OwnedTagIDs: %v", err)
	}
	if len(owned) != 1 || !owned[tag.ID] {
		t.Errorf("OwnedTagIDs = %d ids, want only %s", len(owned), tag.ID)
	}

	txs, err := s.ListTransactionsByImport(ctx, "user-1", imp.ID)
	if err != nil {
		t.Fatalf("ListTransactionsByImport: %v", err)
	}
	tagged := 0
	for _, tx := range txs {
		tagged += len(tx.Tags)
	}
	if len(txs) != stored || tagged != stored/2 {
		t.Errorf("ListTransactionsByImport = %d transactions, %d tags, want %d, %d", len(txs), tagged, stored, stored/2)
	}
}
