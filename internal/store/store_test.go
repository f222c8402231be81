package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mypocket/pocketsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-pocket.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTransaction(userID string) *model.Transaction {
	return &model.Transaction{
		UserID:      userID,
		Kind:        model.KindExpense,
		Amount:      42.50,
		Category:    "food",
		Description: "Groceries",
		Date:        time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	has, err := s.HasUserData(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("HasUserData after open: %v", err)
	}
	if has {
		t.Error("expected no data after open")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pocket.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := s1.AddTransaction(context.Background(), sampleTransaction("user-1")); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	has, err := s2.HasUserData(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("HasUserData after reopen: %v", err)
	}
	if !has {
		t.Error("expected data to survive reopen")
	}
}

func TestClose_ReturnsErrClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pocket.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.GetTransactions(context.Background(), "user-1", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestAddTransaction_AssignsIDAndEnqueues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddTransaction(ctx, sampleTransaction("user-1"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if id == "" {
		t.Fatal("AddTransaction returned empty id")
	}

	got, err := s.GetTransactionByID(ctx, id, "user-1")
	if err != nil {
		t.Fatalf("GetTransactionByID: %v", err)
	}
	if got == nil {
		t.Fatal("inserted transaction not found")
	}
	if got.SyncStatus != model.SyncPending {
		t.Errorf("SyncStatus = %q, want pending", got.SyncStatus)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped on insert")
	}

	items, err := s.GetPendingSyncItems(ctx)
	if err != nil {
		t.Fatalf("GetPendingSyncItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(items))
	}
	if items[0].Operation != model.OpCreate {
		t.Errorf("queued operation = %q, want create", items[0].Operation)
	}
	if items[0].RecordID != id {
		t.Errorf("queued recordId = %q, want %q", items[0].RecordID, id)
	}
}

func TestAddTransaction_RequiresUser(t *testing.T) {
	s := openTestStore(t)
	tx := sampleTransaction("")
	if _, err := s.AddTransaction(context.Background(), tx); err == nil {
		t.Fatal("expected error for missing user id, got nil")
	}
}

func TestGetTransactions_UserIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddTransaction(ctx, sampleTransaction("alice")); err != nil {
		t.Fatalf("AddTransaction alice: %v", err)
	}
	if _, err := s.AddTransaction(ctx, sampleTransaction("alice")); err != nil {
		t.Fatalf("AddTransaction alice: %v", err)
	}
	if _, err := s.AddTransaction(ctx, sampleTransaction("bob")); err != nil {
		t.Fatalf("AddTransaction bob: %v", err)
	}

	alice, err := s.GetTransactions(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("GetTransactions(alice): %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("alice rows = %d, want 2", len(alice))
	}
	bob, err := s.GetTransactions(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("GetTransactions(bob): %v", err)
	}
	if len(bob) != 1 {
		t.Errorf("bob rows = %d, want 1", len(bob))
	}
	for _, tx := range alice {
		if tx.UserID != "alice" {
			t.Errorf("alice result contains row owned by %q", tx.UserID)
		}
	}
}

func TestGetTransactions_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, day := range []int{3, 1, 2} {
		tx := sampleTransaction("user-1")
		tx.Date = time.Date(2026, 8, day, 0, 0, 0, 0, time.UTC)
		tx.Description = []string{"newest", "oldest", "middle"}[i]
		if _, err := s.AddTransaction(ctx, tx); err != nil {
			t.Fatalf("AddTransaction: %v", err)
		}
	}

	got, err := s.GetTransactions(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Description != "newest" || got[1].Description != "middle" {
		t.Errorf("order = [%s, %s], want [newest, middle]", got[0].Description, got[1].Description)
	}

	// limit <= 0 means the full set.
	all, err := s.GetTransactions(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("GetTransactions(unlimited): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unlimited rows = %d, want 3", len(all))
	}
}

func TestGetTransactions_SubSecondOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A whole-second instant and a later sub-second one inside the same
	// second. The text ordering must still match the chronological one.
	whole := time.Date(2026, 8, 15, 12, 0, 5, 0, time.UTC)
	later := whole.Add(300 * time.Millisecond)

	first := sampleTransaction("user-1")
	first.Date = whole
	first.Description = "whole second"
	if _, err := s.AddTransaction(ctx, first); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	second := sampleTransaction("user-1")
	second.Date = later
	second.Description = "sub second"
	if _, err := s.AddTransaction(ctx, second); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	got, err := s.GetTransactions(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Description != "sub second" || got[1].Description != "whole second" {
		t.Errorf("order = [%s, %s], want [sub second, whole second]",
			got[0].Description, got[1].Description)
	}
}

func TestGetTransactionByID_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetTransactionByID(context.Background(), "does-not-exist", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing transaction, got %+v", got)
	}
}

func TestGetTransactionByID_WrongUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddTransaction(ctx, sampleTransaction("alice"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	got, err := s.GetTransactionByID(ctx, id, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil when reading another user's transaction")
	}
}

func TestUpdateTransaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddTransaction(ctx, sampleTransaction("user-1"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := s.UpdateTransactionSyncStatus(ctx, id, model.SyncSynced); err != nil {
		t.Fatalf("UpdateTransactionSyncStatus: %v", err)
	}

	patch := sampleTransaction("user-1")
	patch.Amount = 99.99
	patch.Description = "Updated groceries"
	if err := s.UpdateTransaction(ctx, id, "user-1", patch); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}

	got, err := s.GetTransactionByID(ctx, id, "user-1")
	if err != nil {
		t.Fatalf("GetTransactionByID: %v", err)
	}
	if got.Amount != 99.99 {
		t.Errorf("Amount = %v, want 99.99", got.Amount)
	}
	if got.Description != "Updated groceries" {
		t.Errorf("Description = %q, want %q", got.Description, "Updated groceries")
	}
	// An edited row goes back to pending until the queue drains.
	if got.SyncStatus != model.SyncPending {
		t.Errorf("SyncStatus = %q, want pending after update", got.SyncStatus)
	}
}

func TestUpdateTransaction_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateTransaction(context.Background(), "missing", "user-1", sampleTransaction("user-1"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTransaction_WrongUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddTransaction(ctx, sampleTransaction("alice"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	err = s.UpdateTransaction(ctx, id, "bob", sampleTransaction("bob"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for cross-user update, got %v", err)
	}
}

func TestDeleteTransaction_SoftDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddTransaction(ctx, sampleTransaction("user-1"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := s.DeleteTransaction(ctx, id, "user-1"); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}

	// Deleted rows disappear from every read path.
	got, err := s.GetTransactionByID(ctx, id, "user-1")
	if err != nil {
		t.Fatalf("GetTransactionByID: %v", err)
	}
	if got != nil {
		t.Error("soft-deleted transaction still visible by id")
	}
	all, err := s.GetTransactions(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("soft-deleted transaction still listed, rows = %d", len(all))
	}
	has, err := s.HasUserData(ctx, "user-1")
	if err != nil {
		t.Fatalf("HasUserData: %v", err)
	}
	if has {
		t.Error("HasUserData counts soft-deleted rows")
	}
}

func TestBatchInsertTransactions_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []*model.Transaction{
		{ID: "r1", UserID: "user-1", Kind: model.KindIncome, Amount: 100, Category: "salary",
			Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		{ID: "r2", UserID: "user-1", Kind: model.KindExpense, Amount: 25, Category: "food",
			Date: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
	}
	if err := s.BatchInsertTransactions(ctx, records); err != nil {
		t.Fatalf("first BatchInsertTransactions: %v", err)
	}
	// Replaying the same batch must not duplicate rows.
	if err := s.BatchInsertTransactions(ctx, records); err != nil {
		t.Fatalf("second BatchInsertTransactions: %v", err)
	}

	all, err := s.GetTransactions(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("rows = %d, want 2", len(all))
	}
	for _, tx := range all {
		if tx.SyncStatus != model.SyncSynced {
			t.Errorf("hydrated row %q has status %q, want synced", tx.ID, tx.SyncStatus)
		}
	}

	// Hydration must not touch the queue.
	items, err := s.GetPendingSyncItems(ctx)
	if err != nil {
		t.Fatalf("GetPendingSyncItems: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("hydration enqueued %d items, want 0", len(items))
	}
}

func TestLastSyncTime_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// No watermark yet → zero time, no error.
	got, err := s.GetLastSyncTime(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetLastSyncTime: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero watermark, got %v", got)
	}

	ts := time.Date(2026, 8, 20, 14, 30, 0, 123456789, time.UTC)
	if err := s.UpdateLastSyncTime(ctx, "user-1", ts); err != nil {
		t.Fatalf("UpdateLastSyncTime: %v", err)
	}
	got, err = s.GetLastSyncTime(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetLastSyncTime: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("watermark = %v, want %v", got, ts)
	}

	// Watermarks are per user.
	other, err := s.GetLastSyncTime(ctx, "user-2")
	if err != nil {
		t.Fatalf("GetLastSyncTime(user-2): %v", err)
	}
	if !other.IsZero() {
		t.Errorf("user-2 watermark = %v, want zero", other)
	}
}

func TestClearUserData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddTransaction(ctx, sampleTransaction("alice")); err != nil {
		t.Fatalf("AddTransaction alice: %v", err)
	}
	if _, err := s.AddTransaction(ctx, sampleTransaction("bob")); err != nil {
		t.Fatalf("AddTransaction bob: %v", err)
	}
	if err := s.UpdateLastSyncTime(ctx, "alice", time.Now().UTC()); err != nil {
		t.Fatalf("UpdateLastSyncTime: %v", err)
	}

	if err := s.ClearUserData(ctx, "alice"); err != nil {
		t.Fatalf("ClearUserData: %v", err)
	}

	has, err := s.HasUserData(ctx, "alice")
	if err != nil {
		t.Fatalf("HasUserData(alice): %v", err)
	}
	if has {
		t.Error("alice data survived purge")
	}
	wm, err := s.GetLastSyncTime(ctx, "alice")
	if err != nil {
		t.Fatalf("GetLastSyncTime(alice): %v", err)
	}
	if !wm.IsZero() {
		t.Error("alice watermark survived purge")
	}

	// Bob is untouched, queue entry included.
	has, err = s.HasUserData(ctx, "bob")
	if err != nil {
		t.Fatalf("HasUserData(bob): %v", err)
	}
	if !has {
		t.Error("bob data was removed by alice's purge")
	}
	items, err := s.GetPendingSyncItems(ctx)
	if err != nil {
		t.Fatalf("GetPendingSyncItems: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("queue depth after purge = %d, want 1 (bob's create)", len(items))
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Sub-millisecond precision must survive the text round trip.
	ts := time.Date(2026, 2, 17, 14, 30, 0, 123456789, time.UTC)
	tx := sampleTransaction("user-1")
	tx.Date = ts
	tx.CreatedAt = ts
	id, err := s.AddTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	got, err := s.GetTransactionByID(ctx, id, "user-1")
	if err != nil {
		t.Fatalf("GetTransactionByID: %v", err)
	}
	if !got.Date.Equal(ts) {
		t.Errorf("Date = %v, want %v", got.Date, ts)
	}
	if !got.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, ts)
	}
}

func TestDefaultDBPath(t *testing.T) {
	path, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if path == "" {
		t.Error("DefaultDBPath returned empty string")
	}
}
