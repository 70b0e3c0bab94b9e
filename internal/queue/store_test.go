package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fileStore, err := NewFileStore(filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("new sqlite store failed: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestEnqueueAndListOldestFirst(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			for _, content := range []string{"first", "second", "third"} {
				if _, err := store.Enqueue(ctx, content, "page_1"); err != nil {
					t.Fatalf("enqueue %q failed: %v", content, err)
				}
			}
			pending, err := store.ListByStatus(ctx, StatusPending)
			if err != nil {
				t.Fatalf("list pending failed: %v", err)
			}
			if len(pending) != 3 {
				t.Fatalf("expected 3 pending notes, got %d", len(pending))
			}
			for i, want := range []string{"first", "second", "third"} {
				if pending[i].Content != want {
					t.Fatalf("expected note %d to be %q, got %q", i, want, pending[i].Content)
				}
			}
		})
	}
}

func TestUpdateStatusRecordsFailedAttempts(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			note, err := store.Enqueue(ctx, "buy milk", "page_1")
			if err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			updated, err := store.UpdateStatus(ctx, note.ID, StatusPending, "http 500")
			if err != nil {
				t.Fatalf("update failed: %v", err)
			}
			if updated.RetryCount != 1 || updated.LastError != "http 500" {
				t.Fatalf("expected retryCount=1 lastError recorded, got %+v", updated)
			}
			updated, err = store.UpdateStatus(ctx, note.ID, StatusFailed, "http 500")
			if err != nil {
				t.Fatalf("update to failed failed: %v", err)
			}
			if updated.RetryCount != 2 || updated.Status != StatusFailed {
				t.Fatalf("expected terminal failed with retryCount=2, got %+v", updated)
			}
			failed, err := store.ListByStatus(ctx, StatusFailed)
			if err != nil || len(failed) != 1 {
				t.Fatalf("expected failed note retained, got %v (err=%v)", failed, err)
			}
			if failed[0].Content != "buy milk" {
				t.Fatalf("expected failed note to retain content, got %q", failed[0].Content)
			}
		})
	}
}

func TestUpdateStatusDoneDeletesRecord(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			note, err := store.Enqueue(ctx, "done note", "page_1")
			if err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			final, err := store.UpdateStatus(ctx, note.ID, StatusDone, "")
			if err != nil {
				t.Fatalf("update to done failed: %v", err)
			}
			if final.Status != StatusDone {
				t.Fatalf("expected returned note to reflect done, got %s", final.Status)
			}
			total, err := store.Count(ctx, "")
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if total != 0 {
				t.Fatalf("expected empty queue after done, got %d", total)
			}
			if _, err := store.UpdateStatus(ctx, note.ID, StatusPending, ""); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for deleted note, got %v", err)
			}
		})
	}
}

func TestRemoveAndCount(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			note, err := store.Enqueue(ctx, "removable", "page_1")
			if err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			if _, err := store.Enqueue(ctx, "stays", "page_1"); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			removed, err := store.Remove(ctx, note.ID)
			if err != nil || !removed {
				t.Fatalf("expected remove to succeed, got removed=%v err=%v", removed, err)
			}
			removed, err = store.Remove(ctx, note.ID)
			if err != nil || removed {
				t.Fatalf("expected second remove to report missing, got removed=%v err=%v", removed, err)
			}
			pending, err := store.Count(ctx, StatusPending)
			if err != nil || pending != 1 {
				t.Fatalf("expected 1 pending note, got %d (err=%v)", pending, err)
			}
		})
	}
}

func TestEnqueueRejectsEmptyInput(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	if _, err := store.Enqueue(context.Background(), " ", "page_1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty content, got %v", err)
	}
	if _, err := store.Enqueue(context.Background(), "note", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty target, got %v", err)
	}
}

func TestFileStoreResetsInFlightOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	ctx := context.Background()
	note, err := store.Enqueue(ctx, "interrupted", "page_1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, note.ID, StatusInFlight, ""); err != nil {
		t.Fatalf("mark in_flight failed: %v", err)
	}
	store.Close()

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	pending, err := reopened.ListByStatus(ctx, StatusPending)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != note.ID {
		t.Fatalf("expected in_flight note reset to pending on reopen, got %v", pending)
	}
}

func TestSQLiteStoreResetsInFlightOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new sqlite store failed: %v", err)
	}
	ctx := context.Background()
	note, err := store.Enqueue(ctx, "interrupted", "page_1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, note.ID, StatusInFlight, ""); err != nil {
		t.Fatalf("mark in_flight failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	pending, err := reopened.ListByStatus(ctx, StatusPending)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != note.ID {
		t.Fatalf("expected in_flight note reset to pending on reopen, got %v", pending)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "survives restart", "page_1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	store.Close()

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	pending, err := reopened.ListByStatus(ctx, StatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected persisted note after reopen, got %v (err=%v)", pending, err)
	}
	if pending[0].Content != "survives restart" {
		t.Fatalf("expected content to survive reopen, got %q", pending[0].Content)
	}
}
