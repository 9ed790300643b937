package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func createBackupFixture(t *testing.T) (*SQLiteStorage, *BackupManager, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	manager, err := store.NewBackupManager()
	if err != nil {
		t.Fatalf("NewBackupManager() error = %v", err)
	}
	return store, manager, dbPath
}

func TestBackupManager_CreateAndList(t *testing.T) {
	store, manager, _ := createBackupFixture(t)
	ctx := context.Background()

	mustCreateSubscriptions(t, store, createTestSubscriptions("owner-backup", 3))

	first, err := manager.Create(ctx, "first", "before cleanup")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID != "first" {
		t.Errorf("ID = %q, want %q", first.ID, "first")
	}
	if first.Subscriptions != 3 {
		t.Errorf("Subscriptions = %d, want 3", first.Subscriptions)
	}
	if first.IsAuto {
		t.Error("manual backup reported as auto")
	}
	if first.FileSize == 0 {
		t.Error("FileSize = 0, want > 0")
	}

	if _, err := manager.Create(ctx, "second", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	backups, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("List() returned %d backups, want 2", len(backups))
	}
	if backups[0].ID != "second" || backups[1].ID != "first" {
		t.Errorf("List() order = [%s, %s], want newest first", backups[0].ID, backups[1].ID)
	}

	info, err := manager.GetInfo(ctx, "first")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.Description != "before cleanup" {
		t.Errorf("Description = %q, want %q", info.Description, "before cleanup")
	}
}

func TestBackupManager_DuplicateTag(t *testing.T) {
	_, manager, _ := createBackupFixture(t)
	ctx := context.Background()

	if _, err := manager.Create(ctx, "once", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := manager.Create(ctx, "once", ""); err != ErrBackupExists {
		t.Errorf("duplicate Create() error = %v, want ErrBackupExists", err)
	}
}

func TestBackupManager_TagValidation(t *testing.T) {
	_, manager, _ := createBackupFixture(t)
	ctx := context.Background()

	for _, tag := range []string{"../escape", "a/b", `a\b`} {
		if _, err := manager.Create(ctx, tag, ""); err == nil {
			t.Errorf("Create(%q) succeeded, want error", tag)
		}
		if err := manager.Restore(ctx, tag); err == nil {
			t.Errorf("Restore(%q) succeeded, want error", tag)
		}
		if err := manager.Delete(ctx, tag); err == nil {
			t.Errorf("Delete(%q) succeeded, want error", tag)
		}
	}
}

func TestBackupManager_RestoreRoundTrip(t *testing.T) {
	store, manager, dbPath := createBackupFixture(t)
	ctx := context.Background()

	subs := createTestSubscriptions("owner-restore", 1)
	mustCreateSubscriptions(t, store, subs)

	if _, err := manager.Create(ctx, "snapshot", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	later := createTestSubscriptions("owner-restore", 2)
	later[1].Name = "Added After Snapshot"
	mustCreateSubscriptions(t, store, later[1:])

	// Restore closes the live handle; reopen to inspect the state.
	if err := manager.Restore(ctx, "snapshot"); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	restored, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("reopen after restore error = %v", err)
	}
	defer restored.Close()

	got, err := restored.GetSubscriptions(ctx, "owner-restore")
	if err != nil {
		t.Fatalf("GetSubscriptions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("after restore got %d subscriptions, want 1", len(got))
	}
	if got[0].ID != subs[0].ID {
		t.Errorf("after restore subscription = %s, want %s", got[0].ID, subs[0].ID)
	}
}

func TestBackupManager_RestoreMissing(t *testing.T) {
	_, manager, _ := createBackupFixture(t)

	if err := manager.Restore(context.Background(), "nope"); err != ErrBackupNotFound {
		t.Errorf("Restore() error = %v, want ErrBackupNotFound", err)
	}
}

func TestBackupManager_Delete(t *testing.T) {
	_, manager, _ := createBackupFixture(t)
	ctx := context.Background()

	if _, err := manager.Create(ctx, "doomed", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := manager.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := manager.GetInfo(ctx, "doomed"); err != ErrBackupNotFound {
		t.Errorf("GetInfo() after delete error = %v, want ErrBackupNotFound", err)
	}
	if err := manager.Delete(ctx, "doomed"); err != ErrBackupNotFound {
		t.Errorf("second Delete() error = %v, want ErrBackupNotFound", err)
	}

	backups, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("List() after delete returned %d backups, want 0", len(backups))
	}
}

func TestBackupManager_PruneKeepsRecentAutoBackups(t *testing.T) {
	_, manager, _ := createBackupFixture(t)
	ctx := context.Background()

	for i := 0; i < maxAutoBackups+2; i++ {
		tag := fmt.Sprintf("auto-import-%02d", i)
		if _, err := manager.create(ctx, tag, "", true); err != nil {
			t.Fatalf("create(%s) error = %v", tag, err)
		}
	}
	if _, err := manager.Create(ctx, "keep-me", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := manager.pruneAutoBackups(ctx); err != nil {
		t.Fatalf("pruneAutoBackups() error = %v", err)
	}

	backups, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	autoCount := 0
	remaining := make(map[string]bool)
	for _, b := range backups {
		remaining[b.ID] = true
		if b.IsAuto {
			autoCount++
		}
	}
	if autoCount != maxAutoBackups {
		t.Errorf("auto backups after prune = %d, want %d", autoCount, maxAutoBackups)
	}
	if !remaining["keep-me"] {
		t.Error("manual backup pruned")
	}
	if remaining["auto-import-00"] || remaining["auto-import-01"] {
		t.Error("oldest auto backups survived pruning")
	}
}
