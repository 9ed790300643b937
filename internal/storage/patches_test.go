package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tmetzger/subtrack/internal/model"

	"github.com/google/uuid"
)

func testPatch(ownerID, proposalID string) *model.Patch {
	misc := "Misc"
	music := "Music"
	return &model.Patch{
		ID:         uuid.NewString(),
		ProposalID: proposalID,
		OwnerID:    ownerID,
		Type:       model.ProposalRecategorize,
		Status:     model.PatchApplied,
		ForwardPatch: []model.CategoryChange{
			{SubscriptionID: "sub-1", FromCategory: &misc, ToCategory: &music},
			{SubscriptionID: "sub-2", FromCategory: nil, ToCategory: &music},
		},
		RollbackPatch: []model.CategoryChange{
			{SubscriptionID: "sub-1", FromCategory: &music, ToCategory: &misc},
			{SubscriptionID: "sub-2", FromCategory: &music, ToCategory: nil},
		},
		AppliedAt: time.Now(),
	}
}

func TestSQLiteStorage_PatchRoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	patch := testPatch("owner-1", uuid.NewString())
	if err := store.SavePatch(ctx, patch); err != nil {
		t.Fatalf("SavePatch() error = %v", err)
	}

	got, err := store.GetPatch(ctx, "owner-1", patch.ID)
	if err != nil {
		t.Fatalf("GetPatch() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetPatch() = nil, want patch")
	}
	if got.Status != model.PatchApplied || got.RolledBackAt != nil {
		t.Errorf("fresh patch state wrong: status=%s rolledBackAt=%v", got.Status, got.RolledBackAt)
	}
	if len(got.ForwardPatch) != 2 || len(got.RollbackPatch) != 2 {
		t.Fatalf("patch changes lost: forward=%d rollback=%d", len(got.ForwardPatch), len(got.RollbackPatch))
	}
	if got.ForwardPatch[1].FromCategory != nil {
		t.Error("nil FromCategory did not survive round trip")
	}
	if got.RollbackPatch[1].ToCategory != nil {
		t.Error("nil rollback ToCategory did not survive round trip")
	}
	if err := got.Validate(); err != nil {
		t.Errorf("round-tripped patch no longer validates: %v", err)
	}

	other, err := store.GetPatch(ctx, "owner-2", patch.ID)
	if err != nil {
		t.Fatalf("GetPatch(other owner) error = %v", err)
	}
	if other != nil {
		t.Error("cross-owner GetPatch returned a record")
	}
}

func TestSQLiteStorage_GetPatches_Order(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	older := testPatch("owner-1", uuid.NewString())
	older.AppliedAt = time.Now().Add(-time.Hour)
	newer := testPatch("owner-1", uuid.NewString())

	for _, p := range []*model.Patch{older, newer} {
		if err := store.SavePatch(ctx, p); err != nil {
			t.Fatalf("SavePatch() error = %v", err)
		}
	}

	patches, err := store.GetPatches(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetPatches() error = %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("GetPatches() returned %d, want 2", len(patches))
	}
	if patches[0].ID != newer.ID {
		t.Error("patches not sorted newest first")
	}
}

func TestSQLiteStorage_MarkPatchRolledBack(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	patch := testPatch("owner-1", uuid.NewString())
	if err := store.SavePatch(ctx, patch); err != nil {
		t.Fatalf("SavePatch() error = %v", err)
	}

	at := time.Now()
	if err := store.MarkPatchRolledBack(ctx, "owner-1", patch.ID, at); err != nil {
		t.Fatalf("MarkPatchRolledBack() error = %v", err)
	}

	got, _ := store.GetPatch(ctx, "owner-1", patch.ID)
	if got.Status != model.PatchRolledBack {
		t.Errorf("Status = %s, want ROLLED_BACK", got.Status)
	}
	if got.RolledBackAt == nil {
		t.Error("RolledBackAt not recorded")
	}

	// Rolling back twice is a status conflict.
	err := store.MarkPatchRolledBack(ctx, "owner-1", patch.ID, time.Now())
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("second rollback error = %v, want ErrStatusConflict", err)
	}

	err = store.MarkPatchRolledBack(ctx, "owner-1", "missing", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing patch error = %v, want ErrNotFound", err)
	}
}
