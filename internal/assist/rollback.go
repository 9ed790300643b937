package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/storage"
)

// RollbackPatch reverses an applied patch: every touched subscription is
// restored to the category recorded at apply time and both the patch and
// its proposal move to ROLLED_BACK, in one transaction. There is no
// staleness check here; a rollback restores the recorded prior state
// unconditionally, and the patch's APPLIED status is the mutex that lets
// only one rollback succeed.
func (s *Service) RollbackPatch(ctx context.Context, ownerID, id string) (*model.Patch, error) {
	op := s.newOp(ownerID, model.ActionRollback, "")
	op.input = "patch " + id

	if err := s.checkEnabled(ctx, op); err != nil {
		return nil, err
	}

	patch, err := s.store.GetPatch(ctx, ownerID, id)
	if err != nil {
		failure := internalError(ReasonStorageFailed, "failed to load patch", err)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}
	if patch == nil {
		failure := notFoundError(ReasonNotFound, "patch %s not found", id)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}

	op.topic = string(patch.Type)
	s.auditRequested(ctx, op, map[string]any{"patch_id": id, "proposal_id": patch.ProposalID})

	restored, err := s.rollbackTx(ctx, ownerID, id)
	if err != nil {
		s.recordFailure(ctx, op, err, map[string]any{"patch_id": id})
		return nil, err
	}

	slog.Info("patch rolled back",
		"owner", ownerID, "patch", id, "proposal", restored.ProposalID, "subscriptions", len(restored.RollbackPatch))
	output := fmt.Sprintf("restored categories for %d subscriptions", len(restored.RollbackPatch))
	s.recordSuccess(ctx, op, output, nil, map[string]any{
		"patch_id":      id,
		"proposal_id":   restored.ProposalID,
		"subscriptions": len(restored.RollbackPatch),
	})
	return restored, nil
}

// rollbackTx runs the rollback preconditions and mutation inside one
// storage transaction, re-reading the patch under it.
func (s *Service) rollbackTx(ctx context.Context, ownerID, id string) (*model.Patch, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to roll back rollback transaction", "error", rbErr)
			}
		}
	}()

	patch, err := tx.GetPatch(ctx, ownerID, id)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to load patch", err)
	}
	if patch == nil {
		return nil, notFoundError(ReasonNotFound, "patch %s not found", id)
	}

	// A second rollback attempt lands here: the patch is already
	// ROLLED_BACK and the call fails without touching anything.
	if patch.Status != model.PatchApplied {
		return nil, validationError(ReasonInvalidStatus,
			"patch %s is %s, expected %s", id, patch.Status, model.PatchApplied)
	}

	changes, err := ParseRollback(patch)
	if err != nil {
		return nil, validationError(ReasonInvalidPatch, "stored rollback patch is malformed: %v", err)
	}

	if _, err := s.loadPatchTargets(ctx, tx, ownerID, changes); err != nil {
		return nil, err
	}

	for _, change := range changes {
		if err := tx.UpdateSubscriptionCategory(ctx, ownerID, change.SubscriptionID, change.ToCategory); err != nil {
			return nil, internalError(ReasonStorageFailed, "failed to restore subscription category", err)
		}
	}

	now := s.now()
	if err := tx.MarkPatchRolledBack(ctx, ownerID, id, now); err != nil {
		switch {
		case errors.Is(err, storage.ErrStatusConflict):
			return nil, validationError(ReasonInvalidStatus, "patch %s is no longer applied", id)
		case errors.Is(err, storage.ErrNotFound):
			return nil, notFoundError(ReasonNotFound, "patch %s not found", id)
		default:
			return nil, internalError(ReasonStorageFailed, "failed to mark patch rolled back", err)
		}
	}

	if err := tx.UpdateProposalStatus(ctx, ownerID, patch.ProposalID, model.ProposalApplied, model.ProposalRolledBack); err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to mark proposal rolled back", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to commit rollback transaction", err)
	}
	committed = true

	patch.Status = model.PatchRolledBack
	patch.RolledBackAt = &now
	return patch, nil
}
