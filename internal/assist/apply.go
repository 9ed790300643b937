package assist

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
)

// ApplyProposal executes an ACTIVE RECATEGORIZE proposal: every targeted
// subscription moves to its recommended category and a patch recording the
// changes plus their exact inverse is stored, all in one transaction.
// Either the whole batch applies or nothing does.
func (s *Service) ApplyProposal(ctx context.Context, ownerID, id string) (*model.Patch, error) {
	op := s.newOp(ownerID, model.ActionApply, "")
	op.input = "proposal " + id

	if err := s.checkEnabled(ctx, op); err != nil {
		return nil, err
	}

	if err := s.sweepExpired(ctx, ownerID); err != nil {
		s.recordFailure(ctx, op, err, nil)
		return nil, err
	}

	proposal, err := s.store.GetProposal(ctx, ownerID, id)
	if err != nil {
		failure := internalError(ReasonStorageFailed, "failed to load proposal", err)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}
	if proposal == nil {
		failure := notFoundError(ReasonNotFound, "proposal %s not found", id)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}

	op.topic = string(proposal.Type)
	s.auditRequested(ctx, op, map[string]any{"proposal_id": id, "type": string(proposal.Type)})

	patch, err := s.applyTx(ctx, ownerID, id)
	if err != nil {
		s.recordFailure(ctx, op, err, map[string]any{"proposal_id": id})
		return nil, err
	}

	slog.Info("proposal applied",
		"owner", ownerID, "proposal", id, "patch", patch.ID, "subscriptions", len(patch.ForwardPatch))
	s.recordSuccess(ctx, op, proposal.Summary, proposal.Confidence, map[string]any{
		"proposal_id":   id,
		"patch_id":      patch.ID,
		"subscriptions": len(patch.ForwardPatch),
	})
	return patch, nil
}

// applyTx runs the precondition chain and the mutation inside one storage
// transaction. The proposal is re-read under the transaction; the caller's
// earlier read only established existence.
func (s *Service) applyTx(ctx context.Context, ownerID, id string) (*model.Patch, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to roll back apply transaction", "error", rbErr)
			}
		}
	}()

	if _, err := tx.ExpireProposals(ctx, ownerID, s.now()); err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to expire proposals", err)
	}

	proposal, err := tx.GetProposal(ctx, ownerID, id)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to load proposal", err)
	}
	if proposal == nil {
		return nil, notFoundError(ReasonNotFound, "proposal %s not found", id)
	}

	if proposal.Type != model.ProposalRecategorize {
		return nil, validationError(ReasonUnsupportedType, "%s proposals cannot be applied", proposal.Type)
	}
	if proposal.Status != model.ProposalActive {
		return nil, validationError(ReasonInvalidStatus,
			"proposal %s is %s, expected %s", id, proposal.Status, model.ProposalActive)
	}

	var payload model.RecategorizePayload
	if err := json.Unmarshal(proposal.Payload, &payload); err != nil {
		return nil, validationError(ReasonInvalidPayload, "proposal payload is malformed: %v", err)
	}
	forward, rollback, err := BuildPatches(&payload)
	if err != nil {
		return nil, validationError(ReasonInvalidPayload, "proposal payload is malformed: %v", err)
	}

	subs, err := s.loadPatchTargets(ctx, tx, ownerID, forward)
	if err != nil {
		return nil, err
	}

	// Staleness check: every targeted subscription must still hold the
	// category the proposal recorded at creation. One stale row refuses the
	// whole batch, leaving every subscription untouched.
	for _, rec := range payload.Recommendations {
		current := subs[rec.SubscriptionID].Category
		if !model.EqualCategory(current, rec.FromCategory) {
			return nil, conflictError(ReasonStaleCategory,
				"subscription %s category changed since the proposal was created", rec.SubscriptionID)
		}
	}

	for _, change := range forward {
		if err := tx.UpdateSubscriptionCategory(ctx, ownerID, change.SubscriptionID, change.ToCategory); err != nil {
			return nil, internalError(ReasonStorageFailed, "failed to update subscription category", err)
		}
	}

	now := s.now()
	patch := &model.Patch{
		ID:            uuid.NewString(),
		ProposalID:    proposal.ID,
		OwnerID:       ownerID,
		Type:          model.ProposalRecategorize,
		Status:        model.PatchApplied,
		ForwardPatch:  forward,
		RollbackPatch: rollback,
		AppliedAt:     now,
	}
	if err := tx.SavePatch(ctx, patch); err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to save patch", err)
	}

	if err := tx.UpdateProposalStatus(ctx, ownerID, id, model.ProposalActive, model.ProposalApplied); err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to mark proposal applied", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to commit apply transaction", err)
	}
	committed = true
	return patch, nil
}

// loadPatchTargets loads every subscription a patch references, keyed by
// id, failing if any is missing or foreign-owned.
func (s *Service) loadPatchTargets(ctx context.Context, tx service.Transaction, ownerID string, changes []model.CategoryChange) (map[string]*model.Subscription, error) {
	ids := make([]string, len(changes))
	for i, change := range changes {
		ids[i] = change.SubscriptionID
	}

	subs, err := tx.GetSubscriptionsByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to load subscriptions", err)
	}

	byID := make(map[string]*model.Subscription, len(subs))
	for i := range subs {
		byID[subs[i].ID] = &subs[i]
	}
	for _, id := range ids {
		if byID[id] == nil {
			return nil, notFoundError(ReasonSubscriptionNotFound, "subscription %s not found", id)
		}
	}
	return byID, nil
}
