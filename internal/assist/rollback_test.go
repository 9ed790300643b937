package assist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/model"
)

// appliedPatch seeds two subscriptions, a proposal moving both, and applies
// it, returning everything a rollback test needs.
func appliedPatch(t *testing.T, f *fixture) (notion, dropbox *model.Subscription, proposal *model.Proposal, patch *model.Patch) {
	t.Helper()
	ctx := context.Background()
	f.enable(t)
	notion = f.seedSubscription(t, "Notion", strPtr("Work"))
	dropbox = f.seedSubscription(t, "Dropbox", nil)

	proposal = f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: notion.ID, FromCategory: strPtr("Work"), ToCategory: strPtr("Productivity")},
		model.CategoryRecommendation{SubscriptionID: dropbox.ID, ToCategory: strPtr("Cloud Storage")},
	)

	var err error
	patch, err = f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)
	return notion, dropbox, proposal, patch
}

func TestRollbackPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notion, dropbox, proposal, patch := appliedPatch(t, f)

	restored, err := f.svc.RollbackPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)

	assert.Equal(t, model.PatchRolledBack, restored.Status)
	require.NotNil(t, restored.RolledBackAt)
	assert.True(t, restored.RolledBackAt.Equal(f.now))

	// Both subscriptions are exactly as they were before the apply.
	require.NotNil(t, f.category(t, notion.ID))
	assert.Equal(t, "Work", *f.category(t, notion.ID))
	assert.Nil(t, f.category(t, dropbox.ID))

	assert.Equal(t, model.ProposalRolledBack, f.proposalStatus(t, proposal.ID))

	stored, err := f.store.GetPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.PatchRolledBack, stored.Status)
	assert.NotNil(t, stored.RolledBackAt)

	entries := f.logEntries(t)
	require.Len(t, entries, 2, "one apply entry, one rollback entry")
	rollback := entries[1]
	assert.Equal(t, model.ActionRollback, rollback.ActionType)
	assert.Equal(t, "patch "+patch.ID, rollback.InputSummary)
	assert.True(t, rollback.Success)
	assert.Equal(t, "restored categories for 2 subscriptions", rollback.OutputSummary)
	assert.Nil(t, rollback.Confidence)

	assert.Equal(t, []string{
		model.AuditAssistEnabled,
		model.AuditApplyRequested,
		model.AuditApplySucceeded,
		model.AuditRollbackRequested,
		model.AuditRollbackSucceeded,
	}, f.auditActions(t))

	audit := f.auditEntries(t)
	assert.EqualValues(t, patch.ID, audit[3].Metadata["patch_id"])
	assert.EqualValues(t, proposal.ID, audit[3].Metadata["proposal_id"])
	assert.EqualValues(t, 2, audit[4].Metadata["subscriptions"])
}

func TestRollbackTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notion, dropbox, _, patch := appliedPatch(t, f)

	_, err := f.svc.RollbackPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)

	_, err = f.svc.RollbackPatch(ctx, testOwner, patch.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 400, StatusOf(err))
	assert.Equal(t, ReasonInvalidStatus, ReasonOf(err))
	assert.Contains(t, err.Error(), string(model.PatchRolledBack))

	// The second attempt changed nothing.
	assert.Equal(t, "Work", *f.category(t, notion.ID))
	assert.Nil(t, f.category(t, dropbox.ID))
}

func TestRollbackMissingPatch(t *testing.T) {
	f := newFixture(t)
	f.enable(t)

	_, err := f.svc.RollbackPatch(context.Background(), testOwner, "no-such-patch")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, ReasonNotFound, ReasonOf(err))

	assert.Equal(t, []string{
		model.AuditAssistEnabled,
		model.AuditRollbackFailed,
	}, f.auditActions(t))
}

func TestRollbackIgnoresLaterEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notion, _, _, patch := appliedPatch(t, f)

	// The owner edits the category by hand after the apply. Rollback does
	// not check for drift; it restores the recorded prior state.
	require.NoError(t, f.store.UpdateSubscriptionCategory(ctx, testOwner, notion.ID, strPtr("Archive")))

	_, err := f.svc.RollbackPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)

	require.NotNil(t, f.category(t, notion.ID))
	assert.Equal(t, "Work", *f.category(t, notion.ID),
		"rollback restores the recorded category, not the hand-edited one")
}

func TestRollbackDeletedSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notion, dropbox, proposal, patch := appliedPatch(t, f)

	require.NoError(t, f.store.DeleteSubscription(ctx, testOwner, notion.ID))

	_, err := f.svc.RollbackPatch(ctx, testOwner, patch.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, ReasonSubscriptionNotFound, ReasonOf(err))

	// Nothing moved: the patch is still applied and the surviving
	// subscription keeps its applied category.
	stored, err := f.store.GetPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchApplied, stored.Status)
	assert.Equal(t, model.ProposalApplied, f.proposalStatus(t, proposal.ID))
	assert.Equal(t, "Cloud Storage", *f.category(t, dropbox.ID))
}

func TestRollbackOtherOwnersPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, _, patch := appliedPatch(t, f)

	require.NoError(t, f.svc.Enable(ctx, "another-owner"))
	_, err := f.svc.RollbackPatch(ctx, "another-owner", patch.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "another owner's patch id must read as missing")

	stored, err := f.store.GetPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchApplied, stored.Status)
}
