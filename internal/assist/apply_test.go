package assist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/model"
)

func TestApplyProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	notion := f.seedSubscription(t, "Notion", strPtr("Work"))
	dropbox := f.seedSubscription(t, "Dropbox", nil)

	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{
			SubscriptionID: notion.ID,
			FromCategory:   strPtr("Work"),
			ToCategory:     strPtr("Productivity"),
			Rationale:      "closer fit than Work",
		},
		model.CategoryRecommendation{
			SubscriptionID: dropbox.ID,
			FromCategory:   nil,
			ToCategory:     strPtr("Cloud Storage"),
		},
	)

	patch, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)
	require.NotNil(t, patch)

	assert.Equal(t, model.PatchApplied, patch.Status)
	assert.Equal(t, model.ProposalRecategorize, patch.Type)
	assert.Equal(t, proposal.ID, patch.ProposalID)
	assert.Equal(t, testOwner, patch.OwnerID)
	assert.True(t, patch.AppliedAt.Equal(f.now))
	assert.Nil(t, patch.RolledBackAt)
	require.NoError(t, patch.Validate(), "rollback must be the exact inverse of forward")

	require.Len(t, patch.ForwardPatch, 2)
	assert.Equal(t, notion.ID, patch.ForwardPatch[0].SubscriptionID)
	assert.Equal(t, "Work", *patch.ForwardPatch[0].FromCategory)
	assert.Equal(t, "Productivity", *patch.ForwardPatch[0].ToCategory)
	assert.Nil(t, patch.ForwardPatch[1].FromCategory)
	assert.Equal(t, "Cloud Storage", *patch.ForwardPatch[1].ToCategory)

	require.Len(t, patch.RollbackPatch, 2)
	assert.Equal(t, "Productivity", *patch.RollbackPatch[0].FromCategory)
	assert.Equal(t, "Work", *patch.RollbackPatch[0].ToCategory)
	assert.Equal(t, "Cloud Storage", *patch.RollbackPatch[1].FromCategory)
	assert.Nil(t, patch.RollbackPatch[1].ToCategory)

	require.NotNil(t, f.category(t, notion.ID))
	assert.Equal(t, "Productivity", *f.category(t, notion.ID))
	require.NotNil(t, f.category(t, dropbox.ID))
	assert.Equal(t, "Cloud Storage", *f.category(t, dropbox.ID))
	assert.Equal(t, model.ProposalApplied, f.proposalStatus(t, proposal.ID))

	stored, err := f.store.GetPatch(ctx, testOwner, patch.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, patch.ForwardPatch, stored.ForwardPatch)
	assert.Equal(t, patch.RollbackPatch, stored.RollbackPatch)

	patches, err := f.svc.ListPatches(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, patches, 1)

	entries := f.logEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionApply, entries[0].ActionType)
	assert.Equal(t, string(model.ProposalRecategorize), entries[0].Topic)
	assert.Equal(t, "proposal "+proposal.ID, entries[0].InputSummary)
	assert.True(t, entries[0].Success)

	assert.Equal(t, []string{
		model.AuditAssistEnabled,
		model.AuditApplyRequested,
		model.AuditApplySucceeded,
	}, f.auditActions(t))

	audit := f.auditEntries(t)
	assert.EqualValues(t, proposal.ID, audit[1].Metadata["proposal_id"])
	assert.EqualValues(t, patch.ID, audit[2].Metadata["patch_id"])
	assert.EqualValues(t, 2, audit[2].Metadata["subscriptions"])
}

func TestApplyStaleCategoryBlocksWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	notion := f.seedSubscription(t, "Notion", strPtr("Work"))
	dropbox := f.seedSubscription(t, "Dropbox", nil)

	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: dropbox.ID, ToCategory: strPtr("Cloud Storage")},
		model.CategoryRecommendation{SubscriptionID: notion.ID, FromCategory: strPtr("Work"), ToCategory: strPtr("Productivity")},
	)

	// The owner reorganizes by hand after the proposal was created.
	require.NoError(t, f.store.UpdateSubscriptionCategory(ctx, testOwner, notion.ID, strPtr("Archive")))

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 409, StatusOf(err))
	assert.Equal(t, ReasonStaleCategory, ReasonOf(err))
	assert.Contains(t, err.Error(), notion.ID)

	// One stale row refuses the whole batch: the clean first change was
	// not applied either.
	assert.Nil(t, f.category(t, dropbox.ID))
	assert.Equal(t, "Archive", *f.category(t, notion.ID))
	assert.Equal(t, model.ProposalActive, f.proposalStatus(t, proposal.ID),
		"a refused proposal stays actionable")

	patches, err := f.svc.ListPatches(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, patches)

	assert.Equal(t, []string{
		model.AuditAssistEnabled,
		model.AuditApplyRequested,
		model.AuditApplyFailed,
	}, f.auditActions(t))

	// Restoring the recorded category makes the same proposal applicable.
	require.NoError(t, f.store.UpdateSubscriptionCategory(ctx, testOwner, notion.ID, strPtr("Work")))
	patch, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)
	assert.Len(t, patch.ForwardPatch, 2)
	assert.Equal(t, "Productivity", *f.category(t, notion.ID))
	assert.Equal(t, "Cloud Storage", *f.category(t, dropbox.ID))
}

func TestApplyExpiredProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	notion := f.seedSubscription(t, "Notion", strPtr("Work"))
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: notion.ID, FromCategory: strPtr("Work"), ToCategory: strPtr("Productivity")})

	f.advance(model.ProposalTTL + time.Hour)

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, ReasonInvalidStatus, ReasonOf(err))
	assert.Contains(t, err.Error(), string(model.ProposalExpired))

	assert.Equal(t, model.ProposalExpired, f.proposalStatus(t, proposal.ID))
	assert.Equal(t, "Work", *f.category(t, notion.ID))
}

func TestApplySavingsProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	sub := f.seedSubscription(t, "Netflix", nil)
	savings := 31.98
	proposal := f.seedSavingsProposal(t, model.SavingsSuggestion{
		SubscriptionID:   sub.ID,
		Suggestion:       "Switch Netflix to yearly billing",
		EstimatedSavings: &savings,
	})

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, ReasonUnsupportedType, ReasonOf(err))
	assert.Contains(t, err.Error(), "SAVINGS_LIST proposals cannot be applied")

	// Savings lists are advisory; refusing one changes nothing.
	assert.Equal(t, model.ProposalActive, f.proposalStatus(t, proposal.ID))
	assert.Nil(t, f.category(t, sub.ID))

	patches, err := f.svc.ListPatches(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, patches)

	audit := f.auditEntries(t)
	require.Len(t, audit, 3)
	assert.Equal(t, model.AuditApplyRequested, audit[1].Action)
	assert.EqualValues(t, string(model.ProposalSavingsList), audit[1].Metadata["type"])
}

func TestApplyTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	notion := f.seedSubscription(t, "Notion", strPtr("Work"))
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: notion.ID, FromCategory: strPtr("Work"), ToCategory: strPtr("Productivity")})

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)

	_, err = f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, ReasonInvalidStatus, ReasonOf(err))
	assert.Contains(t, err.Error(), string(model.ProposalApplied))

	patches, err := f.svc.ListPatches(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, patches, 1, "a proposal applies at most once")
	assert.Equal(t, "Productivity", *f.category(t, notion.ID))
}

func TestApplyDismissedProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	notion := f.seedSubscription(t, "Notion", strPtr("Work"))
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: notion.ID, FromCategory: strPtr("Work"), ToCategory: strPtr("Productivity")})

	require.NoError(t, f.svc.DismissProposal(ctx, testOwner, proposal.ID))

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, ReasonInvalidStatus, ReasonOf(err))
	assert.Equal(t, "Work", *f.category(t, notion.ID))
}

func TestApplyMissingProposal(t *testing.T) {
	f := newFixture(t)
	f.enable(t)

	_, err := f.svc.ApplyProposal(context.Background(), testOwner, "no-such-proposal")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, ReasonNotFound, ReasonOf(err))

	// A target that does not exist is never audited as requested.
	assert.Equal(t, []string{
		model.AuditAssistEnabled,
		model.AuditApplyFailed,
	}, f.auditActions(t))

	entries := f.logEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionApply, entries[0].ActionType)
	assert.Equal(t, ReasonNotFound, entries[0].ErrorReason)
}

func TestApplyDeletedSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	notion := f.seedSubscription(t, "Notion", strPtr("Work"))
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: notion.ID, FromCategory: strPtr("Work"), ToCategory: strPtr("Productivity")})

	require.NoError(t, f.store.DeleteSubscription(ctx, testOwner, notion.ID))

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, ReasonSubscriptionNotFound, ReasonOf(err))

	assert.Equal(t, model.ProposalActive, f.proposalStatus(t, proposal.ID))

	patches, err := f.svc.ListPatches(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, patches)
}

func TestApplyClearsCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	spotify := f.seedSubscription(t, "Spotify", strPtr("Music"))
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: spotify.ID, FromCategory: strPtr("Music"), ToCategory: nil})

	patch, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)

	assert.Nil(t, f.category(t, spotify.ID), "a move to nil uncategorizes the subscription")
	require.Len(t, patch.RollbackPatch, 1)
	assert.Nil(t, patch.RollbackPatch[0].FromCategory)
	require.NotNil(t, patch.RollbackPatch[0].ToCategory)
	assert.Equal(t, "Music", *patch.RollbackPatch[0].ToCategory)
}

func TestApplyMalformedPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	proposal := f.seedRecatProposal(t, model.ProposalActive)

	_, err := f.svc.ApplyProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, ReasonInvalidPayload, ReasonOf(err))
	assert.Equal(t, model.ProposalActive, f.proposalStatus(t, proposal.ID))
}
