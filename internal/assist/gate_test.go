package assist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/model"
)

func TestDisabledBlocksEveryOperation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		action model.ActionType
		failed string
		invoke func(f *fixture) error
	}{
		{
			name:   "explain",
			action: model.ActionExplain,
			failed: model.AuditExplainFailed,
			invoke: func(f *fixture) error {
				_, err := f.svc.Explain(ctx, testOwner, model.TopicDuplicate, nil)
				return err
			},
		},
		{
			name:   "propose",
			action: model.ActionPropose,
			failed: model.AuditProposeFailed,
			invoke: func(f *fixture) error {
				_, err := f.svc.Propose(ctx, testOwner, model.ProposalRecategorize, nil)
				return err
			},
		},
		{
			name:   "apply",
			action: model.ActionApply,
			failed: model.AuditApplyFailed,
			invoke: func(f *fixture) error {
				_, err := f.svc.ApplyProposal(ctx, testOwner, "some-proposal")
				return err
			},
		},
		{
			name:   "rollback",
			action: model.ActionRollback,
			failed: model.AuditRollbackFailed,
			invoke: func(f *fixture) error {
				_, err := f.svc.RollbackPatch(ctx, testOwner, "some-patch")
				return err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedSubscription(t, "Netflix", nil)

			err := tc.invoke(f)
			require.Error(t, err)
			assert.True(t, IsPermissionDenied(err))
			assert.Equal(t, 403, StatusOf(err))
			assert.Equal(t, ReasonPermissionDenied, ReasonOf(err))
			assert.EqualError(t, err, "assistance is disabled",
				"denial must not reveal whether the target exists")

			assert.Zero(t, f.off.CallCount(), "nothing may reach the backend while disabled")

			entries := f.logEntries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, tc.action, entries[0].ActionType)
			assert.False(t, entries[0].Success)
			assert.Equal(t, ReasonPermissionDenied, entries[0].ErrorReason)

			audit := f.auditEntries(t)
			require.Len(t, audit, 1, "a denial writes no requested entry")
			assert.Equal(t, tc.failed, audit[0].Action)
			assert.EqualValues(t, ReasonPermissionDenied, audit[0].Metadata["reason"])
		})
	}
}

func TestDisableRevokesAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	f.seedSubscription(t, "Netflix", nil)

	_, err := f.svc.Explain(ctx, testOwner, model.TopicDuplicate, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Disable(ctx, testOwner))

	_, err = f.svc.Explain(ctx, testOwner, model.TopicDuplicate, nil)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestReadsAllowedWhileDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")})

	// The gate covers the four assistant operations only; stored state
	// stays readable and dismissable.
	proposals, err := f.svc.ListProposals(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, proposals, 1)

	got, err := f.svc.GetProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.ID, got.ID)

	patches, err := f.svc.ListPatches(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, patches)

	_, err = f.svc.ActionLog(ctx, testOwner, 10)
	require.NoError(t, err)
	_, err = f.svc.AuditTrail(ctx, testOwner, 10)
	require.NoError(t, err)

	require.NoError(t, f.svc.DismissProposal(ctx, testOwner, proposal.ID))
}
