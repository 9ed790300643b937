package assist

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/advisor"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/storage"
)

const testOwner = "owner-1"

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// fixture wires a service to a real SQLite store and the offline backend,
// with a clock the test controls.
type fixture struct {
	svc   *Service
	off   *advisor.Offline
	store *storage.SQLiteStorage
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "assist_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	f := &fixture{
		off:   advisor.NewOffline(),
		store: store,
		now:   testStart,
	}
	f.svc = New(store, f.off)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) enable(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Enable(context.Background(), testOwner))
}

func (f *fixture) seedSubscription(t *testing.T, name string, category *string) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		ID:              uuid.NewString(),
		OwnerID:         testOwner,
		Name:            name,
		Amount:          15.99,
		Currency:        "USD",
		Interval:        model.IntervalMonthly,
		Category:        category,
		NextBillingDate: f.now.AddDate(0, 1, 0),
		CreatedAt:       f.now,
		UpdatedAt:       f.now,
	}
	require.NoError(t, f.store.CreateSubscription(context.Background(), sub))
	return sub
}

func (f *fixture) seedRecatProposal(t *testing.T, status model.ProposalStatus, recs ...model.CategoryRecommendation) *model.Proposal {
	t.Helper()
	payload, err := json.Marshal(model.RecategorizePayload{Recommendations: recs})
	require.NoError(t, err)

	proposal := &model.Proposal{
		ID:        uuid.NewString(),
		OwnerID:   testOwner,
		Type:      model.ProposalRecategorize,
		Status:    status,
		Title:     "Tidy up subscription categories",
		Summary:   "categories could be more precise",
		Provider:  "offline",
		Payload:   payload,
		CreatedAt: f.now,
		ExpiresAt: f.now.Add(model.ProposalTTL),
	}
	require.NoError(t, f.store.SaveProposal(context.Background(), proposal))
	return proposal
}

func (f *fixture) seedSavingsProposal(t *testing.T, suggestions ...model.SavingsSuggestion) *model.Proposal {
	t.Helper()
	payload, err := json.Marshal(model.SavingsPayload{Suggestions: suggestions})
	require.NoError(t, err)

	proposal := &model.Proposal{
		ID:        uuid.NewString(),
		OwnerID:   testOwner,
		Type:      model.ProposalSavingsList,
		Status:    model.ProposalActive,
		Title:     "Ways to spend less on subscriptions",
		Provider:  "offline",
		Payload:   payload,
		CreatedAt: f.now,
		ExpiresAt: f.now.Add(model.ProposalTTL),
	}
	require.NoError(t, f.store.SaveProposal(context.Background(), proposal))
	return proposal
}

// auditEntries returns the owner's audit trail in the order the entries
// were written. The trail reads newest first, so this reverses it.
func (f *fixture) auditEntries(t *testing.T) []model.AuditEntry {
	t.Helper()
	entries, err := f.svc.AuditTrail(context.Background(), testOwner, 100)
	require.NoError(t, err)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	entries := f.auditEntries(t)
	actions := make([]string, len(entries))
	for i, entry := range entries {
		actions[i] = entry.Action
	}
	return actions
}

// logEntries returns the owner's action log in the order the entries were
// written, oldest first.
func (f *fixture) logEntries(t *testing.T) []model.ActionLogEntry {
	t.Helper()
	entries, err := f.svc.ActionLog(context.Background(), testOwner, 100)
	require.NoError(t, err)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func (f *fixture) proposalStatus(t *testing.T, id string) model.ProposalStatus {
	t.Helper()
	proposal, err := f.store.GetProposal(context.Background(), testOwner, id)
	require.NoError(t, err)
	require.NotNil(t, proposal)
	return proposal.Status
}

func (f *fixture) category(t *testing.T, id string) *string {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), testOwner, id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub.Category
}

func strPtr(s string) *string { return &s }

func TestEnableDisable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enabled, err := f.svc.Enabled(ctx, testOwner)
	require.NoError(t, err)
	assert.False(t, enabled, "assistance should start disabled")

	require.NoError(t, f.svc.Enable(ctx, testOwner))
	enabled, err = f.svc.Enabled(ctx, testOwner)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, f.svc.Disable(ctx, testOwner))
	enabled, err = f.svc.Enabled(ctx, testOwner)
	require.NoError(t, err)
	assert.False(t, enabled)

	assert.Equal(t, []string{model.AuditAssistEnabled, model.AuditAssistDisabled}, f.auditActions(t))
}

func TestListProposalsVisibleSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")}

	f.seedRecatProposal(t, model.ProposalExpired, rec)
	f.seedRecatProposal(t, model.ProposalApplied, rec)
	f.seedRecatProposal(t, model.ProposalRolledBack, rec)
	oldest := f.seedRecatProposal(t, model.ProposalActive, rec)
	f.advance(time.Hour)
	middle := f.seedRecatProposal(t, model.ProposalActive, rec)
	f.advance(time.Hour)
	newest := f.seedRecatProposal(t, model.ProposalDismissed, rec)

	proposals, err := f.svc.ListProposals(ctx, "another-owner")
	require.NoError(t, err)
	assert.Empty(t, proposals, "proposals must not leak across owners")

	proposals, err = f.svc.ListProposals(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, proposals, 3, "only ACTIVE and DISMISSED are visible")
	assert.Equal(t, newest.ID, proposals[0].ID, "newest proposal should list first")
	assert.Equal(t, middle.ID, proposals[1].ID)
	assert.Equal(t, oldest.ID, proposals[2].ID)
	assert.Equal(t, model.ProposalDismissed, proposals[0].Status)
	assert.Equal(t, model.ProposalActive, proposals[1].Status)
}

func TestListProposalsExpiresOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")})

	f.advance(model.ProposalTTL + time.Hour)

	proposals, err := f.svc.ListProposals(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, proposals, "an overdue proposal must never list as actionable")

	// The proposal itself is still readable, now in its terminal status.
	got, err := f.svc.GetProposal(ctx, testOwner, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalExpired, got.Status)
}

func TestGetProposalMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetProposal(context.Background(), testOwner, "no-such-proposal")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 404, StatusOf(err))
	assert.Equal(t, ReasonNotFound, ReasonOf(err))
}

func TestGetProposalOtherOwner(t *testing.T) {
	f := newFixture(t)
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")})

	_, err := f.svc.GetProposal(context.Background(), "another-owner", proposal.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "another owner's id must read as missing")
}

func TestDismissProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")})

	require.NoError(t, f.svc.DismissProposal(ctx, testOwner, proposal.ID))
	assert.Equal(t, model.ProposalDismissed, f.proposalStatus(t, proposal.ID))

	// A dismissed proposal stays visible in the list.
	proposals, err := f.svc.ListProposals(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, model.ProposalDismissed, proposals[0].Status)
}

func TestDismissProposalRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")})

	require.NoError(t, f.svc.DismissProposal(ctx, testOwner, proposal.ID))

	err := f.svc.DismissProposal(ctx, testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 400, StatusOf(err))
	assert.Equal(t, ReasonInvalidStatus, ReasonOf(err))
	assert.Equal(t, model.ProposalDismissed, f.proposalStatus(t, proposal.ID))
}

func TestDismissProposalMissing(t *testing.T) {
	f := newFixture(t)

	err := f.svc.DismissProposal(context.Background(), testOwner, "no-such-proposal")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDismissProposalExpired(t *testing.T) {
	f := newFixture(t)
	proposal := f.seedRecatProposal(t, model.ProposalActive,
		model.CategoryRecommendation{SubscriptionID: "sub-1", ToCategory: strPtr("Music")})

	f.advance(model.ProposalTTL + time.Minute)

	err := f.svc.DismissProposal(context.Background(), testOwner, proposal.ID)
	require.Error(t, err)
	assert.True(t, IsValidation(err), "expiry wins over dismissal")
	assert.Equal(t, ReasonInvalidStatus, ReasonOf(err))
	assert.Equal(t, model.ProposalExpired, f.proposalStatus(t, proposal.ID))
}

func TestActionLogLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t)
	f.seedSubscription(t, "Netflix", nil)

	_, err := f.svc.Explain(ctx, testOwner, model.TopicDuplicate, nil)
	require.NoError(t, err)
	f.advance(time.Second)
	_, err = f.svc.Explain(ctx, testOwner, model.TopicYearlyVsMonthly, nil)
	require.NoError(t, err)

	entries, err := f.svc.ActionLog(ctx, testOwner, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TopicYearlyVsMonthly, entries[0].Topic, "limit keeps the newest entry")

	entries, err = f.svc.ActionLog(ctx, testOwner, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "zero limit falls back to the default")
}

func TestRoundConfidence(t *testing.T) {
	assert.Nil(t, roundConfidence(nil))
	assert.Nil(t, roundConfidence([]float64{}))

	got := roundConfidence([]float64{0.8, 0.7})
	require.NotNil(t, got)
	assert.InDelta(t, 0.75, *got, 1e-9)

	got = roundConfidence([]float64{0.856})
	require.NotNil(t, got)
	assert.InDelta(t, 0.86, *got, 1e-9)
}
