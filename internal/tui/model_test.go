package tui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/assist"
	"github.com/tmetzger/subtrack/internal/model"
)

type fakeReviewService struct {
	listErr    error
	applyErr   error
	dismissErr error
	proposals  []model.Proposal
	applied    []string
	dismissed  []string
	listCalls  int
}

func (f *fakeReviewService) ListProposals(_ context.Context, _ string) ([]model.Proposal, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.proposals, nil
}

func (f *fakeReviewService) ApplyProposal(_ context.Context, _, id string) (*model.Patch, error) {
	f.applied = append(f.applied, id)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return &model.Patch{
		ID:         "patch-1",
		ProposalID: id,
		OwnerID:    "user-1",
		Type:       model.ProposalRecategorize,
		Status:     model.PatchApplied,
	}, nil
}

func (f *fakeReviewService) DismissProposal(_ context.Context, _, id string) error {
	f.dismissed = append(f.dismissed, id)
	return f.dismissErr
}

func testProposal(id, title string, status model.ProposalStatus) model.Proposal {
	conf := 0.9
	return model.Proposal{
		ID:         id,
		OwnerID:    "user-1",
		Type:       model.ProposalRecategorize,
		Status:     status,
		Title:      title,
		Summary:    "One subscription looks miscategorized.",
		Provider:   "rules",
		Payload:    json.RawMessage(`{"recommendations":[{"subscriptionId":"sub-1","toCategory":"Music","rationale":"Streaming audio service."}]}`),
		Confidence: &conf,
		CreatedAt:  time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(13 * 24 * time.Hour),
	}
}

func loadedModel(t *testing.T, svc ReviewService) Model {
	t.Helper()
	m := newModel(context.Background(), ReviewConfig{Service: svc, OwnerID: "user-1"})
	msg := m.loadProposals()()
	updated, _ := m.Update(msg)
	loaded, ok := updated.(Model)
	require.True(t, ok)
	return loaded
}

func pressKey(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	updated, cmd := m.Update(msg)
	next, ok := updated.(Model)
	require.True(t, ok)
	return next, cmd
}

func TestNewModel(t *testing.T) {
	svc := &fakeReviewService{}
	m := newModel(context.Background(), ReviewConfig{Service: svc, OwnerID: "user-1"})

	assert.Equal(t, stateList, m.state)
	assert.False(t, m.ready)
	assert.Equal(t, "user-1", m.ownerID)
	assert.NotNil(t, m.Init())
}

func TestUpdate_ProposalsLoaded(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "Recategorize Spotify", model.ProposalActive),
		testProposal("prop-2", "Recategorize Netflix", model.ProposalDismissed),
	}}
	m := loadedModel(t, svc)

	assert.True(t, m.ready)
	assert.False(t, m.busy)
	require.Len(t, m.proposals, 2)
	assert.NoError(t, m.lastError)
}

func TestUpdate_LoadError(t *testing.T) {
	svc := &fakeReviewService{listErr: errors.New("database is locked")}
	m := loadedModel(t, svc)

	assert.True(t, m.ready)
	require.Error(t, m.lastError)
	assert.Contains(t, m.lastError.Error(), "database is locked")
}

func TestUpdate_Navigation(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
		testProposal("prop-2", "Second", model.ProposalActive),
		testProposal("prop-3", "Third", model.ProposalActive),
	}}
	m := loadedModel(t, svc)

	m, _ = pressKey(t, m, "j")
	assert.Equal(t, 1, m.cursor)

	m, _ = pressKey(t, m, "k")
	assert.Equal(t, 0, m.cursor)

	// Cursor does not move past either end.
	m, _ = pressKey(t, m, "k")
	assert.Equal(t, 0, m.cursor)

	m, _ = pressKey(t, m, "G")
	assert.Equal(t, 2, m.cursor)

	m, _ = pressKey(t, m, "j")
	assert.Equal(t, 2, m.cursor)

	m, _ = pressKey(t, m, "g")
	assert.Equal(t, 0, m.cursor)
}

func TestUpdate_SelectAndBack(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
		testProposal("prop-2", "Second", model.ProposalActive),
	}}
	m := loadedModel(t, svc)

	m, _ = pressKey(t, m, "j")
	m, _ = pressKey(t, m, "enter")
	assert.Equal(t, stateDetail, m.state)
	require.NotNil(t, m.selected)
	assert.Equal(t, "prop-2", m.selected.ID)

	m, _ = pressKey(t, m, "esc")
	assert.Equal(t, stateList, m.state)
	assert.Nil(t, m.selected)
}

func TestUpdate_ApplyFlow(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "Recategorize Spotify", model.ProposalActive),
	}}
	m := loadedModel(t, svc)

	m, cmd := pressKey(t, m, "a")
	assert.True(t, m.busy)
	require.NotNil(t, cmd)

	msg := m.applyProposal("prop-1")()
	applied, ok := msg.(proposalAppliedMsg)
	require.True(t, ok)
	require.NoError(t, applied.err)

	updated, reload := m.Update(applied)
	m = updated.(Model)
	assert.Contains(t, m.notice, "patch-1")
	assert.NoError(t, m.lastError)
	require.NotNil(t, reload, "a successful apply reloads the list")
	assert.Equal(t, []string{"prop-1"}, svc.applied)
}

func TestUpdate_ApplyError(t *testing.T) {
	svc := &fakeReviewService{
		proposals: []model.Proposal{testProposal("prop-1", "First", model.ProposalActive)},
		applyErr:  errors.New("cannot apply proposal in status DISMISSED"),
	}
	m := loadedModel(t, svc)

	m, _ = pressKey(t, m, "a")
	msg := m.applyProposal("prop-1")()
	updated, _ := m.Update(msg)
	m = updated.(Model)

	assert.False(t, m.busy)
	assert.Empty(t, m.notice)
	require.Error(t, m.lastError)
	assert.Contains(t, m.lastError.Error(), "DISMISSED")
}

func TestUpdate_ApplyConflictReloads(t *testing.T) {
	svc := &fakeReviewService{
		proposals: []model.Proposal{testProposal("prop-1", "First", model.ProposalActive)},
		applyErr: &assist.Error{
			Status:  http.StatusConflict,
			Reason:  assist.ReasonInvalidStatus,
			Message: "cannot apply proposal in status EXPIRED",
		},
	}
	m := loadedModel(t, svc)

	m, _ = pressKey(t, m, "a")
	updated, reload := m.Update(m.applyProposal("prop-1")())
	m = updated.(Model)

	assert.True(t, m.busy)
	require.Error(t, m.lastError)
	require.NotNil(t, reload, "a conflict reloads the list to show where the proposal landed")

	// The reload keeps the conflict on screen while the row catches up.
	svc.proposals[0].Status = model.ProposalExpired
	updated, _ = m.Update(m.loadProposals()())
	m = updated.(Model)

	assert.False(t, m.busy)
	require.Error(t, m.lastError)
	assert.Contains(t, m.lastError.Error(), "EXPIRED")
	assert.Equal(t, model.ProposalExpired, m.proposals[0].Status)
}

func TestUpdate_DismissFlow(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
	}}
	m := loadedModel(t, svc)

	m, cmd := pressKey(t, m, "d")
	assert.True(t, m.busy)
	require.NotNil(t, cmd)

	msg := m.dismissProposal("prop-1")()
	updated, reload := m.Update(msg)
	m = updated.(Model)

	assert.Contains(t, m.notice, "Dismissed prop-1")
	require.NotNil(t, reload)
	assert.Equal(t, []string{"prop-1"}, svc.dismissed)
}

func TestUpdate_BusyIgnoresActions(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
		testProposal("prop-2", "Second", model.ProposalActive),
	}}
	m := loadedModel(t, svc)
	m.busy = true

	m, _ = pressKey(t, m, "j")
	assert.Equal(t, 0, m.cursor)

	m, _ = pressKey(t, m, "a")
	assert.Empty(t, svc.applied)
}

func TestUpdate_QuitKeys(t *testing.T) {
	svc := &fakeReviewService{}
	m := loadedModel(t, svc)

	quit, cmd := pressKey(t, m, "q")
	assert.True(t, quit.quitting)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	forced, cmd := pressKey(t, m, "ctrl+c")
	assert.True(t, forced.quitting)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestUpdate_HelpToggle(t *testing.T) {
	svc := &fakeReviewService{}
	m := loadedModel(t, svc)

	m, _ = pressKey(t, m, "?")
	assert.Equal(t, stateHelp, m.state)

	m, _ = pressKey(t, m, "?")
	assert.Equal(t, stateList, m.state)
}

func TestUpdate_RefreshReloads(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
	}}
	m := loadedModel(t, svc)
	require.Equal(t, 1, svc.listCalls)
	m.lastError = errors.New("stale failure")

	m, cmd := pressKey(t, m, "r")
	assert.True(t, m.busy)
	assert.NoError(t, m.lastError, "an explicit refresh starts with a clean slate")
	require.NotNil(t, cmd)
}

func TestUpdate_ReloadClampsCursor(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
		testProposal("prop-2", "Second", model.ProposalActive),
		testProposal("prop-3", "Third", model.ProposalActive),
	}}
	m := loadedModel(t, svc)
	m, _ = pressKey(t, m, "G")
	require.Equal(t, 2, m.cursor)

	svc.proposals = svc.proposals[:1]
	updated, _ := m.Update(m.loadProposals()())
	m = updated.(Model)
	assert.Equal(t, 0, m.cursor)
}

func TestUpdate_SelectedVanishesAfterReload(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "First", model.ProposalActive),
	}}
	m := loadedModel(t, svc)
	m, _ = pressKey(t, m, "enter")
	require.Equal(t, stateDetail, m.state)

	// The proposal was applied elsewhere and left the visible set.
	svc.proposals = nil
	updated, _ := m.Update(m.loadProposals()())
	m = updated.(Model)

	assert.Equal(t, stateList, m.state)
	assert.Nil(t, m.selected)
}

func TestUpdate_WindowSize(t *testing.T) {
	svc := &fakeReviewService{}
	m := loadedModel(t, svc)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 40, m.height)
}

func TestView_Loading(t *testing.T) {
	svc := &fakeReviewService{}
	m := newModel(context.Background(), ReviewConfig{Service: svc, OwnerID: "user-1"})

	out := m.View()
	assert.Contains(t, out, "Loading proposals")
}

func TestView_List(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "Recategorize Spotify", model.ProposalActive),
		testProposal("prop-2", "Recategorize Netflix", model.ProposalDismissed),
	}}
	m := loadedModel(t, svc)

	out := m.View()
	assert.Contains(t, out, "Assistant Proposals")
	assert.Contains(t, out, "2 proposal(s) for user-1")
	assert.Contains(t, out, "Recategorize Spotify")
	assert.Contains(t, out, "DISMISSED")
	assert.Contains(t, out, "90%")
	assert.Contains(t, out, "a apply proposal")
}

func TestView_ListEmpty(t *testing.T) {
	svc := &fakeReviewService{}
	m := loadedModel(t, svc)

	out := m.View()
	assert.Contains(t, out, "Nothing to review")
}

func TestView_Detail(t *testing.T) {
	svc := &fakeReviewService{proposals: []model.Proposal{
		testProposal("prop-1", "Recategorize Spotify", model.ProposalActive),
	}}
	m := loadedModel(t, svc)
	m, _ = pressKey(t, m, "enter")

	out := m.View()
	assert.Contains(t, out, "Recategorize Spotify")
	assert.Contains(t, out, "Recommendations (1)")
	assert.Contains(t, out, "sub-1")
	assert.Contains(t, out, "Uncategorized → Music")
	assert.Contains(t, out, "Streaming audio service.")
	assert.Contains(t, out, "rules")
}

func TestView_DetailSavings(t *testing.T) {
	savings := 9.99
	p := testProposal("prop-1", "3 ways to save", model.ProposalActive)
	p.Type = model.ProposalSavingsList
	payload, err := json.Marshal(model.SavingsPayload{Suggestions: []model.SavingsSuggestion{
		{SubscriptionID: "sub-1", Suggestion: "Switch to the yearly plan", EstimatedSavings: &savings, Rationale: "Yearly works out cheaper."},
		{SubscriptionID: "sub-2", Suggestion: "Cancel the duplicate"},
	}})
	require.NoError(t, err)
	p.Payload = payload

	svc := &fakeReviewService{proposals: []model.Proposal{p}}
	m := loadedModel(t, svc)
	m, _ = pressKey(t, m, "enter")

	out := m.View()
	assert.Contains(t, out, "Suggestions (2)")
	assert.Contains(t, out, "Switch to the yearly plan")
	assert.Contains(t, out, "saves 9.99/mo")
	assert.Contains(t, out, "Cancel the duplicate")
	assert.Contains(t, out, "Estimated total: 9.99/mo")
}

func TestView_Help(t *testing.T) {
	svc := &fakeReviewService{}
	m := loadedModel(t, svc)
	m, _ = pressKey(t, m, "?")

	out := m.View()
	assert.Contains(t, out, "Help")
	assert.Contains(t, out, "Navigation")
	assert.Contains(t, out, "apply proposal")
	assert.Contains(t, out, "force quit")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly ten", truncate("exactly ten", 11))
	assert.Equal(t, "a much ...", truncate("a much longer title", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestFmtConfidence(t *testing.T) {
	assert.Equal(t, "n/a", fmtConfidence(nil))
	c := 0.86
	assert.Equal(t, "86%", fmtConfidence(&c))
}

func TestFmtExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "expired", fmtExpiry(now.Add(-time.Hour), now))
	assert.Equal(t, "expires in 5h", fmtExpiry(now.Add(5*time.Hour+time.Minute), now))
	assert.Equal(t, "expires in 13d", fmtExpiry(now.Add(13*24*time.Hour+time.Hour), now))
}

func TestFmtCategory(t *testing.T) {
	assert.Equal(t, "Uncategorized", fmtCategory(nil))
	empty := ""
	assert.Equal(t, "Uncategorized", fmtCategory(&empty))
	music := "Music"
	assert.Equal(t, "Music", fmtCategory(&music))
}

func TestReviewConfig_Validate(t *testing.T) {
	assert.Error(t, ReviewConfig{}.validate())
	assert.Error(t, ReviewConfig{Service: &fakeReviewService{}}.validate())
	assert.Error(t, ReviewConfig{OwnerID: "user-1"}.validate())
	assert.NoError(t, ReviewConfig{Service: &fakeReviewService{}, OwnerID: "user-1"}.validate())
}
