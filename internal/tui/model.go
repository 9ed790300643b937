// Package tui implements the interactive proposal review screen.
//
// The review screen is a small bubbletea program: a list of assistant
// proposals, a detail view for the selected one, and apply/dismiss
// actions that call straight into the assist service. All state lives
// in Model and every mutation flows through Update.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tmetzger/subtrack/internal/assist"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/tui/themes"
)

// ReviewService is the slice of the assist service the review screen
// drives. Declared here so tests can substitute a fake.
type ReviewService interface {
	ListProposals(ctx context.Context, ownerID string) ([]model.Proposal, error)
	ApplyProposal(ctx context.Context, ownerID, id string) (*model.Patch, error)
	DismissProposal(ctx context.Context, ownerID, id string) error
}

// state represents the current screen of the review UI.
type state int

const (
	stateList state = iota
	stateDetail
	stateHelp
)

// Model holds the review UI state.
type Model struct {
	ctx       context.Context
	svc       ReviewService
	lastError error
	selected  *model.Proposal
	ownerID   string
	notice    string
	proposals []model.Proposal
	theme     themes.Theme
	keymap    KeyMap
	spinner   spinner.Model
	width     int
	height    int
	cursor    int
	state     state
	prevState state
	busy      bool
	ready     bool
	quitting  bool
}

func newModel(ctx context.Context, cfg ReviewConfig) Model {
	theme := themes.GetTheme(cfg.Theme)
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.Primary)),
	)
	return Model{
		ctx:     ctx,
		svc:     cfg.Service,
		ownerID: cfg.OwnerID,
		theme:   theme,
		keymap:  DefaultKeyMap(),
		spinner: sp,
		state:   stateList,
	}
}

// Init starts the spinner and kicks off the initial load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.spinner.Tick,
		m.loadProposals(),
	)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		// Only keep the spinner alive while something is in flight.
		if m.ready && !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case proposalsLoadedMsg:
		return m.handleProposalsLoaded(msg)

	case proposalAppliedMsg:
		if msg.err != nil {
			return m.handleActionError(msg.err)
		}
		m.lastError = nil
		m.notice = "Applied " + msg.id + ", patch " + msg.patch.ID + " recorded"
		return m, m.loadProposals()

	case proposalDismissedMsg:
		if msg.err != nil {
			return m.handleActionError(msg.err)
		}
		m.lastError = nil
		m.notice = "Dismissed " + msg.id
		return m, m.loadProposals()
	}

	return m, nil
}

// handleActionError surfaces a failed apply or dismiss. A conflict means
// the proposal moved on underneath us (it expired or was acted on
// elsewhere), so the list is stale too and gets reloaded while the error
// stays on screen.
func (m Model) handleActionError(err error) (tea.Model, tea.Cmd) {
	m.lastError = err
	m.notice = ""
	if assist.IsConflict(err) {
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.loadProposals())
	}
	m.busy = false
	return m, nil
}

func (m Model) handleProposalsLoaded(msg proposalsLoadedMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	m.ready = true
	if msg.err != nil {
		m.lastError = msg.err
		return m, nil
	}
	m.proposals = msg.proposals
	if m.cursor >= len(m.proposals) {
		m.cursor = len(m.proposals) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	// Point the detail screen at the reloaded copy; if the proposal is
	// no longer visible (applied or expired away), fall back to the list.
	if m.selected != nil {
		m.selected = m.findProposal(m.selected.ID)
		if m.selected == nil && m.state == stateDetail {
			m.state = stateList
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Global bindings work in every state.
	switch {
	case key.Matches(msg, m.keymap.ForceQuit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keymap.ClearScreen):
		return m, tea.ClearScreen
	case key.Matches(msg, m.keymap.ToggleHelp):
		if m.state == stateHelp {
			m.state = m.prevState
		} else {
			m.prevState = m.state
			m.state = stateHelp
		}
		return m, nil
	}

	if m.busy {
		return m, nil
	}

	switch m.state {
	case stateList:
		return m.handleListKeys(msg)
	case stateDetail:
		return m.handleDetailKeys(msg)
	case stateHelp:
		if key.Matches(msg, m.keymap.Back) || key.Matches(msg, m.keymap.Quit) {
			m.state = m.prevState
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keymap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keymap.Down):
		if m.cursor < len(m.proposals)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keymap.Home):
		m.cursor = 0
	case key.Matches(msg, m.keymap.End):
		if len(m.proposals) > 0 {
			m.cursor = len(m.proposals) - 1
		}
	case key.Matches(msg, m.keymap.Select):
		if p := m.currentProposal(); p != nil {
			m.selected = p
			m.state = stateDetail
			m.notice = ""
			m.lastError = nil
		}
	case key.Matches(msg, m.keymap.Apply):
		if p := m.currentProposal(); p != nil {
			return m.startApply(p.ID)
		}
	case key.Matches(msg, m.keymap.Dismiss):
		if p := m.currentProposal(); p != nil {
			return m.startDismiss(p.ID)
		}
	case key.Matches(msg, m.keymap.Refresh):
		m.busy = true
		m.notice = ""
		m.lastError = nil
		return m, tea.Batch(m.spinner.Tick, m.loadProposals())
	}
	return m, nil
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keymap.Back):
		m.selected = nil
		m.state = stateList
	case key.Matches(msg, m.keymap.Apply):
		if m.selected != nil {
			return m.startApply(m.selected.ID)
		}
	case key.Matches(msg, m.keymap.Dismiss):
		if m.selected != nil {
			return m.startDismiss(m.selected.ID)
		}
	}
	return m, nil
}

func (m Model) startApply(id string) (tea.Model, tea.Cmd) {
	m.busy = true
	m.notice = ""
	m.lastError = nil
	return m, tea.Batch(m.spinner.Tick, m.applyProposal(id))
}

func (m Model) startDismiss(id string) (tea.Model, tea.Cmd) {
	m.busy = true
	m.notice = ""
	m.lastError = nil
	return m, tea.Batch(m.spinner.Tick, m.dismissProposal(id))
}

func (m *Model) currentProposal() *model.Proposal {
	if m.cursor < 0 || m.cursor >= len(m.proposals) {
		return nil
	}
	return &m.proposals[m.cursor]
}

func (m *Model) findProposal(id string) *model.Proposal {
	for i := range m.proposals {
		if m.proposals[i].ID == id {
			return &m.proposals[i]
		}
	}
	return nil
}
