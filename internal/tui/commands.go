package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const serviceTimeout = 30 * time.Second

// loadProposals fetches the owner's visible proposals.
func (m Model) loadProposals() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, serviceTimeout)
		defer cancel()

		proposals, err := m.svc.ListProposals(ctx, m.ownerID)
		return proposalsLoadedMsg{proposals: proposals, err: err}
	}
}

// applyProposal applies a proposal and reports the recorded patch.
func (m Model) applyProposal(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, serviceTimeout)
		defer cancel()

		patch, err := m.svc.ApplyProposal(ctx, m.ownerID, id)
		return proposalAppliedMsg{id: id, patch: patch, err: err}
	}
}

// dismissProposal dismisses a proposal.
func (m Model) dismissProposal(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, serviceTimeout)
		defer cancel()

		err := m.svc.DismissProposal(ctx, m.ownerID, id)
		return proposalDismissedMsg{id: id, err: err}
	}
}
