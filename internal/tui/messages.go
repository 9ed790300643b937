package tui

import (
	"github.com/tmetzger/subtrack/internal/model"
)

// Data loading messages.
type proposalsLoadedMsg struct {
	err       error
	proposals []model.Proposal
}

// Action result messages.
type proposalAppliedMsg struct {
	err   error
	patch *model.Patch
	id    string
}

type proposalDismissedMsg struct {
	err error
	id  string
}
