// Package storage provides the data persistence layer for the subtrack application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmetzger/subtrack/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidProposal     = errors.New("invalid proposal")
	ErrInvalidPatch        = errors.New("invalid patch")
	ErrInvalidLogEntry     = errors.New("invalid log entry")
	ErrNotFound            = errors.New("record not found")
	ErrStatusConflict      = errors.New("status changed since read")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateSubscription validates a subscription before persistence.
func validateSubscription(sub *model.Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription", ErrNilParameter)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSubscription)
	}
	if sub.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidSubscription)
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	return nil
}

// validateProposal validates a proposal before persistence.
func validateProposal(proposal *model.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("%w: proposal", ErrNilParameter)
	}
	if proposal.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidProposal)
	}
	if proposal.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidProposal)
	}
	if err := proposal.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	switch proposal.Status {
	case model.ProposalActive, model.ProposalDismissed, model.ProposalExpired,
		model.ProposalApplied, model.ProposalRolledBack:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProposal, proposal.Status)
	}
	return nil
}

// validatePatch validates a patch before persistence.
func validatePatch(patch *model.Patch) error {
	if patch == nil {
		return fmt.Errorf("%w: patch", ErrNilParameter)
	}
	if patch.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidPatch)
	}
	if patch.ProposalID == "" {
		return fmt.Errorf("%w: missing proposal ID", ErrInvalidPatch)
	}
	if patch.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidPatch)
	}
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	return nil
}

// validateActionLogEntry validates an action log entry before append.
func validateActionLogEntry(entry *model.ActionLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidLogEntry)
	}
	switch entry.ActionType {
	case model.ActionExplain, model.ActionPropose, model.ActionApply, model.ActionRollback:
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidLogEntry, entry.ActionType)
	}
	return nil
}

// validateAuditEntry validates an audit entry before append.
func validateAuditEntry(entry *model.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidLogEntry)
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("%w: missing action", ErrInvalidLogEntry)
	}
	return nil
}
