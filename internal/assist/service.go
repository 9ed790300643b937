// Package assist implements the subscription assistant: it asks a
// recommendation backend for suggestions over redacted subscription data,
// stores them as time-boxed proposals, and applies accepted proposals as
// atomic, audited, exactly-reversible patches.
package assist

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/tmetzger/subtrack/internal/advisor"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
	"github.com/tmetzger/subtrack/internal/storage"
)

// Service orchestrates the assistant. All operations are owner-scoped and
// stateless between calls; the storage layer is the only synchronization
// point.
type Service struct {
	now            func() time.Time
	store          service.Storage
	advisor        advisor.Advisor
	backendTimeout time.Duration
}

// Config holds configuration options for the assistant.
type Config struct {
	// BackendTimeout bounds each recommendation backend call. A timeout is
	// treated like any other backend failure.
	BackendTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{BackendTimeout: 60 * time.Second}
}

// New creates an assistant service with default configuration.
func New(store service.Storage, adv advisor.Advisor) *Service {
	return NewWithConfig(store, adv, DefaultConfig())
}

// NewWithConfig creates an assistant service with custom configuration.
func NewWithConfig(store service.Storage, adv advisor.Advisor, cfg Config) *Service {
	timeout := cfg.BackendTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().BackendTimeout
	}
	return &Service{
		store:          store,
		advisor:        adv,
		backendTimeout: timeout,
		now:            time.Now,
	}
}

// Enable turns the assistant on for an owner. Nothing reaches the
// recommendation backend until this has been called.
func (s *Service) Enable(ctx context.Context, ownerID string) error {
	if err := s.store.SetAssistEnabled(ctx, ownerID, true); err != nil {
		return internalError(ReasonStorageFailed, "failed to enable assistance", err)
	}
	s.appendAudit(ctx, ownerID, model.AuditAssistEnabled, nil)
	slog.Info("assistance enabled", "owner", ownerID)
	return nil
}

// Disable turns the assistant off for an owner. Stored proposals and
// patches remain readable; the four assistant operations are refused.
func (s *Service) Disable(ctx context.Context, ownerID string) error {
	if err := s.store.SetAssistEnabled(ctx, ownerID, false); err != nil {
		return internalError(ReasonStorageFailed, "failed to disable assistance", err)
	}
	s.appendAudit(ctx, ownerID, model.AuditAssistDisabled, nil)
	slog.Info("assistance disabled", "owner", ownerID)
	return nil
}

// Enabled reports whether the owner has assistance turned on.
func (s *Service) Enabled(ctx context.Context, ownerID string) (bool, error) {
	enabled, err := s.store.GetAssistEnabled(ctx, ownerID)
	if err != nil {
		return false, internalError(ReasonStorageFailed, "failed to read assist permission", err)
	}
	return enabled, nil
}

// ListProposals returns the owner's visible proposals: ACTIVE and
// DISMISSED. Reading first expires any overdue ACTIVE proposals, so an
// expired proposal is never listed as actionable.
func (s *Service) ListProposals(ctx context.Context, ownerID string) ([]model.Proposal, error) {
	if err := s.sweepExpired(ctx, ownerID); err != nil {
		return nil, err
	}

	proposals, err := s.store.GetProposals(ctx, ownerID, []model.ProposalStatus{
		model.ProposalActive,
		model.ProposalDismissed,
	})
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to list proposals", err)
	}
	return proposals, nil
}

// GetProposal returns one proposal by id, in whatever status it is in.
// Expiry is evaluated first, so a stale ACTIVE proposal reads as EXPIRED.
func (s *Service) GetProposal(ctx context.Context, ownerID, id string) (*model.Proposal, error) {
	if err := s.sweepExpired(ctx, ownerID); err != nil {
		return nil, err
	}

	proposal, err := s.store.GetProposal(ctx, ownerID, id)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to load proposal", err)
	}
	if proposal == nil {
		return nil, notFoundError(ReasonNotFound, "proposal %s not found", id)
	}
	return proposal, nil
}

// DismissProposal moves an ACTIVE proposal to DISMISSED. Any other starting
// status is rejected; expiry is evaluated first so an overdue proposal
// cannot be dismissed into a different terminal state.
func (s *Service) DismissProposal(ctx context.Context, ownerID, id string) error {
	if err := s.sweepExpired(ctx, ownerID); err != nil {
		return err
	}

	err := s.store.UpdateProposalStatus(ctx, ownerID, id, model.ProposalActive, model.ProposalDismissed)
	switch {
	case err == nil:
		slog.Info("proposal dismissed", "owner", ownerID, "proposal", id)
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return notFoundError(ReasonNotFound, "proposal %s not found", id)
	case errors.Is(err, storage.ErrStatusConflict):
		return validationError(ReasonInvalidStatus, "proposal %s is not active", id)
	default:
		return internalError(ReasonStorageFailed, "failed to dismiss proposal", err)
	}
}

// ListPatches returns the owner's patches, newest first.
func (s *Service) ListPatches(ctx context.Context, ownerID string) ([]model.Patch, error) {
	patches, err := s.store.GetPatches(ctx, ownerID)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to list patches", err)
	}
	return patches, nil
}

// ActionLog returns the owner's most recent assistant calls.
func (s *Service) ActionLog(ctx context.Context, ownerID string, limit int) ([]model.ActionLogEntry, error) {
	entries, err := s.store.GetActionLog(ctx, ownerID, limit)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to read action log", err)
	}
	return entries, nil
}

// AuditTrail returns the owner's most recent audit entries.
func (s *Service) AuditTrail(ctx context.Context, ownerID string, limit int) ([]model.AuditEntry, error) {
	entries, err := s.store.GetAuditTrail(ctx, ownerID, limit)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to read audit trail", err)
	}
	return entries, nil
}

// sweepExpired transitions the owner's overdue ACTIVE proposals to EXPIRED.
// Called on every proposal read path, so expiry needs no background job.
func (s *Service) sweepExpired(ctx context.Context, ownerID string) error {
	expired, err := s.store.ExpireProposals(ctx, ownerID, s.now())
	if err != nil {
		return internalError(ReasonStorageFailed, "failed to expire proposals", err)
	}
	if expired > 0 {
		slog.Debug("expired proposals", "owner", ownerID, "count", expired)
	}
	return nil
}

// loadTargets resolves the subscriptions an explain or propose call will
// operate on: the named ids, or the owner's whole set when ids is empty. A
// missing or foreign-owned id fails the call.
func (s *Service) loadTargets(ctx context.Context, ownerID string, ids []string) ([]model.Subscription, error) {
	if len(ids) == 0 {
		subs, err := s.store.GetSubscriptions(ctx, ownerID)
		if err != nil {
			return nil, internalError(ReasonStorageFailed, "failed to load subscriptions", err)
		}
		return subs, nil
	}

	subs, err := s.store.GetSubscriptionsByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, internalError(ReasonStorageFailed, "failed to load subscriptions", err)
	}

	found := make(map[string]bool, len(subs))
	for _, sub := range subs {
		found[sub.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, notFoundError(ReasonSubscriptionNotFound, "subscription %s not found", id)
		}
	}
	return subs, nil
}

// roundConfidence reduces a mean confidence to two decimals for storage.
func roundConfidence(confidences []float64) *float64 {
	if len(confidences) == 0 {
		return nil
	}
	sum := 0.0
	for _, c := range confidences {
		sum += c
	}
	rounded := math.Round(sum/float64(len(confidences))*100) / 100
	return &rounded
}

func (s *Service) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.backendTimeout)
}
