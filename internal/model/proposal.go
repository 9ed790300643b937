package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProposalType identifies what kind of change a proposal carries.
type ProposalType string

// Proposal type constants.
const (
	ProposalRecategorize ProposalType = "RECATEGORIZE"
	ProposalSavingsList  ProposalType = "SAVINGS_LIST"
)

// Valid reports whether the type is a known proposal type.
func (t ProposalType) Valid() bool {
	switch t {
	case ProposalRecategorize, ProposalSavingsList:
		return true
	default:
		return false
	}
}

// ProposalStatus tracks a proposal through its lifecycle.
type ProposalStatus string

// Proposal status constants.
const (
	ProposalActive     ProposalStatus = "ACTIVE"
	ProposalDismissed  ProposalStatus = "DISMISSED"
	ProposalExpired    ProposalStatus = "EXPIRED"
	ProposalApplied    ProposalStatus = "APPLIED"
	ProposalRolledBack ProposalStatus = "ROLLED_BACK"
)

// CanTransitionTo reports whether the lifecycle permits moving from the
// current status to the target. DISMISSED, EXPIRED and ROLLED_BACK are
// terminal; APPLIED may only move to ROLLED_BACK.
func (s ProposalStatus) CanTransitionTo(target ProposalStatus) bool {
	switch s {
	case ProposalActive:
		return target == ProposalDismissed || target == ProposalExpired || target == ProposalApplied
	case ProposalApplied:
		return target == ProposalRolledBack
	case ProposalDismissed, ProposalExpired, ProposalRolledBack:
		return false
	default:
		return false
	}
}

// ProposalTTL is how long a proposal stays actionable after creation.
// Expiry is evaluated lazily when proposals are read.
const ProposalTTL = 14 * 24 * time.Hour

// Proposal is a persisted AI recommendation awaiting a user decision.
type Proposal struct {
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ID         string
	OwnerID    string
	Title      string
	Summary    string
	Provider   string
	Type       ProposalType
	Status     ProposalStatus
	Payload    json.RawMessage
	Confidence *float64
}

// ExpiredAt reports whether the proposal's actionable window has passed.
func (p *Proposal) ExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Validate checks the proposal envelope (not the payload contents).
func (p *Proposal) Validate() error {
	if p == nil {
		return errors.New("proposal is nil")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("invalid proposal type: %q", p.Type)
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("proposal title cannot be empty")
	}
	if len(p.Payload) == 0 {
		return errors.New("proposal payload cannot be empty")
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return fmt.Errorf("confidence must be within [0,1], got %f", *p.Confidence)
	}
	return nil
}

// CategoryRecommendation is one item of a RECATEGORIZE payload. FromCategory
// records the subscription's live category at proposal time and anchors the
// staleness check at apply time. Nil means uncategorized on either side.
type CategoryRecommendation struct {
	SubscriptionID string  `json:"subscriptionId"`
	FromCategory   *string `json:"fromCategory"`
	ToCategory     *string `json:"toCategory"`
	Rationale      string  `json:"rationale,omitempty"`
}

// RecategorizePayload is the payload of a RECATEGORIZE proposal.
type RecategorizePayload struct {
	Recommendations []CategoryRecommendation `json:"recommendations"`
}

// Validate checks payload shape: at least one recommendation, every item
// naming a subscription, and no no-op moves.
func (p *RecategorizePayload) Validate() error {
	if len(p.Recommendations) == 0 {
		return errors.New("recategorize payload must contain at least one recommendation")
	}
	for i, rec := range p.Recommendations {
		if strings.TrimSpace(rec.SubscriptionID) == "" {
			return fmt.Errorf("recommendation %d: subscription id cannot be empty", i)
		}
		if rec.ToCategory != nil && strings.TrimSpace(*rec.ToCategory) == "" {
			return fmt.Errorf("recommendation %d: target category cannot be blank", i)
		}
		if EqualCategory(rec.FromCategory, rec.ToCategory) {
			return fmt.Errorf("recommendation %d: target category equals current category", i)
		}
	}
	return nil
}

// SavingsSuggestion is one item of a SAVINGS_LIST payload. Savings proposals
// are advisory only and can never be applied.
type SavingsSuggestion struct {
	SubscriptionID   string   `json:"subscriptionId"`
	Suggestion       string   `json:"suggestion"`
	EstimatedSavings *float64 `json:"estimatedSavings,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
}

// SavingsPayload is the payload of a SAVINGS_LIST proposal.
type SavingsPayload struct {
	Suggestions []SavingsSuggestion `json:"suggestions"`
}

// Validate checks payload shape.
func (p *SavingsPayload) Validate() error {
	if len(p.Suggestions) == 0 {
		return errors.New("savings payload must contain at least one suggestion")
	}
	for i, s := range p.Suggestions {
		if strings.TrimSpace(s.SubscriptionID) == "" {
			return fmt.Errorf("suggestion %d: subscription id cannot be empty", i)
		}
		if strings.TrimSpace(s.Suggestion) == "" {
			return fmt.Errorf("suggestion %d: suggestion text cannot be empty", i)
		}
		if s.EstimatedSavings != nil && *s.EstimatedSavings < 0 {
			return fmt.Errorf("suggestion %d: estimated savings cannot be negative", i)
		}
	}
	return nil
}

// EqualCategory reports whether two nullable categories match. Both nil
// counts as equal (uncategorized on both sides).
func EqualCategory(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
