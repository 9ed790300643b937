package model

import (
	"errors"
	"fmt"
	"time"
)

// PatchStatus tracks whether an applied patch is still in effect.
type PatchStatus string

// Patch status constants.
const (
	PatchApplied    PatchStatus = "APPLIED"
	PatchRolledBack PatchStatus = "ROLLED_BACK"
)

// CategoryChange is one subscription's category move inside a patch. In a
// forward patch FromCategory is the pre-apply category; in a rollback patch
// the two are mirrored so replaying it restores the original state.
type CategoryChange struct {
	SubscriptionID string  `json:"subscriptionId"`
	FromCategory   *string `json:"fromCategory"`
	ToCategory     *string `json:"toCategory"`
}

// Patch records an applied proposal's mutations together with their exact
// inverse. It is the undo ticket for a proposal application.
type Patch struct {
	AppliedAt     time.Time
	RolledBackAt  *time.Time
	ID            string
	ProposalID    string
	OwnerID       string
	Type          ProposalType
	Status        PatchStatus
	ForwardPatch  []CategoryChange
	RollbackPatch []CategoryChange
}

// Validate checks structural integrity: rollback[i] must be forward[i]
// with from/to swapped.
func (p *Patch) Validate() error {
	if p == nil {
		return errors.New("patch is nil")
	}
	if p.Type != ProposalRecategorize {
		return fmt.Errorf("patches only support %s proposals, got %q", ProposalRecategorize, p.Type)
	}
	if len(p.ForwardPatch) == 0 {
		return errors.New("forward patch cannot be empty")
	}
	if len(p.RollbackPatch) != len(p.ForwardPatch) {
		return fmt.Errorf("rollback patch length %d does not match forward patch length %d",
			len(p.RollbackPatch), len(p.ForwardPatch))
	}
	for i := range p.ForwardPatch {
		fwd, rb := p.ForwardPatch[i], p.RollbackPatch[i]
		if fwd.SubscriptionID != rb.SubscriptionID {
			return fmt.Errorf("change %d: forward and rollback reference different subscriptions", i)
		}
		if !EqualCategory(fwd.FromCategory, rb.ToCategory) || !EqualCategory(fwd.ToCategory, rb.FromCategory) {
			return fmt.Errorf("change %d: rollback is not the inverse of forward", i)
		}
	}
	return nil
}
