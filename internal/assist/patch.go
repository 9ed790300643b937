package assist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmetzger/subtrack/internal/model"
)

// BuildPatches validates a recategorize payload and derives both patches in
// one pass: forward[i] applies the recommendation, rollback[i] is forward[i]
// with the categories swapped. Computing the inverse here, from the same
// data, is what guarantees rollback restores the exact pre-apply state no
// matter what happens to the live records afterward.
func BuildPatches(payload *model.RecategorizePayload) (forward, rollback []model.CategoryChange, err error) {
	if payload == nil {
		return nil, nil, errors.New("payload is nil")
	}
	if err := payload.Validate(); err != nil {
		return nil, nil, err
	}

	forward = make([]model.CategoryChange, len(payload.Recommendations))
	rollback = make([]model.CategoryChange, len(payload.Recommendations))
	for i, rec := range payload.Recommendations {
		forward[i] = model.CategoryChange{
			SubscriptionID: rec.SubscriptionID,
			FromCategory:   rec.FromCategory,
			ToCategory:     rec.ToCategory,
		}
		rollback[i] = model.CategoryChange{
			SubscriptionID: rec.SubscriptionID,
			FromCategory:   rec.ToCategory,
			ToCategory:     rec.FromCategory,
		}
	}
	return forward, rollback, nil
}

// ParseRollback extracts the stored rollback changes from a patch,
// re-checking shape because the patch crossed a persistence boundary. A nil
// ToCategory is legal here: it restores an originally-unset category.
func ParseRollback(patch *model.Patch) ([]model.CategoryChange, error) {
	if patch == nil {
		return nil, errors.New("patch is nil")
	}
	if len(patch.RollbackPatch) == 0 {
		return nil, errors.New("rollback patch is empty")
	}
	for i, change := range patch.RollbackPatch {
		if strings.TrimSpace(change.SubscriptionID) == "" {
			return nil, fmt.Errorf("rollback change %d: subscription id cannot be empty", i)
		}
		if change.ToCategory != nil && strings.TrimSpace(*change.ToCategory) == "" {
			return nil, fmt.Errorf("rollback change %d: target category cannot be blank", i)
		}
	}
	return patch.RollbackPatch, nil
}
