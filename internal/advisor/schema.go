package advisor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmetzger/subtrack/internal/model"
)

// Response contract bounds. Backend output exceeding these is rejected as a
// backend failure rather than stored or shown.
const (
	maxTitleLength     = 120
	maxSummaryLength   = 400
	maxRationaleLength = 400
)

// ErrBadResponse marks backend output that violates the response contract.
var ErrBadResponse = errors.New("backend response violates contract")

// knownIDs builds the membership set a response may reference.
func knownIDs(subs []model.SubscriptionSummary) map[string]bool {
	ids := make(map[string]bool, len(subs))
	for _, sub := range subs {
		ids[sub.SubscriptionID] = true
	}
	return ids
}

// validateExplainResult checks an explain response against the contract:
// bounded text, confidences within range, and no references to
// subscriptions outside the request.
func validateExplainResult(result *model.ExplainResult, subs []model.SubscriptionSummary) error {
	if result == nil {
		return fmt.Errorf("%w: empty result", ErrBadResponse)
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	ids := knownIDs(subs)
	for i, item := range result.Items {
		if !ids[item.SubscriptionID] {
			return fmt.Errorf("%w: item %d references unknown subscription %s", ErrBadResponse, i, item.SubscriptionID)
		}
	}
	return nil
}

// validateRecategorizeDraft checks a recategorize draft against the contract.
func validateRecategorizeDraft(draft *ProposalDraft, subs []model.SubscriptionSummary) error {
	if err := validateDraftEnvelope(draft); err != nil {
		return err
	}
	if len(draft.Recommendations) == 0 {
		return fmt.Errorf("%w: no recommendations", ErrBadResponse)
	}
	if len(draft.Suggestions) != 0 {
		return fmt.Errorf("%w: recategorize draft carries savings suggestions", ErrBadResponse)
	}

	ids := knownIDs(subs)
	for i, rec := range draft.Recommendations {
		if !ids[rec.SubscriptionID] {
			return fmt.Errorf("%w: recommendation %d references unknown subscription %s", ErrBadResponse, i, rec.SubscriptionID)
		}
		if rec.ToCategory != nil && strings.TrimSpace(*rec.ToCategory) == "" {
			return fmt.Errorf("%w: recommendation %d has a blank target category", ErrBadResponse, i)
		}
		if len(rec.Rationale) > maxRationaleLength {
			return fmt.Errorf("%w: recommendation %d rationale too long", ErrBadResponse, i)
		}
		if rec.Confidence < 0 || rec.Confidence > 1 {
			return fmt.Errorf("%w: recommendation %d confidence %f out of range", ErrBadResponse, i, rec.Confidence)
		}
	}
	return nil
}

// validateSavingsDraft checks a savings draft against the contract.
func validateSavingsDraft(draft *ProposalDraft, subs []model.SubscriptionSummary) error {
	if err := validateDraftEnvelope(draft); err != nil {
		return err
	}
	if len(draft.Suggestions) == 0 {
		return fmt.Errorf("%w: no suggestions", ErrBadResponse)
	}
	if len(draft.Recommendations) != 0 {
		return fmt.Errorf("%w: savings draft carries category recommendations", ErrBadResponse)
	}

	ids := knownIDs(subs)
	for i, s := range draft.Suggestions {
		if !ids[s.SubscriptionID] {
			return fmt.Errorf("%w: suggestion %d references unknown subscription %s", ErrBadResponse, i, s.SubscriptionID)
		}
		if strings.TrimSpace(s.Suggestion) == "" {
			return fmt.Errorf("%w: suggestion %d is empty", ErrBadResponse, i)
		}
		if len(s.Suggestion) > maxSummaryLength || len(s.Rationale) > maxRationaleLength {
			return fmt.Errorf("%w: suggestion %d text too long", ErrBadResponse, i)
		}
		if s.EstimatedSavings != nil && *s.EstimatedSavings < 0 {
			return fmt.Errorf("%w: suggestion %d has negative savings", ErrBadResponse, i)
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return fmt.Errorf("%w: suggestion %d confidence %f out of range", ErrBadResponse, i, s.Confidence)
		}
	}
	return nil
}

func validateDraftEnvelope(draft *ProposalDraft) error {
	if draft == nil {
		return fmt.Errorf("%w: empty draft", ErrBadResponse)
	}
	if strings.TrimSpace(draft.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrBadResponse)
	}
	if len(draft.Title) > maxTitleLength {
		return fmt.Errorf("%w: title too long", ErrBadResponse)
	}
	if len(draft.Summary) > maxSummaryLength {
		return fmt.Errorf("%w: summary too long", ErrBadResponse)
	}
	return nil
}
