package assist

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/tmetzger/subtrack/internal/advisor"
	"github.com/tmetzger/subtrack/internal/model"
)

// Propose asks the recommendation backend for suggestions over the named
// subscriptions (or all of the owner's, when ids is empty) and stores the
// result as an ACTIVE proposal that expires in fourteen days. A backend
// failure or timeout persists nothing.
func (s *Service) Propose(ctx context.Context, ownerID string, typ model.ProposalType, subscriptionIDs []string) (*model.Proposal, error) {
	op := s.newOp(ownerID, model.ActionPropose, string(typ))

	if err := s.checkEnabled(ctx, op); err != nil {
		return nil, err
	}

	subs, err := s.loadTargets(ctx, ownerID, subscriptionIDs)
	if err != nil {
		s.recordFailure(ctx, op, err, nil)
		return nil, err
	}
	op.input = describeInput(len(subs))

	s.auditRequested(ctx, op, map[string]any{"type": string(typ), "subscriptions": len(subs)})

	if !typ.Valid() {
		failure := validationError(ReasonInvalidType, "unknown proposal type: %s", typ)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}

	callCtx, cancel := s.backendContext(ctx)
	defer cancel()

	summaries := Summaries(subs)
	var draft *advisor.ProposalDraft
	var draftErr error
	switch typ {
	case model.ProposalRecategorize:
		draft, draftErr = s.advisor.ProposeRecategorize(callCtx, summaries)
	case model.ProposalSavingsList:
		draft, draftErr = s.advisor.ProposeSavings(callCtx, summaries)
	}
	if draftErr != nil {
		var failure *Error
		if errors.Is(draftErr, advisor.ErrNoFindings) {
			failure = validationError(ReasonNoFindings, "nothing to recommend for these subscriptions")
		} else {
			failure = internalError(ReasonBackendFailed, "recommendation backend failed", draftErr)
		}
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}

	proposal, items, err := s.buildProposal(ownerID, typ, draft, subs)
	if err != nil {
		s.recordFailure(ctx, op, err, nil)
		return nil, err
	}

	if err := s.store.SaveProposal(ctx, proposal); err != nil {
		failure := internalError(ReasonStorageFailed, "failed to save proposal", err)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}

	output := proposal.Title
	if proposal.Summary != "" {
		output = proposal.Title + ": " + proposal.Summary
	}
	s.recordSuccess(ctx, op, output, proposal.Confidence, map[string]any{
		"proposal_id": proposal.ID,
		"type":        string(typ),
		"items":       items,
	})
	return proposal, nil
}

// buildProposal normalizes a backend draft into a persistable proposal.
// For category moves, each subscription's live category is captured as
// FromCategory here, at creation time; apply later refuses to run if the
// live value has drifted from it.
func (s *Service) buildProposal(ownerID string, typ model.ProposalType, draft *advisor.ProposalDraft, subs []model.Subscription) (*model.Proposal, int, error) {
	byID := make(map[string]*model.Subscription, len(subs))
	for i := range subs {
		byID[subs[i].ID] = &subs[i]
	}

	var payload any
	var confidences []float64
	var items int

	switch typ {
	case model.ProposalRecategorize:
		recs := make([]model.CategoryRecommendation, 0, len(draft.Recommendations))
		for _, rec := range draft.Recommendations {
			sub, ok := byID[rec.SubscriptionID]
			if !ok {
				continue
			}
			if model.EqualCategory(sub.Category, rec.ToCategory) {
				// The backend suggested the category the subscription
				// already has.
				continue
			}
			recs = append(recs, model.CategoryRecommendation{
				SubscriptionID: rec.SubscriptionID,
				FromCategory:   sub.Category,
				ToCategory:     rec.ToCategory,
				Rationale:      rec.Rationale,
			})
			confidences = append(confidences, rec.Confidence)
		}
		if len(recs) == 0 {
			return nil, 0, validationError(ReasonNoFindings, "nothing to recommend for these subscriptions")
		}
		payload = model.RecategorizePayload{Recommendations: recs}
		items = len(recs)

	case model.ProposalSavingsList:
		suggestions := make([]model.SavingsSuggestion, 0, len(draft.Suggestions))
		for _, sg := range draft.Suggestions {
			if _, ok := byID[sg.SubscriptionID]; !ok {
				continue
			}
			suggestions = append(suggestions, model.SavingsSuggestion{
				SubscriptionID:   sg.SubscriptionID,
				Suggestion:       sg.Suggestion,
				EstimatedSavings: sg.EstimatedSavings,
				Rationale:        sg.Rationale,
			})
			confidences = append(confidences, sg.Confidence)
		}
		if len(suggestions) == 0 {
			return nil, 0, validationError(ReasonNoFindings, "nothing to recommend for these subscriptions")
		}
		payload = model.SavingsPayload{Suggestions: suggestions}
		items = len(suggestions)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, internalError(ReasonStorageFailed, "failed to encode proposal payload", err)
	}

	now := s.now()
	proposal := &model.Proposal{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Type:       typ,
		Status:     model.ProposalActive,
		Title:      draft.Title,
		Summary:    draft.Summary,
		Provider:   s.advisor.Name(),
		Payload:    raw,
		Confidence: roundConfidence(confidences),
		CreatedAt:  now,
		ExpiresAt:  now.Add(model.ProposalTTL),
	}
	return proposal, items, nil
}
