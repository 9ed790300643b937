package assist

import (
	"context"
	"encoding/json"

	"github.com/tmetzger/subtrack/internal/model"
)

// Explain runs a read-only analysis of the owner's subscriptions for one
// topic. The result is returned and summarized into the action log; nothing
// else is persisted.
func (s *Service) Explain(ctx context.Context, ownerID, topic string, subscriptionIDs []string) (*model.ExplainResult, error) {
	op := s.newOp(ownerID, model.ActionExplain, topic)

	if err := s.checkEnabled(ctx, op); err != nil {
		return nil, err
	}

	subs, err := s.loadTargets(ctx, ownerID, subscriptionIDs)
	if err != nil {
		s.recordFailure(ctx, op, err, nil)
		return nil, err
	}
	op.input = describeInput(len(subs))

	s.auditRequested(ctx, op, map[string]any{"topic": topic, "subscriptions": len(subs)})

	if !model.KnownTopic(topic) {
		failure := validationError(ReasonInvalidTopic, "unknown explanation topic: %s", topic)
		s.recordFailure(ctx, op, failure, nil)
		return nil, failure
	}

	callCtx, cancel := s.backendContext(ctx)
	defer cancel()

	result, err := s.advisor.Explain(callCtx, topic, Summaries(subs))
	if err != nil {
		failure := internalError(ReasonBackendFailed, "recommendation backend failed", err)
		s.recordFailure(ctx, op, failure, map[string]any{"topic": topic})
		return nil, failure
	}

	output, _ := json.Marshal(result)
	s.recordSuccess(ctx, op, string(output), result.Confidence, map[string]any{
		"topic":    topic,
		"findings": len(result.Items),
	})
	return result, nil
}
