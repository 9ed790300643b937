package assist

import (
	"fmt"

	"github.com/tmetzger/subtrack/internal/model"
)

// Summaries reduces full subscription records to the redacted view that may
// leave the process: billing facts only, no owner or account identifiers.
// This is the only form in which subscription data reaches a backend.
func Summaries(subs []model.Subscription) []model.SubscriptionSummary {
	out := make([]model.SubscriptionSummary, len(subs))
	for i := range subs {
		out[i] = subs[i].Summarize()
	}
	return out
}

// describeInput is the redacted input description stored in the action log
// in place of the actual records.
func describeInput(count int) string {
	if count == 1 {
		return "1 subscription"
	}
	return fmt.Sprintf("%d subscriptions", count)
}
