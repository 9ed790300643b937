package model

import (
	"errors"
	"fmt"
	"strings"
)

// Explanation topics the assistant understands.
const (
	TopicDuplicate         = "duplicate"
	TopicYearlyVsMonthly   = "yearly_vs_monthly"
	TopicCategoryRationale = "category_rationale"
)

// KnownTopic reports whether the topic is one the assistant can explain.
func KnownTopic(topic string) bool {
	switch topic {
	case TopicDuplicate, TopicYearlyVsMonthly, TopicCategoryRationale:
		return true
	default:
		return false
	}
}

// ExplainItem is one per-subscription observation in an explanation.
type ExplainItem struct {
	SubscriptionID string  `json:"subscriptionId"`
	Summary        string  `json:"summary"`
	Rationale      string  `json:"rationale,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// ExplainResult is a read-only analysis of the owner's subscriptions. It is
// returned to the caller and summarized into the action log, never persisted
// whole.
type ExplainResult struct {
	Topic      string        `json:"topic"`
	Items      []ExplainItem `json:"items"`
	Confidence *float64      `json:"confidence,omitempty"`
}

// Validate checks the result against the response contract: bounded text
// and confidences in range. An empty item list is a valid "nothing found"
// analysis.
func (r *ExplainResult) Validate() error {
	if r == nil {
		return errors.New("explain result is nil")
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.SubscriptionID) == "" {
			return fmt.Errorf("item %d: subscription id cannot be empty", i)
		}
		if strings.TrimSpace(item.Summary) == "" {
			return fmt.Errorf("item %d: summary cannot be empty", i)
		}
		if len(item.Summary) > 400 {
			return fmt.Errorf("item %d: summary exceeds 400 characters", i)
		}
		if len(item.Rationale) > 400 {
			return fmt.Errorf("item %d: rationale exceeds 400 characters", i)
		}
		if item.Confidence < 0 || item.Confidence > 1 {
			return fmt.Errorf("item %d: confidence must be within [0,1], got %f", i, item.Confidence)
		}
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("confidence must be within [0,1], got %f", *r.Confidence)
	}
	return nil
}
