// Package advisor provides the recommendation backends for the assistant.
// Backends are interchangeable: an offline rules engine for development and
// tests, and live OpenAI and Anthropic providers. Every backend validates
// its own output against the fixed response contract before returning it,
// so callers never see malformed drafts.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
)

// ErrNoFindings is returned when a backend has nothing to recommend for the
// given subscriptions. Callers treat it as an empty result, not a failure.
var ErrNoFindings = errors.New("no findings for these subscriptions")

// Advisor is the recommendation backend contract. Implementations receive
// redacted subscription summaries only and must never be handed raw records.
type Advisor interface {
	// Explain produces a read-only analysis of the given subscriptions for
	// one topic. Nothing is persisted.
	Explain(ctx context.Context, topic string, subs []model.SubscriptionSummary) (*model.ExplainResult, error)
	// ProposeRecategorize drafts category moves for the given subscriptions.
	ProposeRecategorize(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error)
	// ProposeSavings drafts cost-saving suggestions for the given subscriptions.
	ProposeSavings(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error)
	// Name identifies the backend in logs and stored proposals.
	Name() string
	// Close releases any background resources.
	Close() error
}

// RecommendationDraft is one proposed category move. The advisor supplies
// the target; the caller anchors the source category from live data when the
// proposal is persisted.
type RecommendationDraft struct {
	SubscriptionID string
	ToCategory     *string
	Rationale      string
	Confidence     float64
}

// SavingsDraft is one proposed cost-saving action.
type SavingsDraft struct {
	SubscriptionID   string
	Suggestion       string
	Rationale        string
	EstimatedSavings *float64
	Confidence       float64
}

// ProposalDraft is an advisor's raw output for a propose call. Exactly one
// of Recommendations or Suggestions is populated, matching the draft type.
type ProposalDraft struct {
	Title           string
	Summary         string
	Recommendations []RecommendationDraft
	Suggestions     []SavingsDraft
}

// Config holds configuration for constructing an advisor.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}

// New constructs the advisor selected by cfg.Provider. The advisor is built
// once at startup and injected into the assist service; provider selection
// never happens per call.
func New(cfg Config) (Advisor, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "offline":
		return NewOffline(), nil
	case "openai":
		return newOpenAIAdvisor(cfg)
	case "anthropic":
		return newAnthropicAdvisor(cfg)
	default:
		return nil, fmt.Errorf("unsupported advisor provider: %s", cfg.Provider)
	}
}

// retryOptions derives the provider call retry policy from cfg.
func retryOptions(cfg Config) service.RetryOptions {
	opts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay == 0 {
		opts.InitialDelay = time.Second
	}
	return opts
}
