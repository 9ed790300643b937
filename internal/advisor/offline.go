package advisor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/tmetzger/subtrack/internal/model"
)

// categoryKeywords maps merchant name fragments to category guesses.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Music", []string{"spotify", "tidal", "deezer", "music"}},
	{"Entertainment", []string{"netflix", "hulu", "disney", "hbo", "paramount", "peacock", "prime video"}},
	{"Cloud Storage", []string{"dropbox", "icloud", "google one", "onedrive", "backblaze", "storage", "backup"}},
	{"Software", []string{"adobe", "figma", "github", "jetbrains", "notion", "1password", "office"}},
	{"Fitness", []string{"peloton", "strava", "gym", "fitness", "class pass"}},
	{"News", []string{"times", "post", "journal", "economist", "news"}},
	{"Gaming", []string{"xbox", "playstation", "nintendo", "steam", "game pass"}},
}

// Offline is the deterministic rules backend. It needs no network or API
// key, doubles as the test backend, and records every call so tests can
// verify what the assistant sent it.
type Offline struct {
	forcedErr error
	calls     []OfflineCall
	mu        sync.Mutex
}

// OfflineCall records one request made to the offline backend.
type OfflineCall struct {
	Op            string
	Topic         string
	Subscriptions []string
}

// NewOffline creates the offline rules backend.
func NewOffline() *Offline {
	return &Offline{calls: make([]OfflineCall, 0)}
}

// Name identifies the backend.
func (o *Offline) Name() string { return "offline" }

// Close is a no-op; the offline backend holds no resources.
func (o *Offline) Close() error { return nil }

// SetError forces every subsequent call to fail with err until reset with
// SetError(nil). Used by tests to exercise backend failure paths.
func (o *Offline) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forcedErr = err
}

// GetCalls returns all recorded calls for verification in tests.
func (o *Offline) GetCalls() []OfflineCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	calls := make([]OfflineCall, len(o.calls))
	copy(calls, o.calls)
	return calls
}

// CallCount returns the number of recorded calls.
func (o *Offline) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// Reset clears all recorded calls and any forced error.
func (o *Offline) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = make([]OfflineCall, 0)
	o.forcedErr = nil
}

func (o *Offline) record(op, topic string, subs []model.SubscriptionSummary) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.SubscriptionID
	}
	o.calls = append(o.calls, OfflineCall{Op: op, Topic: topic, Subscriptions: ids})
	return o.forcedErr
}

// Explain analyzes the subscriptions for one topic.
func (o *Offline) Explain(ctx context.Context, topic string, subs []model.SubscriptionSummary) (*model.ExplainResult, error) {
	if err := o.record("explain", topic, subs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &model.ExplainResult{Topic: topic}
	switch topic {
	case model.TopicDuplicate:
		result.Items = duplicateItems(subs)
	case model.TopicYearlyVsMonthly:
		result.Items = yearlyVsMonthlyItems(subs)
	case model.TopicCategoryRationale:
		result.Items = categoryRationaleItems(subs)
	default:
		return nil, fmt.Errorf("unknown explanation topic: %s", topic)
	}

	if len(result.Items) > 0 {
		mean := 0.0
		for _, item := range result.Items {
			mean += item.Confidence
		}
		mean = roundConfidence(mean / float64(len(result.Items)))
		result.Confidence = &mean
	}

	if err := validateExplainResult(result, subs); err != nil {
		return nil, err
	}
	return result, nil
}

// ProposeRecategorize drafts keyword-based category moves.
func (o *Offline) ProposeRecategorize(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	if err := o.record("propose_recategorize", "", subs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []RecommendationDraft
	for _, sub := range subs {
		guess := guessCategory(sub.Name)
		if guess == "" {
			continue
		}
		if sub.Category != nil && *sub.Category == guess {
			continue
		}
		target := guess
		rationale := fmt.Sprintf("%s matches the %s category", sub.Name, guess)
		confidence := 0.85
		if sub.Category != nil {
			rationale = fmt.Sprintf("%s looks like %s rather than %s", sub.Name, guess, *sub.Category)
			confidence = 0.7
		}
		recs = append(recs, RecommendationDraft{
			SubscriptionID: sub.SubscriptionID,
			ToCategory:     &target,
			Rationale:      rationale,
			Confidence:     confidence,
		})
	}
	if len(recs) == 0 {
		return nil, ErrNoFindings
	}

	draft := &ProposalDraft{
		Title:           "Tidy up subscription categories",
		Summary:         fmt.Sprintf("%d subscriptions could be categorized more precisely", len(recs)),
		Recommendations: recs,
	}
	if err := validateRecategorizeDraft(draft, subs); err != nil {
		return nil, err
	}
	return draft, nil
}

// ProposeSavings drafts cost-saving suggestions: duplicates to cancel,
// monthly plans worth switching to yearly, and trials about to convert.
func (o *Offline) ProposeSavings(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	if err := o.record("propose_savings", "", subs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var suggestions []SavingsDraft

	for _, group := range duplicateGroups(subs) {
		cheapest := group[0]
		for _, sub := range group[1:] {
			if sub.Amount < cheapest.Amount {
				cheapest = sub
			}
		}
		for _, sub := range group {
			if sub.SubscriptionID == cheapest.SubscriptionID {
				continue
			}
			savings := monthlyCost(sub) * 12
			suggestions = append(suggestions, SavingsDraft{
				SubscriptionID:   sub.SubscriptionID,
				Suggestion:       fmt.Sprintf("Cancel %s; it duplicates another subscription", sub.Name),
				Rationale:        fmt.Sprintf("%d subscriptions look like the same service", len(group)),
				EstimatedSavings: &savings,
				Confidence:       0.75,
			})
		}
	}

	for _, sub := range subs {
		if sub.Interval == model.IntervalMonthly && sub.Amount > 0 {
			// Yearly plans commonly price at ten monthly payments.
			savings := sub.Amount * 2
			suggestions = append(suggestions, SavingsDraft{
				SubscriptionID:   sub.SubscriptionID,
				Suggestion:       fmt.Sprintf("Switch %s to yearly billing", sub.Name),
				Rationale:        fmt.Sprintf("Paying %.2f monthly adds up to %.2f a year; yearly plans usually cost less", sub.Amount, sub.Amount*12),
				EstimatedSavings: &savings,
				Confidence:       0.6,
			})
		}
		if sub.IsTrial {
			savings := monthlyCost(sub) * 12
			suggestions = append(suggestions, SavingsDraft{
				SubscriptionID:   sub.SubscriptionID,
				Suggestion:       fmt.Sprintf("Decide on %s before the trial converts", sub.Name),
				Rationale:        "Trial subscriptions quietly convert to paid plans",
				EstimatedSavings: &savings,
				Confidence:       0.8,
			})
		}
	}

	if len(suggestions) == 0 {
		return nil, ErrNoFindings
	}

	draft := &ProposalDraft{
		Title:       "Ways to spend less on subscriptions",
		Summary:     fmt.Sprintf("%d savings opportunities found", len(suggestions)),
		Suggestions: suggestions,
	}
	if err := validateSavingsDraft(draft, subs); err != nil {
		return nil, err
	}
	return draft, nil
}

// duplicateGroups clusters subscriptions whose normalized names match.
func duplicateGroups(subs []model.SubscriptionSummary) [][]model.SubscriptionSummary {
	byKey := make(map[string][]model.SubscriptionSummary)
	order := make([]string, 0)
	for _, sub := range subs {
		key := normalizeName(sub.Name)
		if key == "" {
			continue
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], sub)
	}

	var groups [][]model.SubscriptionSummary
	for _, key := range order {
		if group := byKey[key]; len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

func duplicateItems(subs []model.SubscriptionSummary) []model.ExplainItem {
	var items []model.ExplainItem
	for _, group := range duplicateGroups(subs) {
		names := make([]string, len(group))
		total := 0.0
		for i, sub := range group {
			names[i] = sub.Name
			total += monthlyCost(sub)
		}
		for _, sub := range group {
			items = append(items, model.ExplainItem{
				SubscriptionID: sub.SubscriptionID,
				Summary:        fmt.Sprintf("%s appears %d times (%s)", sub.Name, len(group), strings.Join(names, ", ")),
				Rationale:      fmt.Sprintf("Combined these cost %.2f per month; one is probably enough", total),
				Confidence:     0.85,
			})
		}
	}
	return items
}

func yearlyVsMonthlyItems(subs []model.SubscriptionSummary) []model.ExplainItem {
	var items []model.ExplainItem
	for _, sub := range subs {
		switch sub.Interval {
		case model.IntervalMonthly:
			items = append(items, model.ExplainItem{
				SubscriptionID: sub.SubscriptionID,
				Summary:        fmt.Sprintf("%s costs %.2f monthly, %.2f over a year", sub.Name, sub.Amount, sub.Amount*12),
				Rationale:      "Yearly plans usually price at ten monthly payments; switching would save about two months",
				Confidence:     0.7,
			})
		case model.IntervalYearly:
			items = append(items, model.ExplainItem{
				SubscriptionID: sub.SubscriptionID,
				Summary:        fmt.Sprintf("%s is billed yearly at %.2f, about %.2f per month", sub.Name, sub.Amount, sub.Amount/12),
				Rationale:      "Already on the cheaper yearly cycle",
				Confidence:     0.9,
			})
		}
	}
	return items
}

func categoryRationaleItems(subs []model.SubscriptionSummary) []model.ExplainItem {
	var items []model.ExplainItem
	for _, sub := range subs {
		guess := guessCategory(sub.Name)
		switch {
		case sub.Category == nil && guess != "":
			items = append(items, model.ExplainItem{
				SubscriptionID: sub.SubscriptionID,
				Summary:        fmt.Sprintf("%s is uncategorized; %s would fit", sub.Name, guess),
				Rationale:      fmt.Sprintf("The name matches services usually filed under %s", guess),
				Confidence:     0.8,
			})
		case sub.Category != nil && guess == *sub.Category:
			items = append(items, model.ExplainItem{
				SubscriptionID: sub.SubscriptionID,
				Summary:        fmt.Sprintf("%s fits its %s category", sub.Name, *sub.Category),
				Rationale:      fmt.Sprintf("The name matches services usually filed under %s", guess),
				Confidence:     0.9,
			})
		case sub.Category != nil:
			items = append(items, model.ExplainItem{
				SubscriptionID: sub.SubscriptionID,
				Summary:        fmt.Sprintf("%s is filed under %s", sub.Name, *sub.Category),
				Rationale:      "No strong signal either way; the category was probably set by hand",
				Confidence:     0.55,
			})
		}
	}
	return items
}

func guessCategory(name string) string {
	lower := strings.ToLower(name)
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				return entry.category
			}
		}
	}
	return ""
}

func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func monthlyCost(sub model.SubscriptionSummary) float64 {
	if sub.Interval == model.IntervalYearly {
		return sub.Amount / 12
	}
	return sub.Amount
}

func roundConfidence(c float64) float64 {
	return math.Round(c*100) / 100
}
