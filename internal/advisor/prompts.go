package advisor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

// promptSubscription is the wire form of a redacted summary sent to live
// backends. Only billing facts appear; owner identity never does.
type promptSubscription struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Interval        string  `json:"interval"`
	NextBillingDate string  `json:"nextBillingDate,omitempty"`
	Category        *string `json:"category"`
	IsTrial         bool    `json:"isTrial,omitempty"`
}

func encodeSummaries(subs []model.SubscriptionSummary) (string, error) {
	wire := make([]promptSubscription, len(subs))
	for i, sub := range subs {
		wire[i] = promptSubscription{
			ID:       sub.SubscriptionID,
			Name:     sub.Name,
			Amount:   sub.Amount,
			Currency: sub.Currency,
			Interval: string(sub.Interval),
			Category: sub.Category,
			IsTrial:  sub.IsTrial,
		}
		if !sub.NextBillingDate.IsZero() {
			wire[i].NextBillingDate = sub.NextBillingDate.Format(time.DateOnly)
		}
	}

	encoded, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to encode subscriptions: %w", err)
	}
	return string(encoded), nil
}

const advisorSystemPrompt = "You are a subscription spending advisor. You receive a JSON list of " +
	"subscriptions and answer with a single JSON object in exactly the requested shape. " +
	"Respond with JSON only: no prose, no markdown fences. Reference subscriptions strictly " +
	"by the ids you were given. Keep every summary and rationale under 400 characters and " +
	"every confidence between 0 and 1."

var explainTopicInstructions = map[string]string{
	model.TopicDuplicate: "Identify subscriptions that appear to be duplicates of each other " +
		"(same or overlapping service). Only report genuine overlaps.",
	model.TopicYearlyVsMonthly: "For each subscription, compare its billing interval against the " +
		"alternative: what monthly plans cost over a year, and what switching to yearly billing " +
		"would plausibly save.",
	model.TopicCategoryRationale: "For each subscription, explain whether its current category fits " +
		"(or which category would fit if it has none) and why.",
}

func explainPrompt(topic string, subs []model.SubscriptionSummary) (string, error) {
	encoded, err := encodeSummaries(subs)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Subscriptions:\n")
	b.WriteString(encoded)
	b.WriteString("\n\nTask: ")
	b.WriteString(explainTopicInstructions[topic])
	b.WriteString("\n\nAnswer with this JSON shape:\n")
	b.WriteString(`{"items":[{"subscriptionId":"...","summary":"...","rationale":"...","confidence":0.0}]}`)
	b.WriteString("\nAn empty items list is the correct answer when there is nothing to report.")
	return b.String(), nil
}

func recategorizePrompt(subs []model.SubscriptionSummary) (string, error) {
	encoded, err := encodeSummaries(subs)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Subscriptions:\n")
	b.WriteString(encoded)
	b.WriteString("\n\nTask: Propose better categories where a subscription is uncategorized or ")
	b.WriteString("miscategorized. Skip subscriptions whose category already fits. Use null for ")
	b.WriteString("toCategory only to clear a wrong category you cannot improve on.")
	b.WriteString("\n\nAnswer with this JSON shape:\n")
	b.WriteString(`{"title":"...","summary":"...","recommendations":[{"subscriptionId":"...","toCategory":"...","rationale":"...","confidence":0.0}]}`)
	b.WriteString("\nAn empty recommendations list is the correct answer when every category fits.")
	return b.String(), nil
}

func savingsPrompt(subs []model.SubscriptionSummary) (string, error) {
	encoded, err := encodeSummaries(subs)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Subscriptions:\n")
	b.WriteString(encoded)
	b.WriteString("\n\nTask: Suggest concrete ways to spend less: duplicates to cancel, monthly ")
	b.WriteString("plans worth switching to yearly, trials about to convert, or services that look ")
	b.WriteString("abandoned. estimatedSavings is the yearly amount saved, omitted when unknowable.")
	b.WriteString("\n\nAnswer with this JSON shape:\n")
	b.WriteString(`{"title":"...","summary":"...","suggestions":[{"subscriptionId":"...","suggestion":"...","rationale":"...","estimatedSavings":0.0,"confidence":0.0}]}`)
	b.WriteString("\nAn empty suggestions list is the correct answer when nothing would help.")
	return b.String(), nil
}
