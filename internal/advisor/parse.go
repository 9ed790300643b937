package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmetzger/subtrack/internal/model"
)

// cleanMarkdownWrapper strips markdown code fences that models sometimes
// wrap around JSON despite instructions not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if newline := strings.Index(content, "\n"); newline != -1 {
			content = content[newline+1:]
		} else {
			content = strings.TrimPrefix(content, "```json")
			content = strings.TrimPrefix(content, "```")
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	return strings.TrimSpace(content)
}

func parseExplainResponse(topic, content string, subs []model.SubscriptionSummary) (*model.ExplainResult, error) {
	var wire struct {
		Items []struct {
			SubscriptionID string  `json:"subscriptionId"`
			Summary        string  `json:"summary"`
			Rationale      string  `json:"rationale,omitempty"`
			Confidence     float64 `json:"confidence"`
		} `json:"items"`
	}

	content = cleanMarkdownWrapper(content)
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrBadResponse, err)
	}

	result := &model.ExplainResult{
		Topic: topic,
		Items: make([]model.ExplainItem, 0, len(wire.Items)),
	}
	for _, item := range wire.Items {
		result.Items = append(result.Items, model.ExplainItem{
			SubscriptionID: item.SubscriptionID,
			Summary:        item.Summary,
			Rationale:      item.Rationale,
			Confidence:     item.Confidence,
		})
	}

	if err := validateExplainResult(result, subs); err != nil {
		return nil, err
	}
	return result, nil
}

func parseRecategorizeResponse(content string, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	var wire struct {
		Title           string `json:"title"`
		Summary         string `json:"summary"`
		Recommendations []struct {
			SubscriptionID string  `json:"subscriptionId"`
			ToCategory     *string `json:"toCategory"`
			Rationale      string  `json:"rationale"`
			Confidence     float64 `json:"confidence"`
		} `json:"recommendations"`
	}

	content = cleanMarkdownWrapper(content)
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrBadResponse, err)
	}

	if len(wire.Recommendations) == 0 {
		return nil, ErrNoFindings
	}

	draft := &ProposalDraft{
		Title:           wire.Title,
		Summary:         wire.Summary,
		Recommendations: make([]RecommendationDraft, 0, len(wire.Recommendations)),
	}
	for _, rec := range wire.Recommendations {
		draft.Recommendations = append(draft.Recommendations, RecommendationDraft{
			SubscriptionID: rec.SubscriptionID,
			ToCategory:     rec.ToCategory,
			Rationale:      rec.Rationale,
			Confidence:     rec.Confidence,
		})
	}

	if err := validateRecategorizeDraft(draft, subs); err != nil {
		return nil, err
	}
	return draft, nil
}

func parseSavingsResponse(content string, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	var wire struct {
		Title       string `json:"title"`
		Summary     string `json:"summary"`
		Suggestions []struct {
			SubscriptionID   string   `json:"subscriptionId"`
			Suggestion       string   `json:"suggestion"`
			Rationale        string   `json:"rationale,omitempty"`
			EstimatedSavings *float64 `json:"estimatedSavings,omitempty"`
			Confidence       float64  `json:"confidence"`
		} `json:"suggestions"`
	}

	content = cleanMarkdownWrapper(content)
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrBadResponse, err)
	}

	if len(wire.Suggestions) == 0 {
		return nil, ErrNoFindings
	}

	draft := &ProposalDraft{
		Title:       wire.Title,
		Summary:     wire.Summary,
		Suggestions: make([]SavingsDraft, 0, len(wire.Suggestions)),
	}
	for _, s := range wire.Suggestions {
		draft.Suggestions = append(draft.Suggestions, SavingsDraft{
			SubscriptionID:   s.SubscriptionID,
			Suggestion:       s.Suggestion,
			Rationale:        s.Rationale,
			EstimatedSavings: s.EstimatedSavings,
			Confidence:       s.Confidence,
		})
	}

	if err := validateSavingsDraft(draft, subs); err != nil {
		return nil, err
	}
	return draft, nil
}
