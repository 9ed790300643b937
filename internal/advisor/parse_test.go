package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmetzger/subtrack/internal/model"
)

func TestCleanMarkdownWrapper(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain JSON untouched",
			input: `{"items":[]}`,
			want:  `{"items":[]}`,
		},
		{
			name:  "json fence",
			input: "```json\n{\"items\":[]}\n```",
			want:  `{"items":[]}`,
		},
		{
			name:  "bare fence",
			input: "```\n{\"items\":[]}\n```",
			want:  `{"items":[]}`,
		},
		{
			name:  "surrounding whitespace",
			input: "  \n{\"items\":[]}\n  ",
			want:  `{"items":[]}`,
		},
		{
			name:  "single line fence",
			input: "```json{\"items\":[]}```",
			want:  `{"items":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanMarkdownWrapper(tt.input))
		})
	}
}

func TestParseExplainResponse(t *testing.T) {
	subs := []model.SubscriptionSummary{
		summary("sub-1", "Netflix", 15.99, model.IntervalMonthly, nil),
	}

	t.Run("valid response", func(t *testing.T) {
		content := `{"items":[{"subscriptionId":"sub-1","summary":"Looks fine","rationale":"No overlap","confidence":0.9}]}`
		result, err := parseExplainResponse(model.TopicDuplicate, content, subs)
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "sub-1", result.Items[0].SubscriptionID)
		assert.Equal(t, model.TopicDuplicate, result.Topic)
	})

	t.Run("fenced response", func(t *testing.T) {
		content := "```json\n{\"items\":[]}\n```"
		result, err := parseExplainResponse(model.TopicDuplicate, content, subs)
		require.NoError(t, err)
		assert.Empty(t, result.Items)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := parseExplainResponse(model.TopicDuplicate, "not json at all", subs)
		require.ErrorIs(t, err, ErrBadResponse)
	})

	t.Run("unknown subscription rejected", func(t *testing.T) {
		content := `{"items":[{"subscriptionId":"sub-9","summary":"x","confidence":0.5}]}`
		_, err := parseExplainResponse(model.TopicDuplicate, content, subs)
		require.ErrorIs(t, err, ErrBadResponse)
		assert.Contains(t, err.Error(), "unknown subscription")
	})

	t.Run("confidence out of range rejected", func(t *testing.T) {
		content := `{"items":[{"subscriptionId":"sub-1","summary":"x","confidence":1.2}]}`
		_, err := parseExplainResponse(model.TopicDuplicate, content, subs)
		require.ErrorIs(t, err, ErrBadResponse)
	})
}

func TestParseRecategorizeResponse(t *testing.T) {
	subs := []model.SubscriptionSummary{
		summary("sub-1", "Spotify", 10.99, model.IntervalMonthly, nil),
	}

	t.Run("valid response", func(t *testing.T) {
		content := `{"title":"Tidy categories","summary":"One move","recommendations":[{"subscriptionId":"sub-1","toCategory":"Music","rationale":"Streaming service","confidence":0.9}]}`
		draft, err := parseRecategorizeResponse(content, subs)
		require.NoError(t, err)
		require.Len(t, draft.Recommendations, 1)
		require.NotNil(t, draft.Recommendations[0].ToCategory)
		assert.Equal(t, "Music", *draft.Recommendations[0].ToCategory)
	})

	t.Run("null target clears a category", func(t *testing.T) {
		content := `{"title":"Tidy categories","summary":"","recommendations":[{"subscriptionId":"sub-1","toCategory":null,"rationale":"Wrong category","confidence":0.6}]}`
		draft, err := parseRecategorizeResponse(content, subs)
		require.NoError(t, err)
		assert.Nil(t, draft.Recommendations[0].ToCategory)
	})

	t.Run("empty recommendations means no findings", func(t *testing.T) {
		content := `{"title":"Nothing to do","summary":"","recommendations":[]}`
		_, err := parseRecategorizeResponse(content, subs)
		require.ErrorIs(t, err, ErrNoFindings)
	})

	t.Run("blank target rejected", func(t *testing.T) {
		content := `{"title":"Tidy","summary":"","recommendations":[{"subscriptionId":"sub-1","toCategory":"  ","rationale":"x","confidence":0.6}]}`
		_, err := parseRecategorizeResponse(content, subs)
		require.ErrorIs(t, err, ErrBadResponse)
	})

	t.Run("missing title rejected", func(t *testing.T) {
		content := `{"title":"","summary":"","recommendations":[{"subscriptionId":"sub-1","toCategory":"Music","rationale":"x","confidence":0.6}]}`
		_, err := parseRecategorizeResponse(content, subs)
		require.ErrorIs(t, err, ErrBadResponse)
	})

	t.Run("unknown subscription rejected", func(t *testing.T) {
		content := `{"title":"Tidy","summary":"","recommendations":[{"subscriptionId":"sub-9","toCategory":"Music","rationale":"x","confidence":0.6}]}`
		_, err := parseRecategorizeResponse(content, subs)
		require.ErrorIs(t, err, ErrBadResponse)
	})
}

func TestParseSavingsResponse(t *testing.T) {
	subs := []model.SubscriptionSummary{
		summary("sub-1", "Netflix", 15.99, model.IntervalMonthly, nil),
	}

	t.Run("valid response", func(t *testing.T) {
		content := `{"title":"Spend less","summary":"One idea","suggestions":[{"subscriptionId":"sub-1","suggestion":"Switch to yearly","rationale":"Cheaper","estimatedSavings":31.98,"confidence":0.7}]}`
		draft, err := parseSavingsResponse(content, subs)
		require.NoError(t, err)
		require.Len(t, draft.Suggestions, 1)
		require.NotNil(t, draft.Suggestions[0].EstimatedSavings)
		assert.InDelta(t, 31.98, *draft.Suggestions[0].EstimatedSavings, 0.001)
	})

	t.Run("savings may be omitted", func(t *testing.T) {
		content := `{"title":"Spend less","summary":"","suggestions":[{"subscriptionId":"sub-1","suggestion":"Cancel it","confidence":0.7}]}`
		draft, err := parseSavingsResponse(content, subs)
		require.NoError(t, err)
		assert.Nil(t, draft.Suggestions[0].EstimatedSavings)
	})

	t.Run("empty suggestions means no findings", func(t *testing.T) {
		content := `{"title":"Nothing","summary":"","suggestions":[]}`
		_, err := parseSavingsResponse(content, subs)
		require.ErrorIs(t, err, ErrNoFindings)
	})

	t.Run("negative savings rejected", func(t *testing.T) {
		content := `{"title":"Spend less","summary":"","suggestions":[{"subscriptionId":"sub-1","suggestion":"Cancel","estimatedSavings":-5,"confidence":0.7}]}`
		_, err := parseSavingsResponse(content, subs)
		require.ErrorIs(t, err, ErrBadResponse)
	})
}
