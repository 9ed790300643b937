package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/common"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
)

// anthropicAdvisor talks to the Anthropic Messages API.
type anthropicAdvisor struct {
	httpClient  *http.Client
	limiter     *rateLimiter
	retryOpts   service.RetryOptions
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

func newAnthropicAdvisor(cfg Config) (Advisor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	llmModel := cfg.Model
	if llmModel == "" {
		llmModel = "claude-3-5-sonnet-20241022"
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &anthropicAdvisor{
		apiKey:      cfg.APIKey,
		model:       llmModel,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     newRateLimiter(cfg.RateLimit),
		retryOpts:   retryOptions(cfg),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (a *anthropicAdvisor) Name() string { return "anthropic" }

func (a *anthropicAdvisor) Close() error {
	a.limiter.Close()
	return nil
}

// Explain analyzes the subscriptions for one topic.
func (a *anthropicAdvisor) Explain(ctx context.Context, topic string, subs []model.SubscriptionSummary) (*model.ExplainResult, error) {
	if !model.KnownTopic(topic) {
		return nil, fmt.Errorf("unknown explanation topic: %s", topic)
	}

	prompt, err := explainPrompt(topic, subs)
	if err != nil {
		return nil, err
	}

	content, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseExplainResponse(topic, content, subs)
}

// ProposeRecategorize drafts category moves for the subscriptions.
func (a *anthropicAdvisor) ProposeRecategorize(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	prompt, err := recategorizePrompt(subs)
	if err != nil {
		return nil, err
	}

	content, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseRecategorizeResponse(content, subs)
}

// ProposeSavings drafts cost-saving suggestions for the subscriptions.
func (a *anthropicAdvisor) ProposeSavings(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	prompt, err := savingsPrompt(subs)
	if err != nil {
		return nil, err
	}

	content, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseSavingsResponse(content, subs)
}

// complete sends one prompt and returns the raw text of the first content
// block, retrying transient provider failures.
func (a *anthropicAdvisor) complete(ctx context.Context, prompt string) (string, error) {
	if err := a.limiter.wait(ctx); err != nil {
		return "", err
	}

	requestBody := map[string]any{
		"model":       a.model,
		"max_tokens":  a.maxTokens,
		"temperature": a.temperature,
		"system":      advisorSystemPrompt,
		"messages": []map[string]string{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var text string
	err = common.WithRetry(ctx, func() error {
		content, sendErr := a.send(ctx, jsonBody)
		if sendErr != nil {
			slog.Warn("anthropic completion attempt failed", "error", sendErr)
			return &common.RetryableError{Err: sendErr, Retryable: true}
		}
		text = content
		return nil
	}, a.retryOpts)
	if err != nil {
		return "", err
	}

	return text, nil
}

// send posts one Messages API request and extracts the first content block.
func (a *anthropicAdvisor) send(ctx context.Context, jsonBody []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	return response.Content[0].Text, nil
}

// anthropicResponse is the Messages API response envelope.
type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
