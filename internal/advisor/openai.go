package advisor

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tmetzger/subtrack/internal/common"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
)

// openAIAdvisor talks to the OpenAI chat completions API through the
// go-openai client.
type openAIAdvisor struct {
	client      *openai.Client
	limiter     *rateLimiter
	retryOpts   service.RetryOptions
	model       string
	temperature float32
	maxTokens   int
}

func newOpenAIAdvisor(cfg Config) (Advisor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	llmModel := cfg.Model
	if llmModel == "" {
		llmModel = "gpt-4o-mini"
	}

	temperature := float32(cfg.Temperature)
	if temperature == 0 {
		temperature = 0.2
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &openAIAdvisor{
		client:      openai.NewClient(cfg.APIKey),
		model:       llmModel,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     newRateLimiter(cfg.RateLimit),
		retryOpts:   retryOptions(cfg),
	}, nil
}

func (o *openAIAdvisor) Name() string { return "openai" }

func (o *openAIAdvisor) Close() error {
	o.limiter.Close()
	return nil
}

// Explain analyzes the subscriptions for one topic.
func (o *openAIAdvisor) Explain(ctx context.Context, topic string, subs []model.SubscriptionSummary) (*model.ExplainResult, error) {
	if !model.KnownTopic(topic) {
		return nil, fmt.Errorf("unknown explanation topic: %s", topic)
	}

	prompt, err := explainPrompt(topic, subs)
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseExplainResponse(topic, content, subs)
}

// ProposeRecategorize drafts category moves for the subscriptions.
func (o *openAIAdvisor) ProposeRecategorize(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	prompt, err := recategorizePrompt(subs)
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseRecategorizeResponse(content, subs)
}

// ProposeSavings drafts cost-saving suggestions for the subscriptions.
func (o *openAIAdvisor) ProposeSavings(ctx context.Context, subs []model.SubscriptionSummary) (*ProposalDraft, error) {
	prompt, err := savingsPrompt(subs)
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseSavingsResponse(content, subs)
}

func (o *openAIAdvisor) complete(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.wait(ctx); err != nil {
		return "", err
	}

	var content string
	err := common.WithRetry(ctx, func() error {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Temperature: o.temperature,
			MaxTokens:   o.maxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: advisorSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			slog.Warn("OpenAI completion attempt failed", "error", err)
			return &common.RetryableError{Err: err, Retryable: true}
		}
		if len(resp.Choices) == 0 {
			return &common.RetryableError{Err: fmt.Errorf("no completion choices returned"), Retryable: true}
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, o.retryOpts)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	return content, nil
}
