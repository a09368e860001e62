package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"relief-service/internal/logging"
	"relief-service/internal/models"
)

const systemPrompt = "You are a disaster-response assistant. Reply with one short, practical safety instruction for residents of the affected area. No preamble."

// OpenAI asks a chat model for advisory text and falls back to another
// advisor when the call fails.
type OpenAI struct {
	client   *openai.Client
	model    string
	timeout  time.Duration
	fallback Advisor
	logger   *logging.Logger
}

func NewOpenAI(apiKey, model string, fallback Advisor, logger *logging.Logger) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model, fallback, logger)
}

func NewOpenAIWithConfig(cfg openai.ClientConfig, model string, fallback Advisor, logger *logging.Logger) *OpenAI {
	return &OpenAI{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		timeout:  5 * time.Second,
		fallback: fallback,
		logger:   logger,
	}
}

func (a *OpenAI) Advise(ctx context.Context, disasterType string, severity models.Severity) (string, error) {
	text, err := a.complete(ctx, disasterType, severity)
	if err == nil {
		return text, nil
	}
	a.logger.Warnf("Advisory model unavailable for %s/%s: %v", disasterType, severity, err)
	if a.fallback == nil {
		return "", err
	}
	return a.fallback.Advise(ctx, disasterType, severity)
}

func (a *OpenAI) complete(ctx context.Context, disasterType string, severity models.Severity) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("A %s severity %s has been reported. What should residents do?", severity, disasterType),
			},
		},
		MaxTokens:   80,
		N:           1,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion error: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai returned empty response or choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
