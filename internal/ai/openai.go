package ai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/v0xg/stealthrun/internal/engine"
)

// OpenAIProvider drafts scripts with OpenAI chat models.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider reads the API key from STEALTHRUN_OPENAI_KEY or
// OPENAI_API_KEY.
func NewOpenAIProvider(model string) (*OpenAIProvider, error) {
	apiKey := os.Getenv("STEALTHRUN_OPENAI_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("STEALTHRUN_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}, nil
}

// DraftScript implements Provider.
func (p *OpenAIProvider) DraftScript(ctx context.Context, inv *engine.Inventory, prompt string) (string, error) {
	return draft(ctx, p, inv, prompt)
}

// ReviseScript implements Provider.
func (p *OpenAIProvider) ReviseScript(ctx context.Context, inv *engine.Inventory, prompt, script string, problems []string) (string, error) {
	return revise(ctx, p, inv, prompt, script, problems)
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}
