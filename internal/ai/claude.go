package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/v0xg/stealthrun/internal/engine"
)

// ClaudeProvider drafts scripts with Anthropic's Claude.
type ClaudeProvider struct {
	client *anthropic.Client
	model  string
}

// NewClaudeProvider reads the API key from STEALTHRUN_ANTHROPIC_KEY or
// ANTHROPIC_API_KEY.
func NewClaudeProvider(model string) (*ClaudeProvider, error) {
	apiKey := os.Getenv("STEALTHRUN_ANTHROPIC_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("STEALTHRUN_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &ClaudeProvider{client: &client, model: model}, nil
}

// DraftScript implements Provider.
func (p *ClaudeProvider) DraftScript(ctx context.Context, inv *engine.Inventory, prompt string) (string, error) {
	return draft(ctx, p, inv, prompt)
}

// ReviseScript implements Provider.
func (p *ClaudeProvider) ReviseScript(ctx context.Context, inv *engine.Inventory, prompt, script string, problems []string) (string, error) {
	return revise(ctx, p, inv, prompt, script, problems)
}

func (p *ClaudeProvider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from Claude")
}
