// Package ai drafts automation scripts from a page inventory and a plain
// language request.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/v0xg/stealthrun/internal/engine"
)

// Provider drafts scripts in the dialect the script compiler reads.
type Provider interface {
	DraftScript(ctx context.Context, inv *engine.Inventory, prompt string) (string, error)
	// ReviseScript asks for a corrected script given compiler problems.
	ReviseScript(ctx context.Context, inv *engine.Inventory, prompt, script string, problems []string) (string, error)
}

// NewProvider creates a provider by name.
func NewProvider(name, model string) (Provider, error) {
	switch name {
	case "claude", "anthropic":
		return NewClaudeProvider(model)
	case "openai", "gpt":
		return NewOpenAIProvider(model)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
}

// completer sends one system+user exchange and returns the reply text.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

func draft(ctx context.Context, c completer, inv *engine.Inventory, prompt string) (string, error) {
	raw, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal inventory: %w", err)
	}
	reply, err := c.complete(ctx, systemPrompt, buildUserPrompt(string(raw), prompt))
	if err != nil {
		return "", err
	}
	return extractScript(reply)
}

func revise(ctx context.Context, c completer, inv *engine.Inventory, prompt, script string, problems []string) (string, error) {
	raw, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal inventory: %w", err)
	}
	reply, err := c.complete(ctx, systemPrompt, buildRevisePrompt(string(raw), prompt, script, problems))
	if err != nil {
		return "", err
	}
	return extractScript(reply)
}

var (
	fence      = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")
	stepMarker = regexp.MustCompile(`(?im)^\s*//\s*step\s+\d+`)
)

// extractScript pulls the script out of a reply that may wrap it in a
// markdown fence or surround it with prose.
func extractScript(reply string) (string, error) {
	if m := fence.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}
	loc := stepMarker.FindStringIndex(reply)
	if loc == nil {
		return "", errors.New("no step markers in response")
	}
	return strings.TrimSpace(reply[loc[0]:]) + "\n", nil
}
