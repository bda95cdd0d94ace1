package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/stealthrun/internal/ai"
	"github.com/v0xg/stealthrun/internal/engine"
	"github.com/v0xg/stealthrun/internal/script"
)

func newDraftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft <url> <prompt>",
		Short: "Draft a script for a page from a plain language request",
		Long: `draft opens the page in a stealth session, catalogues its interactive elements
and asks an AI provider for a script the compiler understands.

Example:
  stealthrun draft "https://myapp.com" "click login, fill email with test@example.com, submit form" -o login.js`,
		Args: cobra.ExactArgs(2),
		RunE: draftScript,
	}
	f := cmd.Flags()
	f.StringP("output", "o", "", "Write the script to this file instead of stdout")
	f.String("ai-provider", "claude", "AI provider: claude, openai")
	f.String("ai-model", "", "Specific model override")
	return cmd
}

func draftScript(cmd *cobra.Command, args []string) error {
	url, prompt := args[0], args[1]

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	provider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Model)
	if err != nil {
		return fmt.Errorf("AI provider init failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "→ Inventorying %s... ", url)
	eng := newEngine(cfg, logger, 0)
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("close browser", zap.Error(err))
		}
	}()
	if err := eng.Launch(ctx, generator(cfg).Generate(cfg.Overrides())); err != nil {
		fmt.Fprintln(os.Stderr, "failed")
		return err
	}
	if err := eng.Navigate(ctx, url, ""); err != nil {
		fmt.Fprintln(os.Stderr, "failed")
		return err
	}
	inv, err := eng.Inventory(ctx, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed")
		return fmt.Errorf("inventory failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "done (found %d interactive elements)\n", len(inv.Elements))

	src, err := draftAndCheck(ctx, provider, cfg.AI.Provider, inv, prompt)
	if err != nil {
		return err
	}

	if cfg.Output == "" {
		fmt.Print(src)
		return nil
	}
	if err := writeFile(cfg.Output, []byte(src)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Saved to %s\n", cfg.Output)
	return nil
}

// draftAndCheck drafts a script and asks for one revision when the
// compiler reports problems.
func draftAndCheck(ctx context.Context, p ai.Provider, name string, inv *engine.Inventory, prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "→ Drafting script via %s... ", name)
	src, err := p.DraftScript(ctx, inv, prompt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed")
		return "", fmt.Errorf("script drafting failed: %w", err)
	}
	steps, warnings := script.Compile(src)
	fmt.Fprintf(os.Stderr, "done (%d steps)\n", len(steps))
	if len(warnings) == 0 {
		return src, nil
	}

	problems := make([]string, len(warnings))
	for i, w := range warnings {
		problems[i] = w.String()
	}
	fmt.Fprintf(os.Stderr, "→ Revising (%d warnings)... ", len(warnings))
	revised, err := p.ReviseScript(ctx, inv, prompt, src, problems)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed, keeping first draft")
		printWarnings(warnings)
		return src, nil
	}
	steps, warnings = script.Compile(revised)
	fmt.Fprintf(os.Stderr, "done (%d steps, %d warnings)\n", len(steps), len(warnings))
	printWarnings(warnings)
	return revised, nil
}
