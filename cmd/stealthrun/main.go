package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/stealthrun/internal/config"
	"github.com/v0xg/stealthrun/internal/engine"
	"github.com/v0xg/stealthrun/internal/logging"
	"github.com/v0xg/stealthrun/internal/profile"
)

var configFile string

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "stealthrun",
		Short: "Run browser automation scripts with human pacing and fingerprint countermeasures",
		Long: `stealthrun compiles Playwright-style scripts into typed steps and runs them
in a real Chromium session that presents a consistent, randomized identity.

Example:
  stealthrun run checkout.js --record -o session.json
  stealthrun draft "https://shop.example" "search for running shoes and list the titles"`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./stealthrun.yaml or $HOME/stealthrun.yaml)")
	pf.Bool("headless", true, "Run the browser without a window")
	pf.String("browser-bin", "", "Chrome/Chromium binary (default: auto-detect)")
	pf.String("control-url", "", "DevTools URL of an already running browser")
	pf.Duration("timeout", 30*time.Second, "Per-primitive timeout")
	pf.Duration("close-grace", 5*time.Second, "Grace period for closing the browser")
	pf.Int64("seed", 0, "Seed for profile and pacing randomness (0: random)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console, json")
	pf.String("profile-user-agent", "", "Pin the user agent")
	pf.String("profile-platform", "", "Pin navigator.platform")
	pf.Int("profile-width", 0, "Pin the viewport width")
	pf.Int("profile-height", 0, "Pin the viewport height")
	pf.String("profile-timezone", "", "Pin the IANA timezone")
	pf.String("profile-locale", "", "Pin the locale, e.g. de-DE")

	rootCmd.AddCommand(newRunCommand(), newCompileCommand(), newProfileCommand(), newDraftCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves configuration for cmd and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// generator returns the profile generator for cfg. A zero seed draws from
// the clock.
func generator(cfg *config.Config) *profile.Generator {
	if cfg.Seed != 0 {
		return profile.NewSeeded(cfg.Seed)
	}
	return profile.NewGenerator(nil)
}

// newEngine builds the engine for the n-th session of a run.
func newEngine(cfg *config.Config, logger *zap.Logger, n int) *engine.Engine {
	var human *engine.Humanizer
	if cfg.Seed != 0 {
		human = engine.NewHumanizer(rand.New(rand.NewSource(cfg.Seed+int64(n))), nil)
	}
	return engine.New(engine.Options{
		Headless:   cfg.Headless,
		BrowserBin: cfg.BrowserBin,
		ControlURL: cfg.ControlURL,
		Timeout:    cfg.Timeout,
		CloseGrace: cfg.CloseGrace,
		Humanizer:  human,
		Logger:     logger,
	})
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
