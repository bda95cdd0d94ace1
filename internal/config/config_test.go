package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stealthrun/internal/retry"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.CloseGrace)
	assert.Equal(t, 1, cfg.Parallel)
	assert.Equal(t, "exponential", cfg.Retry.Strategy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "claude", cfg.AI.Provider)

	s, err := cfg.RetryStrategy()
	require.NoError(t, err)
	assert.IsType(t, retry.Exponential{}, s)
}

func TestFileEnvAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "stealthrun.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
headless: false
timeout: 10s
parallel: 3
retry:
  strategy: linear
  base_delay: 200ms
profile:
  locale: de-DE
  width: 1280
  height: 720
`), 0o644))

	t.Setenv("STEALTHRUN_PARALLEL", "4")
	t.Setenv("STEALTHRUN_PROFILE_TIMEZONE", "Europe/Berlin")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("parallel", 1, "")
	flags.String("retry-strategy", "", "")
	flags.Duration("close-grace", 0, "")
	require.NoError(t, flags.Parse([]string{"--retry-strategy=adaptive"}))

	cfg, err := Load(file, flags)
	require.NoError(t, err)

	assert.False(t, cfg.Headless)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	// env beats file, unset flag does not override
	assert.Equal(t, 4, cfg.Parallel)
	// set flag beats file
	assert.Equal(t, "adaptive", cfg.Retry.Strategy)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.CloseGrace)

	o := cfg.Overrides()
	assert.Equal(t, "de-DE", o.Locale)
	assert.Equal(t, "Europe/Berlin", o.Timezone)
	assert.Equal(t, 1280, o.Viewport.Width)
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	t.Setenv("STEALTHRUN_RETRY_STRATEGY", "fibonacci")
	_, err := Load("", nil)
	assert.ErrorContains(t, err, "unknown retry strategy")

	t.Setenv("STEALTHRUN_RETRY_STRATEGY", "")
	t.Setenv("STEALTHRUN_PARALLEL", "0")
	_, err = Load("", nil)
	assert.ErrorContains(t, err, "parallel")
}

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "retry.base_delay", flagKey("retry-base-delay"))
	assert.Equal(t, "profile.user_agent", flagKey("profile-user-agent"))
	assert.Equal(t, "log.level", flagKey("log-level"))
	assert.Equal(t, "close_grace", flagKey("close-grace"))
	assert.Equal(t, "headless", flagKey("headless"))
}
