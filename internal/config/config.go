// Package config loads run settings from defaults, an optional
// stealthrun.yaml, STEALTHRUN_* environment variables and command flags,
// in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/v0xg/stealthrun/internal/profile"
	"github.com/v0xg/stealthrun/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. STEALTHRUN_HEADLESS.
const EnvPrefix = "STEALTHRUN"

// Config is the resolved configuration.
type Config struct {
	Headless       bool          `mapstructure:"headless"`
	BrowserBin     string        `mapstructure:"browser_bin"`
	ControlURL     string        `mapstructure:"control_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CloseGrace     time.Duration `mapstructure:"close_grace"`
	Seed           int64         `mapstructure:"seed"`
	Record         bool          `mapstructure:"record"`
	AbortOnFailure bool          `mapstructure:"abort_on_failure"`
	Parallel       int           `mapstructure:"parallel"`
	LaunchRate     float64       `mapstructure:"launch_rate"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Output         string        `mapstructure:"output"`

	Retry   RetryConfig   `mapstructure:"retry"`
	Log     LogConfig     `mapstructure:"log"`
	Profile ProfileConfig `mapstructure:"profile"`
	AI      AIConfig      `mapstructure:"ai"`
}

// RetryConfig selects the retry spacing strategy.
type RetryConfig struct {
	Strategy  string        `mapstructure:"strategy"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProfileConfig pins parts of the generated browser identity.
type ProfileConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	Platform  string `mapstructure:"platform"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	Timezone  string `mapstructure:"timezone"`
	Locale    string `mapstructure:"locale"`
}

// AIConfig selects the drafting provider.
type AIConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// every key gets a default so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("headless", true)
	v.SetDefault("browser_bin", "")
	v.SetDefault("control_url", "")
	v.SetDefault("seed", 0)
	v.SetDefault("record", false)
	v.SetDefault("abort_on_failure", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("output", "")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("close_grace", 5*time.Second)
	v.SetDefault("parallel", 1)
	v.SetDefault("launch_rate", 1.0)
	v.SetDefault("retry.strategy", "exponential")
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("profile.user_agent", "")
	v.SetDefault("profile.platform", "")
	v.SetDefault("profile.width", 0)
	v.SetDefault("profile.height", 0)
	v.SetDefault("profile.timezone", "")
	v.SetDefault("profile.locale", "")
	v.SetDefault("ai.provider", "claude")
	v.SetDefault("ai.model", "")
}

var sections = []string{"retry", "log", "profile", "ai"}

// flagKey maps a flag name to its config key: retry-base-delay becomes
// retry.base_delay, close-grace becomes close_grace.
func flagKey(name string) string {
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(name, sec+"-"); ok {
			return sec + "." + strings.ReplaceAll(rest, "-", "_")
		}
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Load resolves the configuration. file names an explicit config file;
// when empty stealthrun.yaml is looked up in the working directory and
// $HOME, and its absence is not an error. flags may be nil.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("stealthrun")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(flagKey(f.Name), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run can use.
func (c *Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	case c.Parallel < 1:
		return fmt.Errorf("config: parallel must be at least 1, got %d", c.Parallel)
	case c.LaunchRate < 0:
		return fmt.Errorf("config: launch_rate must not be negative")
	case c.Profile.Width < 0 || c.Profile.Height < 0:
		return fmt.Errorf("config: negative viewport")
	}
	if _, err := c.RetryStrategy(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RetryStrategy builds the configured retry strategy.
func (c *Config) RetryStrategy() (retry.Strategy, error) {
	return retry.Parse(c.Retry.Strategy, c.Retry.BaseDelay, c.Retry.MaxDelay)
}

// Overrides turns the pinned profile fields into generator overrides.
func (c *Config) Overrides() profile.Overrides {
	return profile.Overrides{
		UserAgent: c.Profile.UserAgent,
		Platform:  c.Profile.Platform,
		Viewport:  profile.Viewport{Width: c.Profile.Width, Height: c.Profile.Height},
		Timezone:  c.Profile.Timezone,
		Locale:    c.Profile.Locale,
	}
}
