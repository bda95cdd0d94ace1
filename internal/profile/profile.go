// Package profile draws self-consistent browser identities for sessions.
package profile

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed pool.yaml
var poolYAML []byte

// pool is parsed once at start-up and never mutated.
var pool = mustLoadPool(poolYAML)

// Viewport is the browser window content size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Profile is the identity a browser session presents.
type Profile struct {
	UserAgent string   `json:"userAgent" yaml:"user_agent"`
	Platform  string   `json:"platform" yaml:"platform"`
	Viewport  Viewport `json:"viewport" yaml:"viewport"`
	Timezone  string   `json:"timezone" yaml:"timezone"`
	Locale    string   `json:"locale" yaml:"locale"`

	// NoiseSeed seeds the in-page generator behind canvas and audio noise.
	NoiseSeed int64 `json:"noiseSeed" yaml:"-"`
}

// Languages returns the navigator.languages list for the profile locale,
// e.g. "de-DE" → ["de-DE", "de"].
func (p Profile) Languages() []string {
	if p.Locale == "" {
		return []string{"en-US", "en"}
	}
	base, _, found := strings.Cut(p.Locale, "-")
	if !found || base == "" {
		return []string{p.Locale}
	}
	langs := []string{p.Locale, base}
	if base != "en" {
		langs = append(langs, "en-US", "en")
	}
	return langs
}

// AcceptLanguage renders Languages as an Accept-Language header value.
func (p Profile) AcceptLanguage() string {
	langs := p.Languages()
	parts := make([]string, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts[i] = l
			continue
		}
		parts[i] = fmt.Sprintf("%s;q=%.1f", l, 1.0-float64(i)*0.1)
	}
	return strings.Join(parts, ",")
}

// Validate reports a profile that cannot configure a browser.
func (p Profile) Validate() error {
	switch {
	case p.UserAgent == "":
		return fmt.Errorf("profile: empty user agent")
	case p.Viewport.Width <= 0 || p.Viewport.Height <= 0:
		return fmt.Errorf("profile: invalid viewport %dx%d", p.Viewport.Width, p.Viewport.Height)
	case p.Timezone == "":
		return fmt.Errorf("profile: empty timezone")
	case p.Locale == "":
		return fmt.Errorf("profile: empty locale")
	}
	return nil
}

// Overrides replaces individual fields of a drawn profile. Zero values
// leave the drawn field in place.
type Overrides struct {
	UserAgent string
	Platform  string
	Viewport  Viewport
	Timezone  string
	Locale    string
}

// Apply returns p with the non-zero override fields substituted.
func (o Overrides) Apply(p Profile) Profile {
	if o.UserAgent != "" {
		p.UserAgent = o.UserAgent
	}
	if o.Platform != "" {
		p.Platform = o.Platform
	}
	if o.Viewport.Width > 0 {
		p.Viewport.Width = o.Viewport.Width
	}
	if o.Viewport.Height > 0 {
		p.Viewport.Height = o.Viewport.Height
	}
	if o.Timezone != "" {
		p.Timezone = o.Timezone
	}
	if o.Locale != "" {
		p.Locale = o.Locale
	}
	return p
}

// Pool returns a copy of the curated identity table.
func Pool() []Profile {
	out := make([]Profile, len(pool))
	copy(out, pool)
	return out
}

// Generator draws profiles from the pool. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator drawing from rng. A nil rng is seeded
// from the clock.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// NewSeeded returns a deterministic generator.
func NewSeeded(seed int64) *Generator {
	return NewGenerator(rand.New(rand.NewSource(seed)))
}

// Generate draws one pool entry and applies o on top of it.
func (g *Generator) Generate(o Overrides) Profile {
	g.mu.Lock()
	p := pool[g.rng.Intn(len(pool))]
	p.NoiseSeed = g.rng.Int63()
	g.mu.Unlock()

	return o.Apply(p)
}

func mustLoadPool(data []byte) []Profile {
	var entries []Profile
	if err := yaml.Unmarshal(data, &entries); err != nil {
		panic(fmt.Sprintf("profile: parse pool: %v", err))
	}
	if len(entries) == 0 {
		panic("profile: empty pool")
	}
	for i, p := range entries {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("profile: pool entry %d: %v", i, err))
		}
	}
	return entries
}
