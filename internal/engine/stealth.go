package engine

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/v0xg/stealthrun/internal/profile"
)

// stealthJS is a function expression taking the countermeasure config.
//
//go:embed stealth.js
var stealthJS string

// browserChromeHeight approximates tab strip plus toolbar.
const browserChromeHeight = 85

type stealthScreen struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	AvailWidth  int `json:"availWidth"`
	AvailHeight int `json:"availHeight"`
	AvailTop    int `json:"availTop"`
	OuterWidth  int `json:"outerWidth"`
	OuterHeight int `json:"outerHeight"`
}

type stealthConfig struct {
	Languages     []string      `json:"languages"`
	Platform      string        `json:"platform"`
	WebGLVendor   string        `json:"webglVendor"`
	WebGLRenderer string        `json:"webglRenderer"`
	NoiseSeed     uint32        `json:"noiseSeed"`
	Screen        stealthScreen `json:"screen"`
}

// gpuFor returns generic WebGL identification strings plausible for the
// platform.
func gpuFor(platform string) (vendor, renderer string) {
	switch platform {
	case "MacIntel":
		return "Intel Inc.", "Intel Iris OpenGL Engine"
	case "Linux x86_64":
		return "Intel", "Mesa Intel(R) UHD Graphics 620 (KBL GT2)"
	default:
		return "Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"
	}
}

// screenFor derives screen geometry that contains the viewport and leaves
// room for the OS taskbar or menu bar.
func screenFor(p profile.Profile) stealthScreen {
	w, h := p.Viewport.Width, p.Viewport.Height
	s := stealthScreen{
		Width:       w,
		Height:      h + browserChromeHeight,
		OuterWidth:  w,
		OuterHeight: h + browserChromeHeight,
	}
	switch p.Platform {
	case "Win32":
		s.Height += 40
	case "MacIntel":
		s.Height += 25
		s.AvailTop = 25
	}
	// a maximized window fills the available area exactly
	s.AvailWidth = s.OuterWidth
	s.AvailHeight = s.OuterHeight
	return s
}

// stealthScript renders the countermeasure bundle for p.
func stealthScript(p profile.Profile) (string, error) {
	vendor, renderer := gpuFor(p.Platform)
	cfg := stealthConfig{
		Languages:     p.Languages(),
		Platform:      p.Platform,
		WebGLVendor:   vendor,
		WebGLRenderer: renderer,
		NoiseSeed:     uint32(p.NoiseSeed),
		Screen:        screenFor(p),
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal stealth config: %w", err)
	}
	return fmt.Sprintf("(%s)(%s);", stealthJS, raw), nil
}
