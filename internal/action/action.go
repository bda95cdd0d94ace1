// Package action defines the typed steps a script compiles into.
package action

import (
	"encoding/json"
	"fmt"
)

// Type identifies a browser action.
type Type string

const (
	Navigate   Type = "navigate"
	Click      Type = "click"
	TypeText   Type = "type"
	Wait       Type = "wait"
	Extract    Type = "extract"
	Screenshot Type = "screenshot"
	Scroll     Type = "scroll"
)

// Types lists every action type. Dispatch tables are checked against it.
func Types() []Type {
	return []Type{Navigate, Click, TypeText, Wait, Extract, Screenshot, Scroll}
}

// Params is the type-specific payload of a step. The set of implementations
// is closed: only this package can add one.
type Params interface {
	Type() Type
	sealed()
}

// NavigateParams loads a URL.
type NavigateParams struct {
	URL string `json:"url"`
}

// ClickParams clicks the first element matching Selector.
type ClickParams struct {
	Selector string `json:"selector"`
}

// TypeParams enters Text into the element matching Selector.
type TypeParams struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// WaitParams waits for Selector when set, otherwise for DurationMs.
type WaitParams struct {
	DurationMs int    `json:"durationMs,omitempty"`
	Selector   string `json:"selector,omitempty"`
}

// ExtractParams collects records for every element matching Selector.
type ExtractParams struct {
	Selector string `json:"selector"`
}

// ScreenshotParams captures the page. Path is informational only.
type ScreenshotParams struct {
	Path string `json:"path,omitempty"`
}

// ScrollParams scrolls toward Direction when set, otherwise to (X, Y).
type ScrollParams struct {
	Direction string `json:"direction,omitempty"` // up, down, left, right
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

func (NavigateParams) Type() Type   { return Navigate }
func (ClickParams) Type() Type      { return Click }
func (TypeParams) Type() Type       { return TypeText }
func (WaitParams) Type() Type       { return Wait }
func (ExtractParams) Type() Type    { return Extract }
func (ScreenshotParams) Type() Type { return Screenshot }
func (ScrollParams) Type() Type     { return Scroll }

func (NavigateParams) sealed()   {}
func (ClickParams) sealed()      {}
func (TypeParams) sealed()       {}
func (WaitParams) sealed()       {}
func (ExtractParams) sealed()    {}
func (ScreenshotParams) sealed() {}
func (ScrollParams) sealed()     {}

// ErrorPolicy controls what happens when a step fails.
type ErrorPolicy struct {
	IgnoreErrors bool `json:"ignoreErrors"`
	RetryCount   int  `json:"retryCount"`
}

// Step is one compiled action. Steps are immutable once compiled.
type Step struct {
	ID          string
	Ordinal     int
	Params      Params
	Fallbacks   []Params
	ErrorPolicy ErrorPolicy
}

// Type returns the action type carried by the step's params.
func (s Step) Type() Type {
	if s.Params == nil {
		return ""
	}
	return s.Params.Type()
}

// AttemptParams returns the params for the given zero-based attempt and the
// fallback index used, or -1 for the primary params. Attempt k>0 uses
// fallback k-1 while fallbacks remain, then the primary params again.
func (s Step) AttemptParams(attempt int) (Params, int) {
	if attempt > 0 && attempt-1 < len(s.Fallbacks) {
		return s.Fallbacks[attempt-1], attempt - 1
	}
	return s.Params, -1
}

// Describe renders a short human-readable form of params.
func Describe(p Params) string {
	switch v := p.(type) {
	case NavigateParams:
		return fmt.Sprintf("navigate → %s", v.URL)
	case ClickParams:
		return fmt.Sprintf("click → %s", v.Selector)
	case TypeParams:
		return fmt.Sprintf("type → %s (text: %q)", v.Selector, v.Text)
	case WaitParams:
		if v.Selector != "" {
			return fmt.Sprintf("wait → %s", v.Selector)
		}
		return fmt.Sprintf("wait → %dms", v.DurationMs)
	case ExtractParams:
		return fmt.Sprintf("extract → %s", v.Selector)
	case ScreenshotParams:
		return "screenshot"
	case ScrollParams:
		if v.Direction != "" {
			return fmt.Sprintf("scroll → %s", v.Direction)
		}
		return fmt.Sprintf("scroll → (%d, %d)", v.X, v.Y)
	default:
		return "unknown"
	}
}

type stepJSON struct {
	ID          string            `json:"id"`
	Ordinal     int               `json:"ordinal"`
	Type        Type              `json:"type"`
	Params      json.RawMessage   `json:"params"`
	Fallbacks   []json.RawMessage `json:"fallbacks,omitempty"`
	ErrorPolicy ErrorPolicy       `json:"errorPolicy"`
}

// MarshalJSON writes the step with its type tag alongside the params.
func (s Step) MarshalJSON() ([]byte, error) {
	out := stepJSON{
		ID:          s.ID,
		Ordinal:     s.Ordinal,
		Type:        s.Type(),
		ErrorPolicy: s.ErrorPolicy,
	}
	raw, err := json.Marshal(s.Params)
	if err != nil {
		return nil, err
	}
	out.Params = raw
	for _, fb := range s.Fallbacks {
		raw, err := json.Marshal(fb)
		if err != nil {
			return nil, err
		}
		out.Fallbacks = append(out.Fallbacks, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes params according to the type tag.
func (s *Step) UnmarshalJSON(data []byte) error {
	var in stepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	params, err := DecodeParams(in.Type, in.Params)
	if err != nil {
		return fmt.Errorf("step %s: %w", in.ID, err)
	}
	fallbacks := make([]Params, 0, len(in.Fallbacks))
	for i, raw := range in.Fallbacks {
		fb, err := DecodeParams(in.Type, raw)
		if err != nil {
			return fmt.Errorf("step %s fallback %d: %w", in.ID, i, err)
		}
		fallbacks = append(fallbacks, fb)
	}
	if in.ErrorPolicy.RetryCount < 0 {
		in.ErrorPolicy.RetryCount = 0
	}
	*s = Step{
		ID:          in.ID,
		Ordinal:     in.Ordinal,
		Params:      params,
		ErrorPolicy: in.ErrorPolicy,
	}
	if len(fallbacks) > 0 {
		s.Fallbacks = fallbacks
	}
	return nil
}

// DecodeParams decodes raw JSON into the params struct for t.
func DecodeParams(t Type, raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var (
		p   Params
		err error
	)
	switch t {
	case Navigate:
		var v NavigateParams
		err = json.Unmarshal(raw, &v)
		p = v
	case Click:
		var v ClickParams
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeText:
		var v TypeParams
		err = json.Unmarshal(raw, &v)
		p = v
	case Wait:
		var v WaitParams
		err = json.Unmarshal(raw, &v)
		p = v
	case Extract:
		var v ExtractParams
		err = json.Unmarshal(raw, &v)
		p = v
	case Screenshot:
		var v ScreenshotParams
		err = json.Unmarshal(raw, &v)
		p = v
	case Scroll:
		var v ScrollParams
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown action type: %s", t)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
