// Package script compiles free-form automation script text into ordered
// action steps. Only a fixed set of call idioms is recognized; every other
// line is inert.
package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/v0xg/stealthrun/internal/action"
)

// lit captures a single-, double- or backtick-quoted string literal.
const lit = "('[^']*'|\"[^\"]*\"|`[^`]*`)"

var (
	stepMarker     = regexp.MustCompile(`(?i)^\s*//\s*step\s+(\d+)\b`)
	fallbackMarker = regexp.MustCompile(`(?i)^\s*//\s*fallback\s*:\s*(.+)$`)
	retryAssign    = regexp.MustCompile(`\b(?:const|let|var)\s+(?:maxRetries|retries|retryCount)\s*=\s*(\d+)`)
	ignoreLog      = regexp.MustCompile(`(?i)\bconsole\.(?:log|warn|error|info)\(.*(?:ignor|continu)`)
	callLike       = regexp.MustCompile(`\bpage\.|^\s*await\s`)
)

// idiom is one recognized call shape and how to build params from it.
type idiom struct {
	name  string
	re    *regexp.Regexp
	build func(m []string) action.Params
}

var idioms = []idiom{
	{
		name: "navigate",
		re:   regexp.MustCompile(`\bpage\.goto\(\s*` + lit + `?`),
		build: func(m []string) action.Params {
			return action.NavigateParams{URL: unquote(m[1])}
		},
	},
	{
		name: "click",
		re:   regexp.MustCompile(`\bpage\.click\(\s*` + lit + `?`),
		build: func(m []string) action.Params {
			return action.ClickParams{Selector: unquote(m[1])}
		},
	},
	{
		name: "fill",
		re:   regexp.MustCompile(`\bpage\.(?:fill|type)\(\s*` + lit + `?\s*(?:,\s*` + lit + `?)?`),
		build: func(m []string) action.Params {
			return action.TypeParams{Selector: unquote(m[1]), Text: unquote(m[2])}
		},
	},
	{
		name: "wait-duration",
		re:   regexp.MustCompile(`\bpage\.waitForTimeout\(\s*(\d+)?`),
		build: func(m []string) action.Params {
			return action.WaitParams{DurationMs: atoi(m[1])}
		},
	},
	{
		name: "wait-selector",
		re:   regexp.MustCompile(`\bpage\.waitForSelector\(\s*` + lit + `?`),
		build: func(m []string) action.Params {
			return action.WaitParams{Selector: unquote(m[1])}
		},
	},
	{
		name: "extract",
		re:   regexp.MustCompile(`\bpage\.(?:\$\$eval|\$eval|textContent|innerText|innerHTML)\(\s*` + lit + `?`),
		build: func(m []string) action.Params {
			return action.ExtractParams{Selector: unquote(m[1])}
		},
	},
	{
		name: "screenshot",
		re:   regexp.MustCompile(`\bpage\.screenshot\(\s*(?:\{[^}]*?\bpath\s*:\s*` + lit + `)?`),
		build: func(m []string) action.Params {
			return action.ScreenshotParams{Path: unquote(m[1])}
		},
	},
	{
		name: "scroll",
		re:   regexp.MustCompile(`\bwindow\.scrollTo\(\s*(-?\d+)?\s*(?:,\s*(-?\d+))?`),
		build: func(m []string) action.Params {
			return action.ScrollParams{X: atoi(m[1]), Y: atoi(m[2])}
		},
	},
}

// Warning is a non-fatal note about a line the compiler did not use.
type Warning struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s: %s", w.Line, w.Reason, w.Text)
}

// block accumulates one step between markers.
type block struct {
	startLine int
	params    action.Params
	fallbacks []pendingFallback
	policy    action.ErrorPolicy
}

type pendingFallback struct {
	line   int
	text   string
	params action.Params
}

// Compile parses src into steps. Empty input yields no steps. Text before
// the first step marker is discarded; the last open block is flushed at the
// end of input.
func Compile(src string) ([]action.Step, []Warning) {
	var (
		steps    []action.Step
		warnings []Warning
		cur      *block
	)

	flush := func() {
		if cur == nil {
			return
		}
		step, w := cur.finish(len(steps) + 1)
		steps = append(steps, step)
		warnings = append(warnings, w...)
		cur = nil
	}

	if strings.TrimSpace(src) == "" {
		return nil, nil
	}

	for i, line := range strings.Split(src, "\n") {
		lineNo := i + 1
		line = strings.TrimRight(line, "\r")

		if stepMarker.MatchString(line) {
			flush()
			cur = &block{startLine: lineNo}
			continue
		}
		if cur == nil {
			continue
		}

		if m := fallbackMarker.FindStringSubmatch(line); m != nil {
			if p := matchIdiom(m[1]); p != nil {
				cur.fallbacks = append(cur.fallbacks, pendingFallback{line: lineNo, text: line, params: p})
			} else {
				warnings = append(warnings, Warning{Line: lineNo, Text: strings.TrimSpace(line), Reason: "unrecognized fallback"})
			}
			continue
		}

		matched := false
		if m := retryAssign.FindStringSubmatch(line); m != nil {
			cur.policy.RetryCount = atoi(m[1])
			matched = true
		}
		if ignoreLog.MatchString(line) {
			cur.policy.IgnoreErrors = true
			matched = true
		}
		if p := matchIdiom(line); p != nil {
			// last match wins within a block
			cur.params = p
			matched = true
		}

		if !matched && callLike.MatchString(line) {
			warnings = append(warnings, Warning{Line: lineNo, Text: strings.TrimSpace(line), Reason: "unrecognized call"})
		}
	}
	flush()

	return steps, warnings
}

// finish turns the block into a step with the given ordinal.
func (b *block) finish(ordinal int) (action.Step, []Warning) {
	var warnings []Warning

	params := b.params
	if params == nil {
		warnings = append(warnings, Warning{
			Line:   b.startLine,
			Text:   fmt.Sprintf("step %d", ordinal),
			Reason: "no recognized action, compiled as a zero wait",
		})
		params = action.WaitParams{}
	}

	var fallbacks []action.Params
	for _, fb := range b.fallbacks {
		if fb.params.Type() != params.Type() {
			warnings = append(warnings, Warning{
				Line:   fb.line,
				Text:   strings.TrimSpace(fb.text),
				Reason: fmt.Sprintf("fallback type %s does not match step type %s", fb.params.Type(), params.Type()),
			})
			continue
		}
		fallbacks = append(fallbacks, fb.params)
	}

	return action.Step{
		ID:          fmt.Sprintf("step-%d", ordinal),
		Ordinal:     ordinal,
		Params:      params,
		Fallbacks:   fallbacks,
		ErrorPolicy: b.policy,
	}, warnings
}

// matchIdiom returns params for the first idiom found in line, or nil.
func matchIdiom(line string) action.Params {
	for _, id := range idioms {
		if m := id.re.FindStringSubmatch(line); m != nil {
			return id.build(m)
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
