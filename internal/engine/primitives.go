package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Record is one element captured by Extract.
type Record struct {
	Text       string            `json:"text"`
	RawMarkup  string            `json:"rawMarkup"`
	Attributes map[string]string `json:"attributes"`
}

// Scroll directions.
const (
	ScrollUp    = "up"
	ScrollDown  = "down"
	ScrollLeft  = "left"
	ScrollRight = "right"
)

const attributesJS = `() => {
	const out = {};
	for (const a of this.attributes) out[a.name] = a.value;
	return out;
}`

// op binds a page to a context bounded by the primitive timeout.
func (e *Engine) op(ctx context.Context, pageID string) (*page, *rod.Page, context.Context, context.CancelFunc, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	pg, err := e.page(opCtx, pageID)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, err
	}
	return pg, pg.rod.Context(opCtx), opCtx, cancel, nil
}

func (e *Engine) setCursor(pg *page, pt proto.Point) {
	e.mu.Lock()
	pg.cursor = pt
	e.mu.Unlock()
}

func (e *Engine) cursorOf(pg *page) proto.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pg.cursor
}

// Navigate loads url and waits for the load event.
func (e *Engine) Navigate(ctx context.Context, url, pageID string) error {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return err
	}
	defer cancel()

	wrap := func(err error) error {
		if timedOut(ctx, opCtx, err) {
			return &NavigationTimeout{URL: url, After: e.opts.Timeout, Err: err}
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	if err := p.Navigate(url); err != nil {
		return wrap(err)
	}
	if err := p.WaitLoad(); err != nil {
		return wrap(err)
	}
	e.logger.Debug("navigated", zap.String("url", url), zap.String("page", pageID))
	return nil
}

// element waits for selector within the primitive timeout.
func (e *Engine) element(ctx, opCtx context.Context, p *rod.Page, selector string) (*rod.Element, error) {
	el, err := p.Element(selector)
	if err != nil {
		if timedOut(ctx, opCtx, err) {
			return nil, &ElementNotFound{Selector: selector, Err: err}
		}
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	return el, nil
}

// Click moves the pointer to the element along a human path and clicks it.
func (e *Engine) Click(ctx context.Context, selector, pageID string) error {
	pg, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := e.element(ctx, opCtx, p, selector)
	if err != nil {
		return err
	}
	if err := e.humanClick(opCtx, pg, p, el); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// humanClick glides the pointer to the element centre and clicks. Without
// a resolvable box it clicks the element directly.
func (e *Engine) humanClick(ctx context.Context, pg *page, p *rod.Page, el *rod.Element) error {
	_ = el.ScrollIntoView()

	var box *proto.DOMRect
	if shape, err := el.Shape(); err == nil {
		box = shape.Box()
	}
	if box == nil || box.Width == 0 || box.Height == 0 {
		e.logger.Debug("no bounding box, direct click")
		return el.Click(proto.InputMouseButtonLeft, 1)
	}

	target := e.human.Target(box)
	for _, pt := range e.human.Path(e.cursorOf(pg), target) {
		if err := p.Mouse.MoveTo(pt); err != nil {
			return err
		}
		e.setCursor(pg, pt)
		if err := e.human.Pause(ctx, waypointDelayMin, waypointDelayMax); err != nil {
			return err
		}
	}

	if err := e.human.Pause(ctx, preClickMin, preClickMax); err != nil {
		return err
	}
	if err := p.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	return e.human.Pause(ctx, postClickMin, postClickMax)
}

// Type focuses the element and enters text one character at a time. The
// lookup and focus share the primitive timeout; pacing runs on ctx with
// every keystroke bounded on its own, so long text does not time out.
func (e *Engine) Type(ctx context.Context, selector, text, pageID string) error {
	pg, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := e.element(ctx, opCtx, p, selector)
	if err != nil {
		return err
	}
	if err := e.humanClick(opCtx, pg, p, el); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	// replace existing value like a user selecting before typing
	_ = el.SelectAllText()

	return e.typeKeys(ctx, selector, []rune(text), func(keyCtx context.Context, r rune) error {
		return typeRune(pg.rod.Context(keyCtx), r)
	})
}

// typeKeys waits out each key delay on ctx, then sends the key under its
// own primitive timeout.
func (e *Engine) typeKeys(ctx context.Context, selector string, runes []rune, send func(context.Context, rune) error) error {
	delays := e.human.KeyDelays(len(runes))
	for i, r := range runes {
		if err := e.human.Sleep(ctx, delays[i]); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		keyCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		err := send(keyCtx, r)
		if err != nil {
			err = e.typeErr(ctx, keyCtx, selector, err)
		}
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) typeErr(ctx, opCtx context.Context, selector string, err error) error {
	if timedOut(ctx, opCtx, err) {
		return &StepTimeout{Op: "type", Target: selector, After: e.opts.Timeout, Err: err}
	}
	return fmt.Errorf("type into %s: %w", selector, err)
}

// typeRune sends printable ASCII as key presses and anything else as
// inserted text, which the keyboard map cannot express.
func typeRune(p *rod.Page, r rune) error {
	if r >= 0x20 && r <= 0x7e {
		return p.Keyboard.Type(input.Key(r))
	}
	if r == '\n' {
		return p.Keyboard.Type(input.Enter)
	}
	return p.InsertText(string(r))
}

// Scroll scrolls roughly one screen toward direction in 3–8 bursts.
func (e *Engine) Scroll(ctx context.Context, direction, pageID string) error {
	vp := e.Profile().Viewport
	var dx, dy float64
	switch direction {
	case ScrollDown:
		dy = float64(vp.Height) * (0.5 + 0.5*e.human.float())
	case ScrollUp:
		dy = -float64(vp.Height) * (0.5 + 0.5*e.human.float())
	case ScrollRight:
		dx = float64(vp.Width) * (0.3 + 0.3*e.human.float())
	case ScrollLeft:
		dx = -float64(vp.Width) * (0.3 + 0.3*e.human.float())
	default:
		return fmt.Errorf("unknown scroll direction: %s", direction)
	}
	return e.scrollBy(ctx, dx, dy, pageID)
}

// ScrollTo scrolls toward the absolute document position (x, y) in bursts.
func (e *Engine) ScrollTo(ctx context.Context, x, y int, pageID string) error {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return err
	}
	res, err := p.Eval(`() => [window.scrollX, window.scrollY]`)
	cancel()
	if err != nil {
		if timedOut(ctx, opCtx, err) {
			return &StepTimeout{Op: "scroll", After: e.opts.Timeout, Err: err}
		}
		return fmt.Errorf("read scroll position: %w", err)
	}
	pos := res.Value.Arr()
	var cx, cy float64
	if len(pos) == 2 {
		cx, cy = pos[0].Num(), pos[1].Num()
	}
	return e.scrollBy(ctx, float64(x)-cx, float64(y)-cy, pageID)
}

func (e *Engine) scrollBy(ctx context.Context, dx, dy float64, pageID string) error {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return err
	}
	defer cancel()

	if dx == 0 && dy == 0 {
		return nil
	}

	bursts := e.human.ScrollBursts()
	for i, share := range bursts {
		if i > 0 {
			if err := e.human.Pause(opCtx, burstDelayMin, burstDelayMax); err != nil {
				return e.scrollErr(ctx, opCtx, err)
			}
		}
		if err := p.Mouse.Scroll(dx*share, dy*share, e.human.Intn(3, 6)); err != nil {
			return e.scrollErr(ctx, opCtx, err)
		}
	}
	return nil
}

func (e *Engine) scrollErr(ctx, opCtx context.Context, err error) error {
	if timedOut(ctx, opCtx, err) {
		return &StepTimeout{Op: "scroll", After: e.opts.Timeout, Err: err}
	}
	return fmt.Errorf("scroll: %w", err)
}

// WaitForSelector waits until selector matches a visible element.
func (e *Engine) WaitForSelector(ctx context.Context, selector, pageID string) error {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := p.Element(selector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if timedOut(ctx, opCtx, err) {
			return &StepTimeout{Op: "waitForSelector", Target: selector, After: e.opts.Timeout, Err: err}
		}
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// WaitForDuration sleeps for d. The page id is accepted for symmetry with
// the other primitives.
func (e *Engine) WaitForDuration(ctx context.Context, d time.Duration, _ string) error {
	return e.human.Sleep(ctx, d)
}

// Extract returns a record for every element matching selector. It waits
// for the first match like the other element primitives.
func (e *Engine) Extract(ctx context.Context, selector, pageID string) ([]Record, error) {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if _, err := e.element(ctx, opCtx, p, selector); err != nil {
		return nil, err
	}
	els, err := p.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", selector, err)
	}

	records := make([]Record, 0, len(els))
	for _, el := range els {
		rec := Record{Attributes: map[string]string{}}
		if rec.RawMarkup, err = el.HTML(); err != nil {
			return nil, fmt.Errorf("extract %s markup: %w", selector, err)
		}
		if rec.Text, err = el.Text(); err != nil {
			return nil, fmt.Errorf("extract %s text: %w", selector, err)
		}
		res, err := el.Eval(attributesJS)
		if err != nil {
			return nil, fmt.Errorf("extract %s attributes: %w", selector, err)
		}
		for k, v := range res.Value.Map() {
			rec.Attributes[k] = v.Str()
		}
		records = append(records, rec)
	}
	return records, nil
}

// Screenshot captures the viewport as PNG.
func (e *Engine) Screenshot(ctx context.Context, pageID string) ([]byte, error) {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	data, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		if timedOut(ctx, opCtx, err) {
			return nil, &StepTimeout{Op: "screenshot", After: e.opts.Timeout, Err: err}
		}
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// ExecuteScript evaluates code in the page and returns its JSON value.
// code may be an expression or a function definition.
func (e *Engine) ExecuteScript(ctx context.Context, code, pageID string) (any, error) {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	res, err := p.Eval(code)
	if err != nil {
		if timedOut(ctx, opCtx, err) {
			return nil, &StepTimeout{Op: "executeScript", After: e.opts.Timeout, Err: err}
		}
		return nil, &ScriptExecutionError{Err: err}
	}
	return res.Value.Val(), nil
}

// GetContent returns the page's current markup.
func (e *Engine) GetContent(ctx context.Context, pageID string) (string, error) {
	_, p, opCtx, cancel, err := e.op(ctx, pageID)
	if err != nil {
		return "", err
	}
	defer cancel()

	html, err := p.HTML()
	if err != nil {
		if timedOut(ctx, opCtx, err) {
			return "", &StepTimeout{Op: "getContent", After: e.opts.Timeout, Err: err}
		}
		return "", fmt.Errorf("get content: %w", err)
	}
	return html, nil
}
