package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/v0xg/stealthrun/internal/action"
	"github.com/v0xg/stealthrun/internal/engine"
	"github.com/v0xg/stealthrun/internal/profile"
)

// Driver is the browser session a Monitor runs steps against.
// *engine.Engine satisfies it.
type Driver interface {
	Launch(ctx context.Context, p profile.Profile) error
	Navigate(ctx context.Context, url, pageID string) error
	Click(ctx context.Context, selector, pageID string) error
	Type(ctx context.Context, selector, text, pageID string) error
	Scroll(ctx context.Context, direction, pageID string) error
	ScrollTo(ctx context.Context, x, y int, pageID string) error
	WaitForSelector(ctx context.Context, selector, pageID string) error
	WaitForDuration(ctx context.Context, d time.Duration, pageID string) error
	Extract(ctx context.Context, selector, pageID string) ([]engine.Record, error)
	Screenshot(ctx context.Context, pageID string) ([]byte, error)
	Close() error
}

// Pointer is implemented by drivers that track a virtual pointer.
type Pointer interface {
	Cursor(pageID string) (x, y float64)
}

var _ Driver = (*engine.Engine)(nil)
var _ Pointer = (*engine.Engine)(nil)

// steps run on the driver's default page
const pageID = ""

type result struct {
	records    []engine.Record
	screenshot []byte
}

type handler func(ctx context.Context, d Driver, p action.Params) (result, error)

// handlers has exactly one entry per action.Type.
var handlers = map[action.Type]handler{
	action.Navigate: func(ctx context.Context, d Driver, p action.Params) (result, error) {
		return result{}, d.Navigate(ctx, p.(action.NavigateParams).URL, pageID)
	},
	action.Click: func(ctx context.Context, d Driver, p action.Params) (result, error) {
		return result{}, d.Click(ctx, p.(action.ClickParams).Selector, pageID)
	},
	action.TypeText: func(ctx context.Context, d Driver, p action.Params) (result, error) {
		tp := p.(action.TypeParams)
		return result{}, d.Type(ctx, tp.Selector, tp.Text, pageID)
	},
	action.Wait: func(ctx context.Context, d Driver, p action.Params) (result, error) {
		wp := p.(action.WaitParams)
		if wp.Selector != "" {
			return result{}, d.WaitForSelector(ctx, wp.Selector, pageID)
		}
		return result{}, d.WaitForDuration(ctx, time.Duration(wp.DurationMs)*time.Millisecond, pageID)
	},
	action.Extract: func(ctx context.Context, d Driver, p action.Params) (result, error) {
		recs, err := d.Extract(ctx, p.(action.ExtractParams).Selector, pageID)
		return result{records: recs}, err
	},
	action.Screenshot: func(ctx context.Context, d Driver, _ action.Params) (result, error) {
		img, err := d.Screenshot(ctx, pageID)
		return result{screenshot: img}, err
	},
	action.Scroll: func(ctx context.Context, d Driver, p action.Params) (result, error) {
		sp := p.(action.ScrollParams)
		if sp.Direction != "" {
			return result{}, d.Scroll(ctx, sp.Direction, pageID)
		}
		return result{}, d.ScrollTo(ctx, sp.X, sp.Y, pageID)
	},
}

func dispatch(ctx context.Context, d Driver, p action.Params) (result, error) {
	if p == nil {
		return result{}, fmt.Errorf("step has no params")
	}
	h, ok := handlers[p.Type()]
	if !ok {
		return result{}, fmt.Errorf("unsupported action type %q", p.Type())
	}
	return h(ctx, d, p)
}
