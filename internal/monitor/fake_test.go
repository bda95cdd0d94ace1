package monitor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"sync"
	"time"

	"github.com/v0xg/stealthrun/internal/action"
	"github.com/v0xg/stealthrun/internal/engine"
	"github.com/v0xg/stealthrun/internal/profile"
)

var errBoom = errors.New("boom")

// fakeDriver records calls. Keys look like "click #a".
type fakeDriver struct {
	mu sync.Mutex

	launchErr error
	// failures per key; a negative count fails forever
	fail map[string]int
	errs map[string]error
	// block makes the key wait for cancellation and signals entered
	block   string
	entered chan struct{}

	calls    []string
	launched int
	closed   int
}

func newFake() *fakeDriver {
	return &fakeDriver{
		fail:    map[string]int{},
		errs:    map[string]error{},
		entered: make(chan struct{}, 1),
	}
}

func (f *fakeDriver) do(ctx context.Context, key string) error {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	block := f.block == key
	n, failing := f.fail[key]
	if failing && n > 0 {
		f.fail[key] = n - 1
	}
	custom := f.errs[key]
	f.mu.Unlock()

	if block {
		f.entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	if failing && n != 0 {
		if custom != nil {
			return custom
		}
		return errBoom
	}
	return nil
}

func (f *fakeDriver) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (f *fakeDriver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDriver) Launch(context.Context, profile.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched++
	return f.launchErr
}

func (f *fakeDriver) Navigate(ctx context.Context, url, _ string) error {
	return f.do(ctx, "navigate "+url)
}

func (f *fakeDriver) Click(ctx context.Context, sel, _ string) error {
	return f.do(ctx, "click "+sel)
}

func (f *fakeDriver) Type(ctx context.Context, sel, text, _ string) error {
	return f.do(ctx, "type "+sel+" "+text)
}

func (f *fakeDriver) Scroll(ctx context.Context, dir, _ string) error {
	return f.do(ctx, "scroll "+dir)
}

func (f *fakeDriver) ScrollTo(ctx context.Context, _, _ int, _ string) error {
	return f.do(ctx, "scrollTo")
}

func (f *fakeDriver) WaitForSelector(ctx context.Context, sel, _ string) error {
	return f.do(ctx, "wait "+sel)
}

func (f *fakeDriver) WaitForDuration(ctx context.Context, _ time.Duration, _ string) error {
	return f.do(ctx, "sleep")
}

func (f *fakeDriver) Extract(ctx context.Context, sel, _ string) ([]engine.Record, error) {
	if err := f.do(ctx, "extract "+sel); err != nil {
		return nil, err
	}
	return []engine.Record{{Text: "row", RawMarkup: "<li>row</li>", Attributes: map[string]string{"class": "row"}}}, nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, _ string) ([]byte, error) {
	if err := f.do(ctx, "screenshot"); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes(), nil
}

func (f *fakeDriver) Cursor(string) (float64, float64) { return 8, 4 }

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testOptions() Options {
	return Options{
		Sleep:      noSleep,
		CloseGrace: time.Second,
	}
}

func click(n int, sel string) action.Step {
	return action.Step{ID: stepID(n), Ordinal: n, Params: action.ClickParams{Selector: sel}}
}

func stepID(n int) string {
	return "step-" + strconv.Itoa(n)
}
