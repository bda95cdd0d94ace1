package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stealthrun/internal/profile"
)

func testProfile() profile.Profile {
	return profile.Profile{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform:  "Win32",
		Viewport:  profile.Viewport{Width: 1366, Height: 768},
		Timezone:  "Europe/Paris",
		Locale:    "fr-FR",
		NoiseSeed: 12345,
	}
}

func TestCloseBeforeLaunch(t *testing.T) {
	e := New(Options{})
	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

func TestLaunchRejectsInvalidProfile(t *testing.T) {
	e := New(Options{})
	p := testProfile()
	p.UserAgent = ""

	err := e.Launch(context.Background(), p)
	var initErr *SessionInitError
	require.ErrorAs(t, err, &initErr)
	assert.True(t, IsFatal(err))
}

func TestLaunchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(Options{}).Launch(ctx, testProfile())
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrimitiveBeforeLaunch(t *testing.T) {
	e := New(Options{})
	err := e.Navigate(context.Background(), "https://example.com", "")
	assert.True(t, IsFatal(err))
}

func TestErrorTaxonomy(t *testing.T) {
	cause := context.DeadlineExceeded

	notFound := &ElementNotFound{Selector: "#missing", Err: cause}
	assert.Contains(t, notFound.Error(), "#missing")
	assert.True(t, notFound.Timeout())
	assert.ErrorIs(t, notFound, context.DeadlineExceeded)

	nav := &NavigationTimeout{URL: "https://example.com", After: time.Second, Err: cause}
	assert.True(t, nav.Timeout())
	assert.Contains(t, nav.Error(), "1s")

	wait := &StepTimeout{Op: "waitForSelector", Target: ".row", After: 2 * time.Second, Err: cause}
	assert.Equal(t, "waitForSelector .row timed out after 2s", wait.Error())

	script := &ScriptExecutionError{Err: errors.New("ReferenceError: x is not defined")}
	assert.Contains(t, script.Error(), "ReferenceError")
	assert.False(t, IsFatal(script))

	wrapped := fmt.Errorf("step-1: %w", &SessionInitError{Err: errors.New("no chrome")})
	assert.True(t, IsFatal(wrapped))
}

func TestTimedOutIgnoresCallerCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	opCtx, opCancel := context.WithTimeout(parent, time.Hour)
	defer opCancel()
	cancel()
	assert.False(t, timedOut(parent, opCtx, context.Canceled))

	expired, expCancel := context.WithTimeout(context.Background(), -time.Second)
	defer expCancel()
	assert.True(t, timedOut(context.Background(), expired, errors.New("cdp: canceled")))
}

func TestTypeKeysOutlastPrimitiveTimeout(t *testing.T) {
	var deadlines int
	human := NewHumanizer(rand.New(rand.NewSource(3)), func(ctx context.Context, _ time.Duration) error {
		if _, ok := ctx.Deadline(); ok {
			deadlines++
		}
		time.Sleep(3 * time.Millisecond)
		return ctx.Err()
	})
	e := New(Options{Timeout: 5 * time.Millisecond, Humanizer: human})

	var typed []rune
	err := e.typeKeys(context.Background(), "#bio", []rune("a long biography"), func(keyCtx context.Context, r rune) error {
		_, ok := keyCtx.Deadline()
		assert.True(t, ok, "each key is bounded")
		typed = append(typed, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a long biography", string(typed))
	assert.Zero(t, deadlines, "pacing must not run under the primitive timeout")
}

func TestTypeKeysStuckKeyTimesOut(t *testing.T) {
	human := NewHumanizer(rand.New(rand.NewSource(3)), func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	e := New(Options{Timeout: 10 * time.Millisecond, Humanizer: human})

	err := e.typeKeys(context.Background(), "#bio", []rune("ab"), func(keyCtx context.Context, _ rune) error {
		<-keyCtx.Done()
		return keyCtx.Err()
	})
	var st *StepTimeout
	require.ErrorAs(t, err, &st)
	assert.Equal(t, "type", st.Op)
	assert.Equal(t, "#bio", st.Target)
}

func TestPageCreationDoesNotBlockClose(t *testing.T) {
	e := New(Options{})
	e.browser = rod.New()
	e.profile = testProfile()
	entered := make(chan struct{})
	e.openPage = func(ctx context.Context, _ *rod.Browser, _ profile.Profile) (*rod.Page, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := e.page(ctx, "")
		errc <- err
	}()
	<-entered

	detached := make(chan struct{})
	go func() {
		_, browser, _ := e.detach()
		assert.NotNil(t, browser)
		close(detached)
	}()
	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach waited behind page creation")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Empty(t, e.pages)
}

func TestStealthScriptCarriesProfile(t *testing.T) {
	p := testProfile()
	js, err := stealthScript(p)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(js, "((cfg) =>"))
	assert.Contains(t, js, `"languages":["fr-FR","fr","en-US","en"]`)
	assert.Contains(t, js, `"platform":"Win32"`)
	assert.Contains(t, js, `"noiseSeed":12345`)
	assert.Contains(t, js, "Direct3D11")
	assert.Contains(t, js, "canvasKinds.get(canvas) !== '2d'")
}

func TestScreenContainsViewport(t *testing.T) {
	for _, platform := range []string{"Win32", "MacIntel", "Linux x86_64"} {
		t.Run(platform, func(t *testing.T) {
			p := testProfile()
			p.Platform = platform
			s := screenFor(p)
			assert.GreaterOrEqual(t, s.Width, p.Viewport.Width)
			assert.Greater(t, s.Height, p.Viewport.Height)
			assert.LessOrEqual(t, s.AvailHeight, s.Height-s.AvailTop)
			assert.Equal(t, p.Viewport.Height+browserChromeHeight, s.OuterHeight)
		})
	}
}

// Browser tests need a local Chromium.
func browserTest(t *testing.T) *Engine {
	t.Helper()
	if os.Getenv("STEALTHRUN_BROWSER_TESTS") != "1" {
		t.Skip("set STEALTHRUN_BROWSER_TESTS=1 to run browser tests")
	}
	e := New(Options{Headless: true, Timeout: 10 * time.Second})
	require.NoError(t, e.Launch(context.Background(), testProfile()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

const fixturePage = `<!doctype html>
<html><head><title>Fixture</title></head>
<body style="height:4000px">
<nav><a href="/about">About</a></nav>
<input id="q" placeholder="search">
<button id="go" onclick="document.getElementById('out').textContent = document.getElementById('q').value">Go</button>
<ul><li class="row" data-k="1">one</li><li class="row" data-k="2">two</li></ul>
<div id="out"></div>
</body></html>`

func TestEngineAgainstLocalPage(t *testing.T) {
	e := browserTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fixturePage))
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, e.Navigate(ctx, srv.URL, ""))

	webdriver, err := e.ExecuteScript(ctx, `() => navigator.webdriver`, "")
	require.NoError(t, err)
	assert.Nil(t, webdriver)

	langs, err := e.ExecuteScript(ctx, `() => navigator.languages.join(",")`, "")
	require.NoError(t, err)
	assert.Equal(t, "fr-FR,fr,en-US,en", langs)

	// exporting a fresh canvas must not pin it to a 2d context
	free, err := e.ExecuteScript(ctx, `() => {
		const c = document.createElement('canvas');
		c.toDataURL();
		return c.getContext('bitmaprenderer') !== null;
	}`, "")
	require.NoError(t, err)
	assert.Equal(t, true, free)

	require.NoError(t, e.Type(ctx, "#q", "héllo", ""))
	require.NoError(t, e.Click(ctx, "#go", ""))
	recs, err := e.Extract(ctx, "#out", "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "héllo", recs[0].Text)

	rows, err := e.Extract(ctx, ".row", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[1].Attributes["data-k"])

	require.NoError(t, e.Scroll(ctx, ScrollDown, ""))
	require.NoError(t, e.ScrollTo(ctx, 0, 0, ""))

	png, err := e.Screenshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	inv, err := e.Inventory(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Fixture", inv.Title)
	assert.NotEmpty(t, inv.Navigation)

	var notFound *ElementNotFound
	short := New(Options{Headless: true, Timeout: 300 * time.Millisecond})
	require.NoError(t, short.Launch(ctx, testProfile()))
	defer short.Close()
	require.NoError(t, short.Navigate(ctx, srv.URL, ""))
	assert.ErrorAs(t, short.Click(ctx, "#nope", ""), &notFound)

	_, err = e.ExecuteScript(ctx, `() => { throw new Error("boom") }`, "")
	var scriptErr *ScriptExecutionError
	assert.ErrorAs(t, err, &scriptErr)
}

func TestRemoteSessionsAreIsolated(t *testing.T) {
	if os.Getenv("STEALTHRUN_BROWSER_TESTS") != "1" {
		t.Skip("set STEALTHRUN_BROWSER_TESTS=1 to run browser tests")
	}
	l := launcher.New().Headless(true)
	u := l.MustLaunch()
	defer l.Kill()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fixturePage))
	}))
	defer srv.Close()

	ctx := context.Background()
	a := New(Options{ControlURL: u, Timeout: 10 * time.Second})
	b := New(Options{ControlURL: u, Timeout: 10 * time.Second})
	require.NoError(t, a.Launch(ctx, testProfile()))
	require.NoError(t, b.Launch(ctx, testProfile()))
	defer b.Close()

	require.NoError(t, a.Navigate(ctx, srv.URL, ""))
	require.NoError(t, b.Navigate(ctx, srv.URL, ""))
	require.NoError(t, a.Close())

	title, err := b.ExecuteScript(ctx, `() => document.title`, "")
	require.NoError(t, err)
	assert.Equal(t, "Fixture", title)
}
