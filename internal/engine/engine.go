// Package engine drives a real Chromium session through go-rod with
// anti-detection countermeasures and human-paced input.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/stealthrun/internal/profile"
)

// DefaultPageID names the page used when callers pass an empty id.
const DefaultPageID = "default"

const (
	defaultTimeout    = 30 * time.Second
	defaultCloseGrace = 5 * time.Second
)

// Options configures an Engine.
type Options struct {
	Headless   bool
	BrowserBin string
	// ControlURL connects to an already running browser instead of
	// launching one.
	ControlURL string
	// Timeout bounds every primitive.
	Timeout time.Duration
	// CloseGrace bounds a graceful Close before the process is killed.
	CloseGrace time.Duration
	Humanizer  *Humanizer
	Logger     *zap.Logger
}

// Engine owns one browser session and its pages. An Engine must not be
// shared between execution sessions.
type Engine struct {
	opts   Options
	human  *Humanizer
	logger *zap.Logger

	// openPage creates and configures a tab; swapped in tests.
	openPage func(ctx context.Context, b *rod.Browser, p profile.Profile) (*rod.Page, error)

	mu        sync.Mutex
	profile   profile.Profile
	launcher  *launcher.Launcher
	browser   *rod.Browser
	launching bool
	// gen changes on every Close so in-flight launches and page
	// creations can tell they lost the race.
	gen   int
	pages map[string]*page
}

// page is a cached browser tab plus the pointer position the engine last
// moved it to.
type page struct {
	id     string
	rod    *rod.Page
	cursor proto.Point
}

// New returns an engine that has not launched a browser yet.
func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}
	if opts.Humanizer == nil {
		opts.Humanizer = NewHumanizer(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	e := &Engine{
		opts:   opts,
		human:  opts.Humanizer,
		logger: opts.Logger.Named("engine"),
		pages:  make(map[string]*page),
	}
	e.openPage = e.newPage
	return e
}

// Profile returns the identity the session was launched with.
func (e *Engine) Profile() profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// Launch starts the browser configured for p. Any failure is a
// *SessionInitError. With a control URL the session runs in its own
// incognito context of the remote browser and never closes the browser
// itself.
func (e *Engine) Launch(ctx context.Context, p profile.Profile) error {
	if err := p.Validate(); err != nil {
		return &SessionInitError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &SessionInitError{Err: err}
	}

	e.mu.Lock()
	if e.browser != nil || e.launching {
		e.mu.Unlock()
		return &SessionInitError{Err: errors.New("engine already launched")}
	}
	e.launching = true
	gen := e.gen
	e.mu.Unlock()

	l, browser, err := e.connect(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.launching = false
	if err != nil {
		return &SessionInitError{Err: err}
	}
	if gen != e.gen {
		go teardown(nil, browser, l)
		return &SessionInitError{Err: errors.New("engine closed during launch")}
	}

	e.profile = p
	e.launcher = l
	e.browser = browser

	e.logger.Info("browser launched",
		zap.Bool("headless", e.opts.Headless),
		zap.Bool("remote", e.opts.ControlURL != ""),
		zap.String("platform", p.Platform),
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
		zap.Int("width", p.Viewport.Width),
		zap.Int("height", p.Viewport.Height))
	return nil
}

// connect launches a local browser, or joins the remote one in a fresh
// incognito context.
func (e *Engine) connect(p profile.Profile) (*launcher.Launcher, *rod.Browser, error) {
	controlURL := e.opts.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = e.newLauncher(p)
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, nil, fmt.Errorf("connect browser: %w", err)
	}
	if l != nil {
		return l, browser, nil
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, nil, fmt.Errorf("open incognito context: %w", err)
	}
	return nil, incognito, nil
}

// newLauncher builds the launcher with profile geometry and the flags that
// switch off automation telemetry.
func (e *Engine) newLauncher(p profile.Profile) *launcher.Launcher {
	bin := e.opts.BrowserBin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}

	// not bound to the run context: Close must still reach a live browser
	l := launcher.New().Headless(e.opts.Headless)
	if bin != "" {
		l = l.Bin(bin)
	}

	l = l.Delete(flags.Flag("enable-automation")).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("disable-infobars")).
		Set(flags.Flag("no-first-run")).
		Set(flags.Flag("no-default-browser-check")).
		Set(flags.Flag("disable-background-networking")).
		Set(flags.Flag("disable-component-update")).
		Set(flags.Flag("disable-default-apps")).
		Set(flags.Flag("disable-sync")).
		Set(flags.Flag("disable-breakpad")).
		Set(flags.Flag("disable-domain-reliability")).
		Set(flags.Flag("disable-client-side-phishing-detection")).
		Set(flags.Flag("metrics-recording-only")).
		Set(flags.Flag("lang"), p.Locale).
		Set(flags.Flag("window-size"), strconv.Itoa(p.Viewport.Width)+","+strconv.Itoa(p.Viewport.Height+browserChromeHeight))
	return l
}

// page returns the cached page for id, creating and configuring it under
// ctx on first use. The lock is not held while the browser works.
func (e *Engine) page(ctx context.Context, id string) (*page, error) {
	if id == "" {
		id = DefaultPageID
	}

	e.mu.Lock()
	if pg, ok := e.pages[id]; ok {
		e.mu.Unlock()
		return pg, nil
	}
	browser, p, gen := e.browser, e.profile, e.gen
	e.mu.Unlock()
	if browser == nil {
		return nil, &SessionInitError{Err: errors.New("engine not launched")}
	}

	rp, err := e.openPage(ctx, browser, p)
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		go func() { _ = rp.Close() }()
		return nil, &SessionInitError{Err: errors.New("engine closed")}
	}
	if pg, ok := e.pages[id]; ok {
		go func() { _ = rp.Close() }()
		return pg, nil
	}
	pg := &page{
		id:     id,
		rod:    rp,
		cursor: e.human.StartPoint(p.Viewport.Width, p.Viewport.Height),
	}
	e.pages[id] = pg
	e.logger.Debug("page created", zap.String("page", id))
	return pg, nil
}

// newPage opens a blank tab bounded by ctx and applies the profile. The
// returned page is detached from ctx.
func (e *Engine) newPage(ctx context.Context, b *rod.Browser, p profile.Profile) (*rod.Page, error) {
	rp, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	if err := e.configure(rp, p); err != nil {
		_ = rp.Context(context.Background()).Close()
		return nil, err
	}
	return rp.Context(context.Background()), nil
}

// configure applies the identity overrides and registers the
// countermeasures so they run before any page script.
func (e *Engine) configure(rp *rod.Page, p profile.Profile) error {
	err := proto.NetworkSetUserAgentOverride{
		UserAgent:      p.UserAgent,
		AcceptLanguage: p.AcceptLanguage(),
		Platform:       p.Platform,
	}.Call(rp)
	if err != nil {
		return fmt.Errorf("user agent: %w", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: p.Timezone}).Call(rp); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: p.Locale}).Call(rp); err != nil {
		return fmt.Errorf("locale: %w", err)
	}
	err = rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.Viewport.Width,
		Height:            p.Viewport.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("viewport: %w", err)
	}

	js, err := stealthScript(p)
	if err != nil {
		return err
	}
	if _, err := rp.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("inject countermeasures: %w", err)
	}
	return nil
}

// Cursor reports where the virtual pointer sits on the page.
func (e *Engine) Cursor(pageID string) (x, y float64) {
	if pageID == "" {
		pageID = DefaultPageID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if pg, ok := e.pages[pageID]; ok {
		return pg.cursor.X, pg.cursor.Y
	}
	return 0, 0
}

// Close closes every page, clears cookies and releases the browser. It is
// safe to call repeatedly and before Launch. If the graceful path exceeds
// the grace period the browser process is killed. A remote browser is left
// running; only this session's incognito context goes away.
func (e *Engine) Close() error {
	pages, browser, l := e.detach()
	if browser == nil && l == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- teardown(pages, browser, nil)
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(e.opts.CloseGrace):
		err = fmt.Errorf("graceful close exceeded %s", e.opts.CloseGrace)
		e.logger.Warn("forcing browser teardown", zap.Duration("grace", e.opts.CloseGrace))
	}

	if l != nil {
		l.Kill()
	}
	e.logger.Info("browser closed", zap.Int("pages", len(pages)))
	return err
}

// detach takes ownership of the session state and invalidates anything
// still being created.
func (e *Engine) detach() (map[string]*page, *rod.Browser, *launcher.Launcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pages, browser, l := e.pages, e.browser, e.launcher
	e.pages = make(map[string]*page)
	e.browser = nil
	e.launcher = nil
	e.gen++
	return pages, browser, l
}

// teardown closes pages and the browser. For an incognito browser Close
// disposes only its context and the cookie clear is scoped to it.
func teardown(pages map[string]*page, browser *rod.Browser, l *launcher.Launcher) error {
	var errs []error
	for id, pg := range pages {
		if err := pg.rod.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page %s: %w", id, err))
		}
	}
	if browser != nil {
		if err := browser.SetCookies(nil); err != nil {
			errs = append(errs, fmt.Errorf("clear cookies: %w", err))
		}
		if err := browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if l != nil {
		l.Kill()
	}
	return errors.Join(errs...)
}
