// Package browser drives a single Chrome session through the DevTools protocol.
//
// The session is started on first use and released exactly once by Close.
// Every operation runs with its own timeout derived from the session context
// and is also aborted when the caller's context is cancelled.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/session"
	"github.com/alvmarrod/douban-imdb/internal/useragent"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable means the browser engine could not be started
	ErrUnavailable = errors.New("browser engine unavailable")
	// ErrClosed is returned by operations issued after Close
	ErrClosed = errors.New("browser session closed")
)

// stealthScript runs before any page script on every new document
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.navigator.chrome = {runtime: {}};
window.navigator.permissions.query = (parameters) => Promise.resolve({state: 'prompt'});
`

// Options configures the Chrome process
type Options struct {
	Headless  bool
	UserAgent string        // random pool entry when empty
	Timeout   time.Duration // per-operation timeout
}

// Chrome is a lazily started, process-wide browser session
type Chrome struct {
	opts   Options
	launch func(tab context.Context) error // first action on a fresh tab

	mu          sync.Mutex
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	closed      bool
	closeOnce   sync.Once
}

// New prepares a session; Chrome itself is launched on the first operation
func New(opts Options) *Chrome {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = useragent.Random()
	}
	return &Chrome{opts: opts, launch: injectStealth}
}

// injectStealth is the first Run on a tab, which launches the browser process
func injectStealth(tab context.Context) error {
	return chromedp.Run(tab, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	}))
}

// allocatorOptions builds the launch flags
func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	return append(opts,
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(c.opts.UserAgent),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("allow-insecure-localhost", true),
		chromedp.Flag("no-proxy-server", true),
		chromedp.Flag("proxy-bypass-list", "*"),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
}

// ensure starts Chrome if needed and returns the tab context
func (c *Chrome) ensure() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.tab != nil {
		return c.tab, nil
	}

	logrus.Infof("Starting Chrome (headless=%t)", c.opts.Headless)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	tab, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logrus.Debugf),
		chromedp.WithErrorf(logrus.Debugf),
	)

	if err := c.startWithin(tab, tabCancel); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.tab = tab
	c.tabCancel = tabCancel
	c.allocCancel = allocCancel
	return tab, nil
}

// startWithin runs the launch action, giving up after the operation timeout.
// The launch runs on the tab context itself: a deadline on it would outlive
// the first Run and tear the browser down with it.
func (c *Chrome) startWithin(tab context.Context, tabCancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- c.launch(tab) }()

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		tabCancel()
		<-done
		return fmt.Errorf("browser did not start within %s", c.opts.Timeout)
	}
}

// Start launches the browser eagerly so setup failures surface early
func (c *Chrome) Start() error {
	_, err := c.ensure()
	return err
}

// Run executes actions with the default operation timeout
func (c *Chrome) Run(ctx context.Context, actions ...chromedp.Action) error {
	return c.RunTimeout(ctx, c.opts.Timeout, actions...)
}

// RunTimeout executes actions with an explicit timeout
func (c *Chrome) RunTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tab, err := c.ensure()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url, waits for the body and returns the rendered HTML
func (c *Chrome) Navigate(ctx context.Context, url string) (string, error) {
	var html string
	err := c.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", url, err)
	}
	return html, nil
}

// ClickLinkText clicks the first visible anchor whose text equals text
func (c *Chrome) ClickLinkText(ctx context.Context, text string) error {
	sel := fmt.Sprintf(`//a[normalize-space(.)="%s"]`, text)
	return c.RunTimeout(ctx, 5*time.Second, chromedp.Click(sel, chromedp.BySearch, chromedp.NodeVisible))
}

// Location returns the URL of the current page
func (c *Chrome) Location(ctx context.Context) (string, error) {
	var url string
	err := c.Run(ctx, chromedp.Location(&url))
	return url, err
}

// Cookies returns the cookies visible to the current page
func (c *Chrome) Cookies(ctx context.Context) ([]session.Cookie, error) {
	var out []session.Cookie
	err := c.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			out = append(out, session.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return out, nil
}

// SetCookies installs cookies into the browser; the current page is not reloaded
func (c *Chrome) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	return c.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			p := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if ck.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				p = p.WithExpires(&exp)
			}
			if err := p.Do(ctx); err != nil {
				logrus.Warnf("Failed to add cookie %s: %v", ck.Name, err)
			}
		}
		return nil
	}))
}

// Close shuts the browser down (safe to call multiple times)
func (c *Chrome) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.closed = true
		if c.tab == nil {
			return
		}

		logrus.Info("Closing Chrome...")
		if err := chromedp.Cancel(c.tab); err != nil {
			logrus.Warnf("Error closing Chrome: %v", err)
		}
		c.tabCancel()
		c.allocCancel()
		c.tab = nil
	})
}
