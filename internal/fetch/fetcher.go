// Package fetch retrieves pages from hosts that resist automated access.
//
// Every request starts on a lightweight HTTP path and escalates to a real
// browser when the host blocks it. Attempts are bounded and separated by an
// exponential backoff with jitter; an exhausted request yields ErrExhausted
// so callers can skip the unit of work.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/alvmarrod/douban-imdb/internal/browser"
	"github.com/alvmarrod/douban-imdb/internal/config"
	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/session"
	"github.com/alvmarrod/douban-imdb/internal/useragent"
	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

var (
	// ErrExhausted is returned when every attempt failed
	ErrExhausted = errors.New("fetch attempts exhausted")
	// ErrChallenge means the host served a login/anti-bot page that was not recovered
	ErrChallenge = errors.New("challenge page not recovered")
	// ErrBrowserConnection means the browser rendered its own error page
	ErrBrowserConnection = errors.New("browser connection error")
	errNoResponse        = errors.New("no response received")
)

// StatusError is a non-200 answer on the HTTP path
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Mode selects where a fetch starts
type Mode int

const (
	// ModeAuto starts with HTTP and escalates to the browser
	ModeAuto Mode = iota
	// ModeBrowser goes straight to the browser
	ModeBrowser
)

// Browser renders pages
type Browser interface {
	Navigate(ctx context.Context, url string) (string, error)
}

// ChallengeResolver recognizes and recovers from challenge pages
type ChallengeResolver interface {
	Detect(html string) bool
	Resolve(ctx context.Context, target string) (string, bool)
}

// Options tunes the retry policy and HTTP path
type Options struct {
	Timeout           time.Duration
	Attempts          int
	RetryDelay        time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration
	BrowserFirstHosts []string
}

// OptionsFromConfig maps runtime configuration onto fetch options
func OptionsFromConfig(cfg *config.Config) Options {
	lo, hi := cfg.Jitter()
	return Options{
		Timeout:           cfg.RequestTimeout(),
		Attempts:          cfg.RetryAttempts,
		RetryDelay:        cfg.RetryDelay(),
		JitterMin:         lo,
		JitterMax:         hi,
		BrowserFirstHosts: cfg.BrowserFirstHosts,
	}
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "zh-CN,zh;q=0.9,en-US;q=0.5,en;q=0.3",
	"Upgrade-Insecure-Requests": "1",
	"Pragma":                    "no-cache",
	"Cache-Control":             "no-cache",
}

// Fetcher is the resilient page fetcher
type Fetcher struct {
	opts      Options
	collector *colly.Collector
	browser   Browser
	resolver  ChallengeResolver
	tracker   *metrics.Tracker
}

// New creates a fetcher. browser and resolver may be nil, which disables escalation
// and challenge recovery respectively.
func New(opts Options, b Browser, resolver ChallengeResolver, tracker *metrics.Tracker) *Fetcher {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	f := &Fetcher{
		opts:     opts,
		browser:  b,
		resolver: resolver,
		tracker:  tracker,
	}
	f.setupColly()
	return f
}

// setupColly configures the shared collector used by the HTTP path
func (f *Fetcher) setupColly() {
	f.collector = colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxDepth(0),
	)
	f.collector.SetRequestTimeout(f.opts.Timeout)
	f.collector.ParseHTTPErrorResponse = true

	// Proxies are bypassed on purpose, the cloudflare transport adjusts the TLS fingerprint
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: f.opts.Timeout,
	}
	f.collector.WithTransport(cloudflarebp.AddCloudFlareByPass(base))
}

// ShareCookies hands browser session cookies to the HTTP path
func (f *Fetcher) ShareCookies(cookies []session.Cookie) {
	byHost := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		byHost[host] = append(byHost[host], c.HTTPCookie())
	}
	for host, hc := range byHost {
		if err := f.collector.SetCookies("https://"+host+"/", hc); err != nil {
			logrus.Warnf("Failed to share cookies for %s: %v", host, err)
		}
	}
}

// Fetch returns the content of target. On exhaustion it returns a nil page and
// an error wrapping ErrExhausted and the last cause.
func (f *Fetcher) Fetch(ctx context.Context, target string, mode Mode) (Page, error) {
	useBrowser := mode == ModeBrowser || MatchesHost(target, f.opts.BrowserFirstHosts)
	if useBrowser && f.browser == nil {
		return nil, fmt.Errorf("%w: no browser configured for %s", ErrExhausted, target)
	}

	var result Page
	attempt := 0

	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		started := time.Now()
		defer func() { f.tracker.RecordFetchTime(time.Since(started)) }()

		if useBrowser {
			page, err := f.viaBrowser(ctx, target)
			if err != nil {
				if errors.Is(err, browser.ErrUnavailable) || errors.Is(err, browser.ErrClosed) {
					return backoff.Permanent(err)
				}
				return err
			}
			result = page
			return nil
		}

		page, err := f.viaHTTP(target)
		if err == nil && f.resolver != nil && f.resolver.Detect(page.Text()) {
			err = ErrChallenge
		}
		if err == nil {
			result = page
			return nil
		}
		if f.browser != nil {
			logrus.Infof("HTTP path failed for %s (%v), switching to the browser for the next attempt", target, err)
			useBrowser = true
			f.tracker.IncrementBrowserFallbacks()
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&jitterBackOff{
			base:      f.opts.RetryDelay,
			jitterMin: f.opts.JitterMin,
			jitterMax: f.opts.JitterMax,
		}, uint64(f.opts.Attempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logrus.Warnf("Attempt %d/%d for %s failed: %v. Retrying in %s", attempt, f.opts.Attempts, target, err, wait.Round(10*time.Millisecond))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		f.tracker.IncrementPagesFailed()
		logrus.Errorf("Failed to retrieve %s after %d attempts: %v", target, attempt, err)
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}

	f.tracker.IncrementPagesFetched()
	logrus.Debugf("Fetched %s via %s", target, result.Source())
	return result, nil
}

// viaHTTP performs one request on the lightweight path
func (f *Fetcher) viaHTTP(target string) (*HTTPPage, error) {
	c := f.collector.Clone()
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true

	var page *HTTPPage
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", useragent.Random())
		for k, v := range browserHeaders {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		page = &HTTPPage{
			StatusCode: r.StatusCode,
			Body:       r.Body,
			FinalURL:   r.Request.URL.String(),
		}
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", target, err)
	}
	if page == nil {
		return nil, errNoResponse
	}
	if page.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: target, StatusCode: page.StatusCode}
	}
	return page, nil
}

// viaBrowser performs one browser navigation, recovering from a challenge page if possible
func (f *Fetcher) viaBrowser(ctx context.Context, target string) (*RenderedPage, error) {
	html, err := f.browser.Navigate(ctx, target)
	if err != nil {
		return nil, err
	}
	if IsConnectionErrorPage(html) {
		return nil, fmt.Errorf("%w on %s", ErrBrowserConnection, target)
	}

	if f.resolver != nil && f.resolver.Detect(html) {
		recovered, ok := f.resolver.Resolve(ctx, target)
		if !ok {
			return nil, ErrChallenge
		}
		f.tracker.IncrementChallengesSolved()
		html = recovered
	}

	return &RenderedPage{HTML: html, FinalURL: target}, nil
}
