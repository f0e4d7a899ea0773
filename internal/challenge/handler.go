// Package challenge recognizes login and anti-bot interstitials and walks the
// operator through recovering from them.
package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/session"
	"github.com/sirupsen/logrus"
)

// Phrases served on the source site's challenge pages
var challengeMarkers = []string{
	"有异常请求从你的 IP 发出",
	"请 登录 使用豆瓣",
}

// Phrases only present when a user is signed in
var loggedInMarkers = []string{
	"个人主页",
	"我的豆瓣",
	"你的账号",
	"我读",
}

const loginLinkText = "登录"

// Browser is the part of the browser session the handler drives
type Browser interface {
	Navigate(ctx context.Context, url string) (string, error)
	ClickLinkText(ctx context.Context, text string) error
	Cookies(ctx context.Context) ([]session.Cookie, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
}

// CookieStore persists session cookies
type CookieStore interface {
	Load() ([]session.Cookie, error)
	Save(cookies []session.Cookie) error
}

// Handler detects challenge pages and recovers the session
type Handler struct {
	Browser  Browser
	Store    CookieStore // nil disables the cookie cache
	Prompter Prompter
	Timeout  time.Duration // ceiling for the operator prompt

	// OnLogin receives the cookies of every recovered or restored session
	OnLogin func(cookies []session.Cookie)
}

// Detect reports whether html is a challenge page
func (h *Handler) Detect(html string) bool {
	return containsAny(html, challengeMarkers)
}

// LoggedIn reports whether html belongs to an authenticated page
func (h *Handler) LoggedIn(html string) bool {
	return containsAny(html, loggedInMarkers)
}

// Resolve asks the operator to log in and reloads target.
// It returns the recovered HTML and true when the challenge is gone.
func (h *Handler) Resolve(ctx context.Context, target string) (string, bool) {
	logrus.Warn("Login challenge detected, complete the login flow in the browser window")

	if err := h.Browser.ClickLinkText(ctx, loginLinkText); err != nil {
		logrus.Warnf("Could not click the login link automatically (%v), click it manually", err)
	} else {
		logrus.Info("Clicked the login link, finish the login in the opened page")
	}

	if err := h.wait(ctx, "Press Enter after completing the login in the browser..."); err != nil {
		logrus.Warnf("No operator confirmation: %v", err)
		return "", false
	}

	html, err := h.Browser.Navigate(ctx, target)
	if err != nil {
		logrus.Warnf("Failed to reload %s after login: %v", target, err)
		return "", false
	}
	if h.Detect(html) {
		logrus.Warn("Login does not seem to have succeeded, try again")
		return "", false
	}

	logrus.Info("Login succeeded")
	h.persist(ctx)
	return html, true
}

// Restore loads saved cookies into the browser and verifies them on homeURL
func (h *Handler) Restore(ctx context.Context, homeURL string) bool {
	if h.Store == nil {
		return false
	}
	cookies, err := h.Store.Load()
	if err != nil {
		logrus.Infof("No usable saved session: %v", err)
		return false
	}

	logrus.Info("Loading saved cookies...")
	// Cookies can only be set once the browser is on the cookie's domain
	if _, err := h.Browser.Navigate(ctx, homeURL); err != nil {
		logrus.Warnf("Failed to open %s: %v", homeURL, err)
		return false
	}
	if err := h.Browser.SetCookies(ctx, cookies); err != nil {
		logrus.Warnf("Failed to install saved cookies: %v", err)
		return false
	}
	html, err := h.Browser.Navigate(ctx, homeURL)
	if err != nil {
		logrus.Warnf("Failed to reload %s: %v", homeURL, err)
		return false
	}
	if !h.LoggedIn(html) {
		logrus.Warn("Saved cookies did not log in, they may be stale")
		return false
	}

	logrus.Info("Logged in with saved cookies")
	if h.OnLogin != nil {
		h.OnLogin(cookies)
	}
	return true
}

// ManualLogin opens homeURL and waits for the operator to log in
func (h *Handler) ManualLogin(ctx context.Context, homeURL string) bool {
	if _, err := h.Browser.Navigate(ctx, homeURL); err != nil {
		logrus.Warnf("Failed to open %s: %v", homeURL, err)
		return false
	}
	if err := h.wait(ctx, "Log in to the site in the browser window, then press Enter..."); err != nil {
		logrus.Warnf("No operator confirmation: %v", err)
		return false
	}
	html, err := h.Browser.Navigate(ctx, homeURL)
	if err != nil {
		logrus.Warnf("Failed to reload %s: %v", homeURL, err)
		return false
	}
	if !h.LoggedIn(html) {
		logrus.Warn("Login unsuccessful or could not be detected")
		return false
	}

	logrus.Info("Login successful")
	h.persist(ctx)
	return true
}

func (h *Handler) wait(ctx context.Context, message string) error {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	return h.Prompter.Wait(ctx, message)
}

// persist saves the browser cookies and shares them with OnLogin
func (h *Handler) persist(ctx context.Context) {
	cookies, err := h.Browser.Cookies(ctx)
	if err != nil {
		logrus.Warnf("Failed to read session cookies: %v", err)
		return
	}
	if h.OnLogin != nil {
		h.OnLogin(cookies)
	}
	if h.Store == nil {
		return
	}
	if err := h.Store.Save(cookies); err != nil {
		logrus.Warnf("Failed to save cookies: %v", err)
		return
	}
	logrus.Info("Saved login cookies")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
