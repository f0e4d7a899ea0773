// Package imdb drives the destination site's rating widget in a visible
// browser session.
package imdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/browser"
	"github.com/alvmarrod/douban-imdb/internal/fetch"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

const (
	signinPath = "/registration/signin"

	searchBox      = "#suggestion-search"
	userRating     = `[data-testid="hero-rating-bar__user-rating"]`
	userScore      = `[data-testid="hero-rating-bar__user-rating__score"]`
	openRatingBtn  = userRating + " button"
	confirmRateBtn = `//div[@class='ipc-starbar']/following-sibling::button`
	deleteRateBtn  = `//div[@class='ipc-starbar']/following-sibling::button[2]`
)

// ErrLoginTimeout is returned when the operator did not finish logging in in time
var ErrLoginTimeout = errors.New("login was not completed in time")

const bannerScript = `(() => {
	const el = document.getElementById('signin-perks');
	if (!el) { return false; }
	el.setAttribute('style', 'color: red;font-size: larger; font-weight: 700;');
	el.innerText = %q;
	return true;
})()`

const loginBanner = "Log in to your own account. The importer waits until the login succeeds."

// Site is the destination site as seen through one browser tab
type Site struct {
	chrome       *browser.Chrome
	baseURL      string
	settle       time.Duration
	loginTimeout time.Duration
}

// New returns a site bound to chrome
func New(chrome *browser.Chrome, baseURL string, settle, loginTimeout time.Duration) *Site {
	return &Site{
		chrome:       chrome,
		baseURL:      strings.TrimRight(baseURL, "/"),
		settle:       settle,
		loginTimeout: loginTimeout,
	}
}

// Login opens the sign-in page and waits for the operator to leave it
func (s *Site) Login(ctx context.Context) error {
	signin := s.baseURL + signinPath
	if _, err := s.chrome.Navigate(ctx, signin); err != nil {
		return err
	}
	if err := fetch.Sleep(ctx, 2*time.Second); err != nil {
		return err
	}

	var replaced bool
	if err := s.chrome.Run(ctx, chromedp.Evaluate(fmt.Sprintf(bannerScript, loginBanner), &replaced)); err != nil || !replaced {
		logrus.Warn("Could not find the sign-in banner, continuing anyway")
	}

	logrus.Infof("Waiting up to %s for the login to complete in the browser", s.loginTimeout)
	deadline := time.Now().Add(s.loginTimeout)
	for time.Now().Before(deadline) {
		loc, err := s.chrome.Location(ctx)
		if err == nil && LoggedIn(loc) {
			logrus.Info("Login succeeded")
			return nil
		}
		if err := fetch.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return ErrLoginTimeout
}

// LoggedIn reports whether the browser left the sign-in flow for a site page
func LoggedIn(location string) bool {
	return strings.Contains(location, "imdb.com") && !strings.Contains(location, "signin")
}

// Search submits an external id to the site search and waits for the title page
func (s *Site) Search(ctx context.Context, externalID string) error {
	err := s.chrome.RunTimeout(ctx, 60*time.Second,
		chromedp.WaitVisible(searchBox, chromedp.ByQuery),
		chromedp.Clear(searchBox, chromedp.ByQuery),
		chromedp.SendKeys(searchBox, externalID, chromedp.ByQuery),
		chromedp.Submit(searchBox, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("search for %s failed: %w", externalID, err)
	}
	return fetch.Sleep(ctx, s.settle)
}

// HasRating reports whether the current title page shows the user's own score
func (s *Site) HasRating(ctx context.Context) (bool, error) {
	var present bool
	script := fmt.Sprintf("document.querySelector(%q) !== null", userScore)
	if err := s.chrome.Run(ctx, chromedp.Evaluate(script, &present)); err != nil {
		return false, fmt.Errorf("failed to inspect rating: %w", err)
	}
	return present, nil
}

// Rate selects the star for rating (1..10) and confirms it
func (s *Site) Rate(ctx context.Context, rating int) error {
	if err := s.openRating(ctx); err != nil {
		return err
	}
	if err := s.chrome.RunTimeout(ctx, 5*time.Second, hoverAndClick(StarSelector(rating))); err != nil {
		return fmt.Errorf("failed to select %d stars: %w", rating, err)
	}
	if err := fetch.Sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := s.chrome.RunTimeout(ctx, 5*time.Second, chromedp.Click(confirmRateBtn, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to confirm rating: %w", err)
	}
	return nil
}

// Unrate removes the user's rating from the current title page
func (s *Site) Unrate(ctx context.Context) error {
	if err := s.openRating(ctx); err != nil {
		return err
	}
	if err := s.chrome.RunTimeout(ctx, 5*time.Second, chromedp.Click(deleteRateBtn, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to delete rating: %w", err)
	}
	return nil
}

func (s *Site) openRating(ctx context.Context) error {
	if err := s.chrome.RunTimeout(ctx, 10*time.Second, chromedp.Click(openRatingBtn, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to open the rating widget: %w", err)
	}
	return fetch.Sleep(ctx, time.Second)
}

// StarSelector addresses the star button for rating
func StarSelector(rating int) string {
	return fmt.Sprintf(`button[aria-label="Rate %d"]`, rating)
}

// hoverAndClick moves the pointer over the node before clicking it; the star
// bar only registers clicks on a hovered star
func hoverAndClick(sel string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.NodeVisible).Do(ctx); err != nil {
			return err
		}
		node := nodes[0]

		if err := dom.ScrollIntoViewIfNeeded().WithNodeID(node.NodeID).Do(ctx); err != nil {
			return err
		}
		box, err := dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		x, y, err := Center(box.Content)
		if err != nil {
			return err
		}
		if err := chromedp.MouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return err
		}
		return chromedp.MouseClickXY(x, y).Do(ctx)
	})
}

// Center returns the middle of a four-point quad
func Center(q dom.Quad) (float64, float64, error) {
	if len(q) != 8 {
		return 0, 0, fmt.Errorf("unexpected quad with %d coordinates", len(q))
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4, nil
}
