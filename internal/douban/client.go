// Package douban knows the layout of the source site: where a user's
// collection lives, how it is paginated and how items and subject pages
// are parsed.
package douban

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/douban-imdb/internal/fetch"
	"github.com/sirupsen/logrus"
)

// HomeURL is where the operator logs in
const HomeURL = "https://www.douban.com/"

// PageSize is the number of items per collection page
const PageSize = 15

const collectionQuery = "sort=time&rating=all&filter=all&mode=grid"

// ErrUserNotFound is returned when the profile page does not exist
var ErrUserNotFound = errors.New("user not found")

// Fetcher retrieves pages
type Fetcher interface {
	Fetch(ctx context.Context, target string, mode fetch.Mode) (fetch.Page, error)
}

// Client reads a user's collection from the source site
type Client struct {
	fetcher Fetcher
	baseURL string
}

// NewClient returns a client for the site rooted at baseURL
func NewClient(f Fetcher, baseURL string) *Client {
	return &Client{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// ProfileURL is the user's movie profile page
func (c *Client) ProfileURL(userID string) string {
	return fmt.Sprintf("%s/people/%s/", c.baseURL, url.PathEscape(userID))
}

// FirstPageURL is the first collection page in grid mode
func (c *Client) FirstPageURL(userID string) string {
	return fmt.Sprintf("%s/people/%s/collect?%s", c.baseURL, url.PathEscape(userID), collectionQuery)
}

// PageURLs builds one address per page, newest page first
func (c *Client) PageURLs(userID string, maxPage int) []string {
	if maxPage < 1 {
		maxPage = 1
	}
	urls := make([]string, 0, maxPage)
	for p := 1; p <= maxPage; p++ {
		urls = append(urls, fmt.Sprintf("%s/people/%s/collect?start=%d&%s",
			c.baseURL, url.PathEscape(userID), (p-1)*PageSize, collectionQuery))
	}
	return urls
}

// UserExists checks that the user's profile page is served
func (c *Client) UserExists(ctx context.Context, userID string) error {
	page, err := c.fetcher.Fetch(ctx, c.ProfileURL(userID), fetch.ModeAuto)
	if err != nil {
		return fmt.Errorf("failed to load profile of %s: %w", userID, err)
	}
	doc, err := fetch.Document(page)
	if err != nil {
		return err
	}
	if strings.Contains(doc.Find("title").First().Text(), "页面不存在") {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

// CollectionPages enumerates every page of the user's collection.
// When the first page cannot be read or has no paginator, only the first page is returned.
func (c *Client) CollectionPages(ctx context.Context, userID string) []string {
	first := c.FirstPageURL(userID)

	page, err := c.fetcher.Fetch(ctx, first, fetch.ModeAuto)
	if err != nil {
		logrus.Warnf("Failed to access the collection page, assuming a single page: %v", err)
		return []string{first}
	}
	doc, err := fetch.Document(page)
	if err != nil {
		logrus.Warnf("Failed to parse pagination, assuming a single page: %v", err)
		return []string{first}
	}
	if doc.Find("div.paginator a").Length() == 0 {
		logrus.Info("Collection has 1 page")
		return []string{first}
	}

	n := MaxPage(doc)
	logrus.Infof("Collection has %d pages", n)
	return c.PageURLs(userID, n)
}

// Page fetches and parses one collection page
func (c *Client) Page(ctx context.Context, pageURL string) (*goquery.Document, error) {
	page, err := c.fetcher.Fetch(ctx, pageURL, fetch.ModeAuto)
	if err != nil {
		return nil, err
	}
	return fetch.Document(page)
}

// ExternalID loads a subject page in the browser and returns the
// destination-site id, or "" when the page has none
func (c *Client) ExternalID(ctx context.Context, subjectURL string) (string, error) {
	page, err := c.fetcher.Fetch(ctx, subjectURL, fetch.ModeBrowser)
	if err != nil {
		return "", err
	}
	doc, err := fetch.Document(page)
	if err != nil {
		return "", err
	}
	id, ok := ExtractExternalID(doc)
	if !ok {
		logrus.Infof("No external id found on %s", subjectURL)
		return "", nil
	}
	return id, nil
}

// ResolveURL makes href absolute relative to the page it was found on
func ResolveURL(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
