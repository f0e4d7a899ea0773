package fetch

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Source tells which path produced a page
type Source int

const (
	SourceHTTP Source = iota
	SourceBrowser
)

func (s Source) String() string {
	switch s {
	case SourceHTTP:
		return "http"
	case SourceBrowser:
		return "browser"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Page is the content returned by a successful fetch
type Page interface {
	Text() string
	URL() string
	Source() Source
}

// HTTPPage is a page served by the lightweight HTTP path
type HTTPPage struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

func (p *HTTPPage) Text() string   { return string(p.Body) }
func (p *HTTPPage) URL() string    { return p.FinalURL }
func (p *HTTPPage) Source() Source { return SourceHTTP }

// RenderedPage is the DOM of a page after the browser executed its scripts
type RenderedPage struct {
	HTML     string
	FinalURL string
}

func (p *RenderedPage) Text() string   { return p.HTML }
func (p *RenderedPage) URL() string    { return p.FinalURL }
func (p *RenderedPage) Source() Source { return SourceBrowser }

// Document parses a page into a goquery document
func Document(p Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.Text()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.URL(), err)
	}
	return doc, nil
}
