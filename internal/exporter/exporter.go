// Package exporter walks a user's source-site collection and writes the
// rated movies to CSV.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/douban-imdb/internal/browser"
	"github.com/alvmarrod/douban-imdb/internal/config"
	"github.com/alvmarrod/douban-imdb/internal/douban"
	"github.com/alvmarrod/douban-imdb/internal/fetch"
	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/movie"
	"github.com/sirupsen/logrus"
)

// Source is the view of the source site the exporter needs
type Source interface {
	UserExists(ctx context.Context, userID string) error
	CollectionPages(ctx context.Context, userID string) []string
	Page(ctx context.Context, pageURL string) (*goquery.Document, error)
	ExternalID(ctx context.Context, subjectURL string) (string, error)
}

// IDCache remembers external ids resolved by earlier runs
type IDCache interface {
	GetExternalID(subjectURL string) (string, bool, error)
	PutExternalID(subjectURL, externalID string) error
}

// Options controls pacing and output
type Options struct {
	CSVPath        string
	PageDelayMin   time.Duration
	PageDelayMax   time.Duration
	DetailDelayMin time.Duration
	DetailDelayMax time.Duration
}

// OptionsFromConfig maps runtime configuration onto exporter options
func OptionsFromConfig(cfg *config.Config) Options {
	pageLo, pageHi := cfg.PageDelay()
	detailLo, detailHi := cfg.DetailDelay()
	return Options{
		CSVPath:        cfg.CSVPath,
		PageDelayMin:   pageLo,
		PageDelayMax:   pageHi,
		DetailDelayMin: detailLo,
		DetailDelayMax: detailHi,
	}
}

// Result describes one export run
type Result struct {
	Records []movie.Record
	Pages   int  // collection pages visited
	Halted  bool // the date cutoff was reached
	Written bool // the CSV file was written
}

// Exporter runs the collection to CSV pipeline
type Exporter struct {
	source  Source
	cache   IDCache
	tracker *metrics.Tracker
	opts    Options
	now     func() time.Time
}

// New builds an exporter. cache may be nil.
func New(source Source, cache IDCache, tracker *metrics.Tracker, opts Options) *Exporter {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	return &Exporter{
		source:  source,
		cache:   cache,
		tracker: tracker,
		opts:    opts,
		now:     time.Now,
	}
}

// Run exports every movie rated after cutoff
func (e *Exporter) Run(ctx context.Context, userID string, cutoff time.Time) (Result, error) {
	var res Result

	if err := e.source.UserExists(ctx, userID); err != nil {
		return res, err
	}

	n := e.now()
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)

	pages := e.source.CollectionPages(ctx, userID)
	for i, pageURL := range pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		logrus.Infof("Scraping page %d/%d", i+1, len(pages))
		res.Pages++

		records, halted, err := e.exportPage(ctx, pageURL, cutoff, today)
		if err != nil {
			return res, err
		}
		res.Records = append(res.Records, records...)
		logrus.Info(e.tracker.LogProgress())

		if halted {
			res.Halted = true
			break
		}
		if i < len(pages)-1 {
			if err := fetch.Pause(ctx, e.opts.PageDelayMin, e.opts.PageDelayMax); err != nil {
				return res, err
			}
		}
	}

	if len(res.Records) == 0 {
		logrus.Warn("No movie data was collected. The source site may be blocking automated access.")
		logrus.Warn("Try one of:")
		logrus.Warn("1. Log in with --manual-login and run again")
		logrus.Warn("2. Run with --visible to watch the browser")
		return res, nil
	}

	if err := movie.SaveFile(e.opts.CSVPath, res.Records); err != nil {
		return res, err
	}
	res.Written = true
	logrus.Infof("Processed %d movies, ratings saved to %s", len(res.Records), e.opts.CSVPath)
	return res, nil
}

// exportPage turns one collection page into records. A page that cannot be
// fetched is skipped; only an unusable browser is reported as an error.
func (e *Exporter) exportPage(ctx context.Context, pageURL string, cutoff, today time.Time) ([]movie.Record, bool, error) {
	doc, err := e.source.Page(ctx, pageURL)
	if err != nil {
		if fatal(ctx, err) {
			return nil, false, err
		}
		logrus.Warnf("Skipping page %s: %v", pageURL, err)
		return nil, false, nil
	}

	items, halted := douban.ExtractItems(doc, cutoff, today)
	records := make([]movie.Record, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return records, halted, err
		}

		subject := douban.ResolveURL(pageURL, it.SubjectURL)
		id, err := e.externalID(ctx, subject)
		if err != nil {
			return records, halted, err
		}

		records = append(records, movie.Record{Title: it.Title, Rating: it.Rating, ExternalID: id})
		e.tracker.IncrementItemsExported()
		logrus.WithFields(logrus.Fields{
			"rating":      it.Rating,
			"external_id": id,
		}).Infof("Processing: %s", shorten(it.Title, 20))
	}
	return records, halted, nil
}

// externalID consults the cache before loading the subject page
func (e *Exporter) externalID(ctx context.Context, subjectURL string) (string, error) {
	if e.cache != nil {
		id, found, err := e.cache.GetExternalID(subjectURL)
		if err != nil {
			logrus.Warnf("External id cache lookup failed: %v", err)
		} else if found {
			e.tracker.IncrementCacheHits()
			return id, nil
		}
	}

	if err := fetch.Pause(ctx, e.opts.DetailDelayMin, e.opts.DetailDelayMax); err != nil {
		return "", err
	}

	id, err := e.source.ExternalID(ctx, subjectURL)
	if err != nil {
		if fatal(ctx, err) {
			return "", err
		}
		logrus.Warnf("Failed to access movie page %s: %v", subjectURL, err)
		return "", nil
	}

	if id != "" && e.cache != nil {
		if err := e.cache.PutExternalID(subjectURL, id); err != nil {
			logrus.Warnf("Failed to cache external id for %s: %v", subjectURL, err)
		}
	}
	return id, nil
}

// fatal reports errors that end the whole run
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, browser.ErrUnavailable) ||
		errors.Is(err, browser.ErrClosed)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n]))
}
