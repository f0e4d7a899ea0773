// Package importer replays exported ratings onto the destination site.
package importer

import (
	"context"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/fetch"
	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/movie"
	"github.com/sirupsen/logrus"
)

// Outcome is the terminal state of one record
type Outcome string

const (
	NotFound      Outcome = "not_found"
	AlreadyMarked Outcome = "already_marked"
	NeverMarked   Outcome = "never_marked"
	Success       Outcome = "success"
	Failed        Outcome = "error"
)

// Adjustment bounds and default for the converted rating
const (
	MinAdjust     = -2
	MaxAdjust     = 2
	DefaultAdjust = -1
)

// Destination scale
const (
	MinDestRating = 1
	MaxDestRating = 10
)

// Site is the destination site's rating widget
type Site interface {
	Search(ctx context.Context, externalID string) error
	HasRating(ctx context.Context) (bool, error)
	Rate(ctx context.Context, rating int) error
	Unrate(ctx context.Context) error
}

// ConvertRating maps a 1..5 source rating onto the 1..10 destination scale
// as source*2+adjust, clamped to the destination range
func ConvertRating(source, adjust int) int {
	r := source*2 + adjust
	if r < MinDestRating {
		return MinDestRating
	}
	if r > MaxDestRating {
		return MaxDestRating
	}
	return r
}

// Options selects the mode of a run
type Options struct {
	Unmark bool
	Adjust int
	Pause  time.Duration // after every processed record
}

// Applier applies or removes ratings one record at a time
type Applier struct {
	site    Site
	opts    Options
	tracker *metrics.Tracker
}

// New builds an applier over site
func New(site Site, opts Options, tracker *metrics.Tracker) *Applier {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	return &Applier{site: site, opts: opts, tracker: tracker}
}

// Apply processes records in order. Records without a source rating are
// skipped silently. A cancelled context stops the batch and returns the
// partial report with ctx's error.
func (a *Applier) Apply(ctx context.Context, records []movie.Record) (*Report, error) {
	report := &Report{Unmark: a.opts.Unmark}

	for _, rec := range records {
		if !rec.HasRating() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entry := a.applyOne(ctx, rec)
		report.Entries = append(report.Entries, entry)
		a.tracker.RecordOutcome(string(entry.Outcome))
		a.log(entry)

		if err := fetch.Sleep(ctx, a.opts.Pause); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (a *Applier) applyOne(ctx context.Context, rec movie.Record) Entry {
	entry := Entry{Record: rec}
	if !rec.HasExternalID() {
		entry.Outcome = NotFound
		return entry
	}
	if !a.opts.Unmark {
		entry.Rating = ConvertRating(rec.Rating, a.opts.Adjust)
	}

	if err := a.site.Search(ctx, rec.ExternalID); err != nil {
		return entry.fail(err)
	}
	rated, err := a.site.HasRating(ctx)
	if err != nil {
		return entry.fail(err)
	}

	switch {
	case a.opts.Unmark && !rated:
		entry.Outcome = NeverMarked
	case a.opts.Unmark:
		if err := a.site.Unrate(ctx); err != nil {
			return entry.fail(err)
		}
		entry.Outcome = Success
	case rated:
		entry.Outcome = AlreadyMarked
	default:
		if err := a.site.Rate(ctx, entry.Rating); err != nil {
			return entry.fail(err)
		}
		entry.Outcome = Success
	}
	return entry
}

func (a *Applier) log(e Entry) {
	l := logrus.WithFields(logrus.Fields{"outcome": e.Outcome})
	switch e.Outcome {
	case NotFound:
		l.Warnf("Cannot find on the destination site: %s", e.Record.Title)
	case AlreadyMarked:
		l.Infof("Already rated: %s", e.Record.Label())
	case NeverMarked:
		l.Infof("Never rated: %s", e.Record.Label())
	case Success:
		if a.opts.Unmark {
			l.Infof("Rating removed: %s", e.Record.Label())
		} else {
			l.Infof("Rated: %s -> %d", e.Record.Label(), e.Rating)
		}
	case Failed:
		l.Errorf("Failed: %s: %v", e.Record.Label(), e.Err)
	}
}
