package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/movie"
	"github.com/stretchr/testify/require"
)

// fakeSite keeps the user's ratings keyed by external id
type fakeSite struct {
	ratings  map[string]int
	current  string
	searches []string
	rateErr  error
}

func newFakeSite() *fakeSite { return &fakeSite{ratings: map[string]int{}} }

func (s *fakeSite) Search(ctx context.Context, id string) error {
	s.searches = append(s.searches, id)
	s.current = id
	return nil
}

func (s *fakeSite) HasRating(ctx context.Context) (bool, error) {
	_, ok := s.ratings[s.current]
	return ok, nil
}

func (s *fakeSite) Rate(ctx context.Context, rating int) error {
	if s.rateErr != nil {
		return s.rateErr
	}
	s.ratings[s.current] = rating
	return nil
}

func (s *fakeSite) Unrate(ctx context.Context) error {
	delete(s.ratings, s.current)
	return nil
}

func TestConvertRating(t *testing.T) {
	require.Equal(t, 9, ConvertRating(5, -1))
	require.Equal(t, 10, ConvertRating(5, 0))
	require.Equal(t, 10, ConvertRating(5, 2))
	require.Equal(t, 1, ConvertRating(1, -2))
	require.Equal(t, 4, ConvertRating(2, 0))

	for src := movie.MinRating; src <= movie.MaxRating; src++ {
		for adj := MinAdjust; adj <= MaxAdjust; adj++ {
			r := ConvertRating(src, adj)
			require.GreaterOrEqual(t, r, MinDestRating)
			require.LessOrEqual(t, r, MaxDestRating)
		}
	}
}

func TestApply_RatesAlien(t *testing.T) {
	site := newFakeSite()
	tracker := metrics.NewTracker()
	a := New(site, Options{Adjust: -1}, tracker)

	report, err := a.Apply(context.Background(), []movie.Record{{Title: "Alien", Rating: 5, ExternalID: "tt0078748"}})
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	require.Equal(t, Success, report.Entries[0].Outcome)
	require.Equal(t, 9, report.Entries[0].Rating)
	require.Equal(t, 9, site.ratings["tt0078748"])
	require.Equal(t, 1, tracker.GetSnapshot().Outcomes[string(Success)])
}

func TestApply_NotFoundWithoutSearch(t *testing.T) {
	site := newFakeSite()
	report, err := New(site, Options{Adjust: -1}, nil).Apply(context.Background(), []movie.Record{
		{Title: "Unknown Film", Rating: 4},
		{Title: "Broken Id", Rating: 3, ExternalID: "nm0000001"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Count(NotFound))
	require.Equal(t, []string{"Unknown Film", "Broken Id"}, report.Labels(NotFound))
	require.Empty(t, site.searches)
}

func TestApply_SkipsUnratedRows(t *testing.T) {
	site := newFakeSite()
	report, err := New(site, Options{}, nil).Apply(context.Background(), []movie.Record{{Title: "Heat", ExternalID: "tt0113277"}})
	require.NoError(t, err)
	require.Empty(t, report.Entries)
	require.Empty(t, site.searches)
}

func TestApply_SecondRunIsAlreadyMarked(t *testing.T) {
	site := newFakeSite()
	records := []movie.Record{
		{Title: "Alien", Rating: 5, ExternalID: "tt0078748"},
		{Title: "Ran", Rating: 4, ExternalID: "tt0089881"},
	}
	a := New(site, Options{Adjust: -1}, nil)

	first, err := a.Apply(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 2, first.Count(Success))

	second, err := a.Apply(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 2, second.Count(AlreadyMarked))
	require.Equal(t, []string{"Alien(tt0078748)", "Ran(tt0089881)"}, second.Labels(AlreadyMarked))
}

func TestApply_Unmark(t *testing.T) {
	site := newFakeSite()
	site.ratings["tt0078748"] = 9

	report, err := New(site, Options{Unmark: true}, nil).Apply(context.Background(), []movie.Record{
		{Title: "Alien", Rating: 5, ExternalID: "tt0078748"},
		{Title: "Ran", Rating: 4, ExternalID: "tt0089881"},
	})
	require.NoError(t, err)
	require.Equal(t, Success, report.Entries[0].Outcome)
	require.Equal(t, NeverMarked, report.Entries[1].Outcome)
	require.Empty(t, site.ratings)
}

func TestApply_ErrorIsRecordedAndBatchContinues(t *testing.T) {
	site := newFakeSite()
	site.rateErr = errors.New("star not visible")

	report, err := New(site, Options{Adjust: -1}, nil).Apply(context.Background(), []movie.Record{
		{Title: "Alien", Rating: 5, ExternalID: "tt0078748"},
		{Title: "Ran", Rating: 4, ExternalID: "tt0089881"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Count(Failed))
	require.EqualError(t, report.Entries[0].Err, "star not visible")
	require.Len(t, site.searches, 2)
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	site := newFakeSite()

	report, err := New(site, Options{}, nil).Apply(ctx, []movie.Record{{Title: "Alien", Rating: 5, ExternalID: "tt0078748"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, report.Entries)
	require.Empty(t, site.searches)
}

func TestReport_Render(t *testing.T) {
	r := &Report{Entries: []Entry{
		{Record: movie.Record{Title: "Alien", Rating: 5, ExternalID: "tt0078748"}, Outcome: Success, Rating: 9},
		{Record: movie.Record{Title: "Unknown Film", Rating: 4}, Outcome: NotFound},
		{Record: movie.Record{Title: "Ran", Rating: 4, ExternalID: "tt0089881"}, Outcome: AlreadyMarked},
		{Record: movie.Record{Title: "Heat", Rating: 4, ExternalID: "tt0113277"}, Outcome: Failed, Err: errors.New("timeout")},
	}}

	var out strings.Builder
	r.Render(&out)
	text := out.String()
	require.Contains(t, text, "Rated 1 movies")
	require.Contains(t, text, "Unknown Film")
	require.Contains(t, text, "Ran(tt0089881)")
	require.Contains(t, text, "Heat(tt0113277) - timeout")
	require.NotContains(t, text, "never_marked")

	r.Unmark = true
	out.Reset()
	r.Render(&out)
	require.Contains(t, out.String(), "Removed ratings from 1 movies")
	require.Contains(t, out.String(), "never_marked")
}
