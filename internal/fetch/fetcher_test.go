package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/browser"
	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	html  string
	err   error
	calls int
	urls  []string
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) (string, error) {
	b.calls++
	b.urls = append(b.urls, url)
	if b.err != nil {
		return "", b.err
	}
	return b.html, nil
}

type fakeResolver struct {
	marker    string
	recovered string
	ok        bool
	calls     int
}

func (r *fakeResolver) Detect(html string) bool { return strings.Contains(html, r.marker) }

func (r *fakeResolver) Resolve(ctx context.Context, target string) (string, bool) {
	r.calls++
	return r.recovered, r.ok
}

func testOptions() Options {
	return Options{Timeout: 2 * time.Second, Attempts: 3}
}

func statusServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetch_HTTPSuccess(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK, "<html><body>collection</body></html>")
	b := &fakeBrowser{}
	tracker := metrics.NewTracker()

	page, err := New(testOptions(), b, nil, tracker).Fetch(context.Background(), srv.URL+"/people/x/collect", ModeAuto)
	require.NoError(t, err)
	require.Equal(t, SourceHTTP, page.Source())
	require.Contains(t, page.Text(), "collection")
	require.Equal(t, int32(1), atomic.LoadInt32(hits))
	require.Zero(t, b.calls)
	require.Equal(t, 1, tracker.GetSnapshot().PagesFetched)
}

func TestFetch_ForbiddenEscalatesToBrowser(t *testing.T) {
	srv, hits := statusServer(t, http.StatusForbidden, "blocked")
	b := &fakeBrowser{html: "<html><body>rendered</body></html>"}
	tracker := metrics.NewTracker()

	page, err := New(testOptions(), b, nil, tracker).Fetch(context.Background(), srv.URL, ModeAuto)
	require.NoError(t, err)
	require.Equal(t, SourceBrowser, page.Source())
	require.Equal(t, "<html><body>rendered</body></html>", page.Text())
	require.Equal(t, int32(1), atomic.LoadInt32(hits))
	require.Equal(t, 1, b.calls)
	require.Equal(t, 1, tracker.GetSnapshot().BrowserFallbacks)

	_, ok := page.(*RenderedPage)
	require.True(t, ok)
}

func TestFetch_TransportErrorExhaustsToNil(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	b := &fakeBrowser{err: errors.New("net::ERR_CONNECTION_REFUSED")}
	tracker := metrics.NewTracker()

	page, err := New(testOptions(), b, nil, tracker).Fetch(context.Background(), target, ModeAuto)
	require.Nil(t, page)
	require.ErrorIs(t, err, ErrExhausted)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 2, b.calls)
	require.Equal(t, 1, tracker.GetSnapshot().PagesFailed)
}

func TestFetch_NoBrowserRetriesHTTP(t *testing.T) {
	srv, hits := statusServer(t, http.StatusInternalServerError, "oops")

	page, err := New(testOptions(), nil, nil, nil).Fetch(context.Background(), srv.URL, ModeAuto)
	require.Nil(t, page)
	require.ErrorIs(t, err, ErrExhausted)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestFetch_ChallengeOnHTTPIsResolvedInBrowser(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK, "有异常请求从你的 IP 发出")
	b := &fakeBrowser{html: "有异常请求从你的 IP 发出"}
	r := &fakeResolver{marker: "有异常请求", recovered: "<html>real content</html>", ok: true}
	tracker := metrics.NewTracker()

	page, err := New(testOptions(), b, r, tracker).Fetch(context.Background(), srv.URL, ModeAuto)
	require.NoError(t, err)
	require.Equal(t, "<html>real content</html>", page.Text())
	require.Equal(t, 1, r.calls)
	require.Equal(t, 1, tracker.GetSnapshot().ChallengesSolved)
}

func TestFetch_UnresolvedChallengeConsumesAttempts(t *testing.T) {
	b := &fakeBrowser{html: "请 登录 使用豆瓣"}
	r := &fakeResolver{marker: "请 登录", ok: false}

	page, err := New(testOptions(), b, r, nil).Fetch(context.Background(), "https://movie.douban.com/subject/1/", ModeBrowser)
	require.Nil(t, page)
	require.ErrorIs(t, err, ErrChallenge)
	require.Equal(t, 3, r.calls)
	require.Equal(t, 3, b.calls)
}

func TestFetch_BrowserErrorPageIsRetried(t *testing.T) {
	b := &fakeBrowser{html: `<div class="error-code">ERR_CONNECTION_RESET</div>`}

	_, err := New(testOptions(), b, nil, nil).Fetch(context.Background(), "https://movie.douban.com/", ModeBrowser)
	require.ErrorIs(t, err, ErrBrowserConnection)
	require.Equal(t, 3, b.calls)
}

func TestFetch_BrowserUnavailableStopsImmediately(t *testing.T) {
	b := &fakeBrowser{err: fmt.Errorf("%w: chrome not found", browser.ErrUnavailable)}

	_, err := New(testOptions(), b, nil, nil).Fetch(context.Background(), "https://movie.douban.com/", ModeBrowser)
	require.ErrorIs(t, err, browser.ErrUnavailable)
	require.Equal(t, 1, b.calls)
}

func TestFetch_BrowserFirstHosts(t *testing.T) {
	b := &fakeBrowser{html: "<html>ok</html>"}
	opts := testOptions()
	opts.BrowserFirstHosts = []string{"douban.com"}

	page, err := New(opts, b, nil, nil).Fetch(context.Background(), "https://movie.douban.com/people/x/", ModeAuto)
	require.NoError(t, err)
	require.Equal(t, SourceBrowser, page.Source())
	require.Equal(t, []string{"https://movie.douban.com/people/x/"}, b.urls)
}

func TestFetch_BrowserModeWithoutBrowser(t *testing.T) {
	_, err := New(testOptions(), nil, nil, nil).Fetch(context.Background(), "https://movie.douban.com/", ModeBrowser)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestFetch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &fakeBrowser{html: "<html>ok</html>"}

	_, err := New(testOptions(), b, nil, nil).Fetch(ctx, "https://movie.douban.com/", ModeBrowser)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, b.calls)
}

func TestShareCookies_SentOnHTTPPath(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("dbcl2"); err == nil {
			got = c.Value
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := New(testOptions(), nil, nil, nil)
	f.ShareCookies([]session.Cookie{{Name: "dbcl2", Value: "secret", Domain: "127.0.0.1", Path: "/"}})

	_, err := f.Fetch(context.Background(), srv.URL+"/mine", ModeAuto)
	require.NoError(t, err)
	require.Equal(t, "secret", got)
}

func TestJitterBackOff_Grows(t *testing.T) {
	b := &jitterBackOff{base: time.Second}
	require.Equal(t, time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, 4*time.Second, b.NextBackOff())
	b.Reset()
	require.Equal(t, time.Second, b.NextBackOff())

	j := &jitterBackOff{base: time.Second, jitterMin: time.Second, jitterMax: 5 * time.Second}
	for i := 0; i < 20; i++ {
		j.Reset()
		d := j.NextBackOff()
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.Less(t, d, 6*time.Second)
	}
}

func TestHosts(t *testing.T) {
	d, err := ExtractDomain("https://Movie.Douban.com/people/x")
	require.NoError(t, err)
	require.Equal(t, "movie.douban.com", d)

	d, err = ExtractDomain("/subject/1/")
	require.NoError(t, err)
	require.Empty(t, d)

	require.Equal(t, "douban.com", ExtractRootDomain("movie.douban.com"))
	require.True(t, MatchesHost("https://movie.douban.com/x", []string{"douban.com"}))
	require.True(t, MatchesHost("https://www.douban.com/", []string{"movie.douban.com"}))
	require.False(t, MatchesHost("https://www.imdb.com/", []string{"douban.com"}))

	require.True(t, IsConnectionErrorPage("<span>ERR_NAME_NOT_RESOLVED</span>"))
	require.True(t, IsConnectionErrorPage("<h1>无法访问此网站</h1>"))
	require.False(t, IsConnectionErrorPage("<div class='item'>Alien</div>"))
}
