package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// newTestFetcher points the fetcher at a plain-HTTP test server.
func newTestFetcher(t *testing.T, handler http.Handler) (*Fetcher, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 2 * time.Second}, fixedClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
	f.scheme = "http"
	return f, strings.TrimPrefix(srv.URL, "http://")
}

func TestFetchSuccessExtractsTitleAndLinks(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Example Page</title></head><body>
		<a href="https://a.com/">one</a>
		<a href="https://a.com">same after normalization</a>
		<a href="https://b.com/path">two</a>
		<a href="http://plain.com">ignored, not https</a>
		<a href="/relative">ignored</a>
	</body></html>`
	f, host := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))

	res := f.Fetch(context.Background(), host)

	require.True(t, res.Success)
	require.Equal(t, host, res.URL)
	require.Equal(t, "Example Page", res.Title)
	require.Contains(t, res.Body, "Example Page")
	require.Equal(t, []string{"a.com", "b.com/path"}, res.Links)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), res.CrawledAt)
}

func TestFetchMissingTitle(t *testing.T) {
	t.Parallel()

	f, host := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>no title</body></html>"))
	}))

	res := f.Fetch(context.Background(), host)
	require.True(t, res.Success)
	require.Equal(t, "", res.Title)
	require.Empty(t, res.Links)
}

func TestFetchNon200IsFailure(t *testing.T) {
	t.Parallel()

	f, host := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))

	res := f.Fetch(context.Background(), host)
	require.False(t, res.Success)
	require.Empty(t, res.Links)
	require.Empty(t, res.Title)
	require.Empty(t, res.Body)
}

func TestFetchNonHTMLIsFailure(t *testing.T) {
	t.Parallel()

	f, host := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not":"html"}`))
	}))

	res := f.Fetch(context.Background(), host)
	require.False(t, res.Success)
	require.Empty(t, res.Links)
}

func TestFetchNetworkErrorIsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	f := New(Config{Timeout: time.Second}, fixedClock{now: time.Now().UTC()}, zap.NewNop())
	f.scheme = "http"

	res := f.Fetch(context.Background(), host)
	require.False(t, res.Success)
	require.Equal(t, host, res.URL)
}

func TestParseDocumentDeduplicates(t *testing.T) {
	t.Parallel()

	title, links, err := parseDocument([]byte(
		`<html><head><title>t</title></head><body>` +
			`<a href="https://x.com/a/">l</a><a href="https://x.com/a">l</a></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "t", title)
	require.Equal(t, []string{"x.com/a"}, links)
}
