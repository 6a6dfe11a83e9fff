package fetchpool

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkgraph/crawler/internal/crawl"
)

type scriptedFetcher struct {
	results map[string]crawl.FetchResult
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) crawl.FetchResult {
	if res, ok := f.results[url]; ok {
		return res
	}
	return crawl.FetchResult{URL: url}
}

func TestRunWorkerRoundTrip(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: map[string]crawl.FetchResult{
		"a.com": {URL: "a.com", Success: true, Title: "A", Links: []string{"b.com"}},
	}}

	input := strings.NewReader(`{"url":"a.com"}` + "\n" + `{"url":"missing.com"}` + "\n")
	var output bytes.Buffer

	require.NoError(t, RunWorker(context.Background(), input, &output, fetcher))

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 2)

	var first, second crawl.FetchResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	require.True(t, first.Success)
	require.Equal(t, "A", first.Title)
	require.Equal(t, []string{"b.com"}, first.Links)

	require.False(t, second.Success)
	require.Equal(t, "missing.com", second.URL)
}

func TestRunWorkerSkipsBlankLines(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	input := strings.NewReader("\n\n" + `{"url":"x.com"}` + "\n")
	var output bytes.Buffer

	require.NoError(t, RunWorker(context.Background(), input, &output, fetcher))
	require.Equal(t, 1, strings.Count(output.String(), "\n"))
}

func TestRunWorkerRejectsGarbage(t *testing.T) {
	t.Parallel()

	input := strings.NewReader("not json\n")
	var output bytes.Buffer
	require.Error(t, RunWorker(context.Background(), input, &output, &scriptedFetcher{}))
}
