package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkgraph/crawler/internal/crawl"
	"github.com/linkgraph/crawler/internal/metrics"
	"github.com/linkgraph/crawler/internal/storage/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.CrawlStore, *memory.GraphStore) {
	t.Helper()
	metrics.Init()

	records := memory.NewCrawlStore()
	graph := memory.NewGraphStore()
	srv := httptest.NewServer(NewServer(records, graph, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, records, graph
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		require.NoError(t, resp.Body.Close())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetReport(t *testing.T) {
	t.Parallel()

	srv, records, graph := newTestServer(t)
	ctx := context.Background()

	_, err := records.UpsertCrawled(ctx, crawl.CrawlRecord{
		NormalizedURL: "target.com",
		Crawled:       true,
		Success:       true,
	})
	require.NoError(t, err)
	require.NoError(t, graph.MergeEdge(ctx, "blog.example.com/post", "target.com"))

	resp, err := http.Get(srv.URL + "/v1/report/target.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Domain  string              `json:"domain"`
		Inbound []crawl.DomainCount `json:"inbound"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "target.com", body.Domain)
	require.Equal(t, []crawl.DomainCount{{Domain: "blog.example.com", Count: 1}}, body.Inbound)
}

func TestGetReportUnknownDomainIsEmpty(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/report/nowhere.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Inbound []crawl.DomainCount `json:"inbound"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Empty(t, body.Inbound)
}
