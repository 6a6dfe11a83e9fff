// Package report builds the inbound-link report: for every successfully
// crawled page under a root domain, which domains link to it, and how often.
package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/linkgraph/crawler/internal/crawl"
)

// Aggregate counts inbound links to the given root domain, grouped by the
// linking page's root domain. Rows are ordered by count descending, then
// domain ascending for a stable report.
func Aggregate(ctx context.Context, records crawl.RecordStore, graph crawl.GraphStore, domain string) ([]crawl.DomainCount, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	pages, err := records.SelectSuccessfulByPrefix(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("select pages for %q: %w", domain, err)
	}

	counts := make(map[string]int)
	for _, page := range pages {
		sources, err := graph.InboundSources(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("inbound sources for %q: %w", page, err)
		}
		for _, source := range sources {
			root := crawl.RootDomain(source)
			if root == "" {
				continue
			}
			counts[root]++
		}
	}

	out := make([]crawl.DomainCount, 0, len(counts))
	for root, count := range counts {
		out = append(out, crawl.DomainCount{Domain: root, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}
