// Package crawl defines the core types and interfaces shared across the
// crawler subsystems: the per-URL crawl state, the transient fetch result
// carried from the worker pool to the write pipeline, and the link graph
// entities.
package crawl

import "time"

// CrawlRecord is the durable crawl state for one normalized URL. A record is
// created in the uncrawled state (as a seed or as a newly discovered link)
// and transitions to Crawled exactly once when the write pipeline applies
// its fetch result. Records are never deleted.
type CrawlRecord struct {
	NormalizedURL string
	Crawled       bool
	// Success is meaningful only when Crawled is true.
	Success     bool
	Title       string
	Body        string
	CrawledDate time.Time
}

// FetchResult is produced by a fetch worker and consumed exactly once by the
// write pipeline. A failed fetch still yields a well-formed result with
// Success false and no links. The JSON tags are the wire format between the
// pool and its worker processes.
type FetchResult struct {
	URL       string    `json:"url"`
	CrawledAt time.Time `json:"crawled_at"`
	Success   bool      `json:"success"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	// Links holds the deduplicated normalized outbound links.
	Links []string `json:"links,omitempty"`
}

// GraphNode is one vertex of the link graph. A node may exist before its URL
// has been crawled; such placeholder nodes carry an empty title until the
// URL itself is fetched.
type GraphNode struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// DomainCount is one row of the inbound-link report: how many links point at
// the queried domain from pages under Domain.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}
