package crawl

import (
	"context"
	"io"
	"time"
)

// RecordStore is the durable crawl-state table keyed by normalized URL.
// Implementations must enforce uniqueness on the normalized URL and treat
// duplicate pending inserts as no-ops.
type RecordStore interface {
	// SelectPending returns up to limit records that have not been crawled.
	SelectPending(ctx context.Context, limit int) ([]CrawlRecord, error)

	// ExistsAny returns the subset of urls that already have a record. One
	// round trip regardless of set size.
	ExistsAny(ctx context.Context, urls []string) (map[string]struct{}, error)

	// UpsertCrawled marks the record crawled and stores the fetch outcome.
	// It reports false when the record was already crawled, which makes the
	// pending-to-crawled transition happen at most once even when two
	// batches race on the same URL.
	UpsertCrawled(ctx context.Context, rec CrawlRecord) (bool, error)

	// BulkInsertPending creates uncrawled records for urls that do not exist
	// yet and returns the number actually inserted.
	BulkInsertPending(ctx context.Context, urls []string) (int64, error)

	// SelectSuccessfulByPrefix returns the normalized URLs of successfully
	// crawled pages whose normalized URL starts with prefix.
	SelectSuccessfulByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// GraphStore persists the directed link graph. All operations are merges so
// that replaying a fetch result leaves the graph unchanged.
type GraphStore interface {
	// MergeNode upserts a node. An empty title never overwrites a non-empty
	// one already stored for the URL.
	MergeNode(ctx context.Context, url, title string) error

	// MergeEdge upserts the directed source->target edge. At most one edge
	// exists per ordered pair.
	MergeEdge(ctx context.Context, source, target string) error

	// InboundSources returns the source URLs of all edges pointing at url.
	InboundSources(ctx context.Context, url string) ([]string, error)
}

// Fetcher retrieves one normalized URL and classifies the outcome. It never
// fails outright: every error path resolves to a FetchResult with Success
// false, so the pool cannot confuse a crashed fetch with a hung one.
type Fetcher interface {
	Fetch(ctx context.Context, normalizedURL string) FetchResult
}

// BlobStore archives raw page bodies.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher emits crawl documents for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints correlation IDs for crawl batches.
type IDGenerator interface {
	NewID() (string, error)
}
