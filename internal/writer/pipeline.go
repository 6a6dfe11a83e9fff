// Package writer implements the asynchronous write-back pipeline that turns
// fetch results into crawl records, graph merges, archived bodies, and
// published documents.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/crawl"
	"github.com/linkgraph/crawler/internal/metrics"
)

// Config controls Pipeline behavior.
type Config struct {
	// Concurrency caps the number of write tasks running at once across
	// all submitted batches.
	Concurrency int
	// MaxAttempts bounds retries of a single graph write.
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
	// ArchivePrefix is the object path prefix for archived page bodies.
	ArchivePrefix string
	ContentType   string
	// Topic is the publisher topic for crawl documents.
	Topic string
}

// Pipeline applies fetch results to the record store and link graph, and
// archives and publishes successful pages. Batches run on the pipeline's own
// base context so writes already in flight finish even when the dispatch
// context is cancelled.
type Pipeline struct {
	records   crawl.RecordStore
	graph     crawl.GraphStore
	blobs     crawl.BlobStore
	publisher crawl.Publisher
	hasher    crawl.Hasher
	cfg       Config
	logger    *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
}

// Document is the payload published for each successfully crawled page.
type Document struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	CrawledAt  time.Time `json:"crawled_at"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Links      []string  `json:"links,omitempty"`
}

// New constructs a Pipeline. The blob store and publisher are optional;
// passing nil disables archiving or publishing respectively.
func New(
	records crawl.RecordStore,
	graph crawl.GraphStore,
	blobs crawl.BlobStore,
	publisher crawl.Publisher,
	hasher crawl.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 5 * time.Second
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}

	base, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		records:   records,
		graph:     graph,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
		base:      base,
		cancel:    cancel,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Batch tracks the completion of one submitted batch of fetch results.
type Batch struct {
	done chan struct{}

	mu   sync.Mutex
	errs []error
}

func (b *Batch) record(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	b.errs = append(b.errs, err)
	b.mu.Unlock()
}

// Wait blocks until the batch has been fully applied or ctx is done. A nil
// Batch waits for nothing; the dispatcher's first iteration has no previous
// batch to gate on.
func (b *Batch) Wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return errors.Join(b.errs...)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch schedules the write-back of one batch of fetch results and
// returns immediately. Record-store updates for the whole batch run as one
// task; each successful result additionally gets a graph task and, when an
// archive or publisher is configured, an archive task.
func (p *Pipeline) SubmitBatch(results []crawl.FetchResult) *Batch {
	batch := &Batch{done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(batch.done)

		var tasks sync.WaitGroup

		tasks.Add(1)
		p.runTask(&tasks, func(ctx context.Context) {
			batch.record(p.applyCrawlResults(ctx, results))
		})

		for _, res := range results {
			if !res.Success {
				continue
			}
			res := res

			tasks.Add(1)
			p.runTask(&tasks, func(ctx context.Context) {
				p.applyGraph(ctx, res)
			})

			if p.blobs != nil || p.publisher != nil {
				tasks.Add(1)
				p.runTask(&tasks, func(ctx context.Context) {
					p.archiveAndPublish(ctx, res)
				})
			}
		}

		tasks.Wait()
	}()

	return batch
}

// Close waits for all in-flight batches to finish, then releases the base
// context.
func (p *Pipeline) Close() {
	p.wg.Wait()
	p.cancel()
}

func (p *Pipeline) runTask(tasks *sync.WaitGroup, fn func(context.Context)) {
	go func() {
		defer tasks.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.base.Done():
			return
		}
		defer func() { <-p.sem }()
		fn(p.base)
	}()
}

// applyCrawlResults marks every result's record crawled and inserts pending
// records for newly discovered links. The conflict guard in the record store
// makes replays of the same result a no-op.
func (p *Pipeline) applyCrawlResults(ctx context.Context, results []crawl.FetchResult) error {
	var updated int64
	linkSet := make(map[string]struct{})

	for _, res := range results {
		applied, err := p.records.UpsertCrawled(ctx, crawl.CrawlRecord{
			NormalizedURL: res.URL,
			Crawled:       true,
			Success:       res.Success,
			Title:         res.Title,
			Body:          res.Body,
			CrawledDate:   res.CrawledAt,
		})
		if err != nil {
			return fmt.Errorf("upsert crawled %q: %w", res.URL, err)
		}
		if applied {
			updated++
		}
		if !res.Success {
			continue
		}
		for _, link := range res.Links {
			if link == "" {
				continue
			}
			linkSet[link] = struct{}{}
		}
	}
	metrics.ObserveRecordsUpdated(updated)

	if len(linkSet) == 0 {
		return nil
	}

	links := make([]string, 0, len(linkSet))
	for link := range linkSet {
		links = append(links, link)
	}
	sort.Strings(links)

	existing, err := p.records.ExistsAny(ctx, links)
	if err != nil {
		return fmt.Errorf("check existing links: %w", err)
	}

	missing := links[:0]
	for _, link := range links {
		if _, ok := existing[link]; !ok {
			missing = append(missing, link)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	created, err := p.records.BulkInsertPending(ctx, missing)
	if err != nil {
		return fmt.Errorf("insert pending links: %w", err)
	}
	metrics.ObserveRecordsCreated(created)

	p.logger.Debug("applied crawl results",
		zap.Int("results", len(results)),
		zap.Int64("updated", updated),
		zap.Int64("created", created),
	)
	return nil
}

// applyGraph merges the page node, one placeholder node per outbound link,
// and the outbound edges. Each merge is retried with capped exponential
// backoff; a merge that exhausts its attempts is dead-lettered and the rest
// of the page's writes continue.
func (p *Pipeline) applyGraph(ctx context.Context, res crawl.FetchResult) {
	p.mergeWithRetry(ctx, res.URL, func(c context.Context) error {
		return p.graph.MergeNode(c, res.URL, res.Title)
	})

	for _, link := range res.Links {
		if link == "" {
			continue
		}
		link := link
		p.mergeWithRetry(ctx, link, func(c context.Context) error {
			if err := p.graph.MergeNode(c, link, ""); err != nil {
				return err
			}
			return p.graph.MergeEdge(c, res.URL, link)
		})
	}
}

func (p *Pipeline) mergeWithRetry(ctx context.Context, url string, op func(context.Context) error) {
	delay := p.cfg.RetryBase
	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}
		metrics.ObserveGraphWriteRetry()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			p.deadLetter(url, attempt, ctx.Err())
			return
		}
		delay *= 2
		if delay > p.cfg.RetryCap {
			delay = p.cfg.RetryCap
		}
	}
	p.deadLetter(url, p.cfg.MaxAttempts, err)
}

func (p *Pipeline) deadLetter(url string, attempts int, err error) {
	metrics.ObserveGraphWriteDeadLetter()
	p.logger.Error("graph write dead-lettered",
		zap.String("url", url),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}

// archiveAndPublish stores the page body and emits a crawl document. Both
// steps are best effort: a failure is logged and the result dropped rather
// than retried, since the durable record already exists.
func (p *Pipeline) archiveAndPublish(ctx context.Context, res crawl.FetchResult) {
	var archiveURI string

	if p.blobs != nil {
		// A hash failure only costs the archive copy; the document still
		// goes out, with an empty ArchiveURI like any archive failure.
		if digest, err := p.hasher.Hash([]byte(res.Body)); err != nil {
			p.logger.Warn("hash page body failed", zap.String("url", res.URL), zap.Error(err))
		} else {
			path := fmt.Sprintf("%s/%s/%s.html", p.cfg.ArchivePrefix, digest[:2], digest)
			archiveURI, err = p.blobs.PutObject(ctx, path, p.cfg.ContentType, strings.NewReader(res.Body))
			if err != nil {
				p.logger.Warn("archive page failed", zap.String("url", res.URL), zap.Error(err))
				archiveURI = ""
			}
		}
	}

	if p.publisher == nil {
		return
	}
	doc := Document{
		URL:        res.URL,
		Title:      res.Title,
		CrawledAt:  res.CrawledAt,
		ArchiveURI: archiveURI,
		Links:      res.Links,
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, doc); err != nil {
		p.logger.Warn("publish crawl document failed", zap.String("url", res.URL), zap.Error(err))
	}
}
