// Package dispatcher drives the crawl loop: select pending URLs, fan them
// out to the fetch pool, and hand the results to the write pipeline.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/crawl"
	"github.com/linkgraph/crawler/internal/metrics"
	"github.com/linkgraph/crawler/internal/writer"
)

const defaultErrorPause = 400 * time.Millisecond

// errNoWork marks an iteration that found nothing to fetch: no pending
// records and every seed already crawled.
var errNoWork = errors.New("no pending work")

// Pool runs one batch of fetches. The bool reports whether the pool had to
// recycle its units on the batch deadline.
type Pool interface {
	SubmitBatch(ctx context.Context, urls []string) ([]crawl.FetchResult, bool, error)
}

// Writes accepts fetch results for asynchronous write-back.
type Writes interface {
	SubmitBatch(results []crawl.FetchResult) *writer.Batch
}

// Config controls the dispatch loop.
type Config struct {
	// ChunkSize is the number of pending URLs pulled per iteration.
	ChunkSize int
	// SeedURLs bootstrap an empty frontier. Normalized on use.
	SeedURLs []string
	// ErrorPause is the wait after a failed iteration.
	ErrorPause time.Duration
}

// Dispatcher repeatedly crawls one chunk of the frontier. Writes for batch
// N are submitted asynchronously, but batch N+1's writes are gated on batch
// N's completing, so the write pipeline never falls more than one batch
// behind the fetchers.
type Dispatcher struct {
	records crawl.RecordStore
	pool    Pool
	writes  Writes
	ids     crawl.IDGenerator
	clock   crawl.Clock
	cfg     Config
	logger  *zap.Logger

	prev *writer.Batch
}

// New constructs a Dispatcher.
func New(
	records crawl.RecordStore,
	pool Pool,
	writes Writes,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 48
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = defaultErrorPause
	}
	return &Dispatcher{
		records: records,
		pool:    pool,
		writes:  writes,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run loops until the context is cancelled, then waits for the last
// submitted writes so no fetched results are lost on shutdown.
func (d *Dispatcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := d.safeIterate(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, errNoWork) {
				d.logger.Debug("frontier exhausted, backing off")
			} else {
				d.logger.Error("crawl iteration failed", zap.Error(err))
			}
			select {
			case <-time.After(d.cfg.ErrorPause):
			case <-ctx.Done():
			}
		}
	}

	// The dispatch context is gone; drain on the pipeline's own lifetime.
	if err := d.prev.Wait(context.Background()); err != nil {
		d.logger.Error("final write batch failed", zap.Error(err))
	}
}

// safeIterate converts a panic anywhere in the iteration into an error so
// one poisoned batch cannot take down the loop.
func (d *Dispatcher) safeIterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()
	return d.iterate(ctx)
}

func (d *Dispatcher) iterate(ctx context.Context) error {
	batchID, err := d.ids.NewID()
	if err != nil {
		return fmt.Errorf("mint batch id: %w", err)
	}
	start := d.clock.Now()

	urls, err := d.nextChunk(ctx)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		// In-flight writes may still be inserting discovered links; let
		// them land before the next poll.
		if err := d.prev.Wait(ctx); err != nil {
			return fmt.Errorf("previous write batch: %w", err)
		}
		return errNoWork
	}

	results, recycled, err := d.pool.SubmitBatch(ctx, urls)
	if recycled {
		metrics.ObservePoolRecycle()
	}
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}

	for _, res := range results {
		if res.Success {
			metrics.ObserveFetchResult("success")
		} else {
			metrics.ObserveFetchResult("failure")
		}
	}

	// Gate on the previous batch's writes before queueing more.
	if err := d.prev.Wait(ctx); err != nil {
		return fmt.Errorf("previous write batch: %w", err)
	}
	d.prev = d.writes.SubmitBatch(results)

	metrics.ObserveBatch(d.clock.Now().Sub(start))
	d.logger.Info("batch dispatched",
		zap.String("batch_id", batchID),
		zap.Int("urls", len(urls)),
		zap.Int("results", len(results)),
		zap.Bool("recycled", recycled),
	)
	return nil
}

// nextChunk pulls pending URLs, seeding the frontier first when it is
// empty.
func (d *Dispatcher) nextChunk(ctx context.Context) ([]string, error) {
	pending, err := d.records.SelectPending(ctx, d.cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	if len(pending) > 0 {
		urls := make([]string, 0, len(pending))
		for _, rec := range pending {
			urls = append(urls, rec.NormalizedURL)
		}
		return urls, nil
	}

	var seeds []string
	for _, raw := range d.cfg.SeedURLs {
		if normalized := crawl.Normalize(raw); normalized != "" {
			seeds = append(seeds, normalized)
		}
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	created, err := d.records.BulkInsertPending(ctx, seeds)
	if err != nil {
		return nil, fmt.Errorf("seed frontier: %w", err)
	}
	if created == 0 {
		// Every seed already has a record, so the frontier is genuinely
		// drained, not just unseeded. Refetching crawled seeds here would
		// loop forever.
		return nil, nil
	}
	metrics.ObserveRecordsCreated(created)
	d.logger.Info("seeded frontier", zap.Int64("created", created))

	pending, err = d.records.SelectPending(ctx, d.cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	urls := make([]string, 0, len(pending))
	for _, rec := range pending {
		urls = append(urls, rec.NormalizedURL)
	}
	return urls, nil
}
