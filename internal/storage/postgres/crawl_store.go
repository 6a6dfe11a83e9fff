// Package postgres provides Postgres-backed persistence for crawl state and
// the link graph.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkgraph/crawler/internal/crawl"
)

// pgxPool is the subset of pgxpool.Pool the stores use; pgxmock satisfies
// it for tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

const crawlSchema = `
CREATE TABLE IF NOT EXISTS crawl_records (
	normalized_url TEXT PRIMARY KEY,
	crawled BOOLEAN NOT NULL DEFAULT FALSE,
	success BOOLEAN,
	title TEXT,
	body TEXT,
	crawled_date TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_crawl_records_pending
	ON crawl_records (normalized_url) WHERE crawled = FALSE;
`

// CrawlStore implements crawl.RecordStore on Postgres. The primary key on
// normalized_url is what makes concurrent pending inserts safe and the
// pending-to-crawled transition single-shot.
type CrawlStore struct {
	pool pgxPool
}

// NewCrawlStore connects to Postgres and returns a CrawlStore.
func NewCrawlStore(ctx context.Context, cfg Config) (*CrawlStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CrawlStore{pool: pool}, nil
}

// NewCrawlStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewCrawlStoreWithPool(pool pgxPool) (*CrawlStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlStore{pool: pool}, nil
}

// InitSchema creates the crawl_records table when missing.
func (s *CrawlStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, crawlSchema); err != nil {
		return fmt.Errorf("init crawl schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CrawlStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SelectPending returns up to limit uncrawled records.
func (s *CrawlStore) SelectPending(ctx context.Context, limit int) ([]crawl.CrawlRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT normalized_url FROM crawl_records WHERE crawled = FALSE LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()

	var records []crawl.CrawlRecord
	for rows.Next() {
		var rec crawl.CrawlRecord
		if err := rows.Scan(&rec.NormalizedURL); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pending rows: %w", err)
	}
	return records, nil
}

// ExistsAny returns which of urls already have a record, in one round trip.
func (s *CrawlStore) ExistsAny(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(urls))
	if len(urls) == 0 {
		return existing, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT normalized_url FROM crawl_records WHERE normalized_url = ANY($1)`, urls)
	if err != nil {
		return nil, fmt.Errorf("select existing: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan existing row: %w", err)
		}
		existing[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read existing rows: %w", err)
	}
	return existing, nil
}

// UpsertCrawled marks the record crawled and stores the outcome. The WHERE
// guard on the conflict update means a record already marked crawled is
// left untouched, so two racing batches cannot double-apply; the returned
// bool reports whether this call performed the transition.
func (s *CrawlStore) UpsertCrawled(ctx context.Context, rec crawl.CrawlRecord) (bool, error) {
	var title, body any
	if rec.Success {
		title, body = rec.Title, rec.Body
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO crawl_records (normalized_url, crawled, success, title, body, crawled_date)
VALUES ($1, TRUE, $2, $3, $4, $5)
ON CONFLICT (normalized_url) DO UPDATE
SET crawled = TRUE,
	success = EXCLUDED.success,
	title = EXCLUDED.title,
	body = EXCLUDED.body,
	crawled_date = EXCLUDED.crawled_date
WHERE crawl_records.crawled = FALSE`,
		rec.NormalizedURL, rec.Success, title, body, rec.CrawledDate)
	if err != nil {
		return false, fmt.Errorf("upsert crawled record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BulkInsertPending creates uncrawled records for urls not yet present. The
// ON CONFLICT clause swallows races with concurrent writers inserting the
// same link.
func (s *CrawlStore) BulkInsertPending(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO crawl_records (normalized_url, crawled)
SELECT unnest($1::text[]), FALSE
ON CONFLICT (normalized_url) DO NOTHING`, urls)
	if err != nil {
		return 0, fmt.Errorf("bulk insert pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SelectSuccessfulByPrefix returns successfully crawled URLs under the
// given domain prefix.
func (s *CrawlStore) SelectSuccessfulByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT normalized_url FROM crawl_records
WHERE crawled = TRUE AND success = TRUE AND starts_with(normalized_url, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("select by prefix: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan prefix row: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read prefix rows: %w", err)
	}
	return urls, nil
}
