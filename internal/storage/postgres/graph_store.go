package postgres

import (
	"context"
	"fmt"
)

const graphSchema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	url TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS graph_edges (
	source_url TEXT NOT NULL,
	target_url TEXT NOT NULL,
	PRIMARY KEY (source_url, target_url)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges (target_url);
`

// GraphStore implements crawl.GraphStore on Postgres. Edges are stored once
// per ordered (source, target) pair; the reverse direction is the same row
// read through the target index, so no mirror rows exist to drift out of
// sync.
type GraphStore struct {
	pool pgxPool
}

// NewGraphStore connects to Postgres and returns a GraphStore.
func NewGraphStore(ctx context.Context, cfg Config) (*GraphStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GraphStore{pool: pool}, nil
}

// NewGraphStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewGraphStoreWithPool(pool pgxPool) (*GraphStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &GraphStore{pool: pool}, nil
}

// InitSchema creates the graph tables when missing.
func (s *GraphStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, graphSchema); err != nil {
		return fmt.Errorf("init graph schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *GraphStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// MergeNode upserts a node. The conflict guard keeps an existing non-empty
// title when the incoming one is empty, so a placeholder created during
// link discovery never wipes the title written when the page itself was
// crawled.
func (s *GraphStore) MergeNode(ctx context.Context, url, title string) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO graph_nodes (url, title) VALUES ($1, $2)
ON CONFLICT (url) DO UPDATE SET title = EXCLUDED.title
WHERE EXCLUDED.title <> '' AND graph_nodes.title IS DISTINCT FROM EXCLUDED.title`,
		url, title); err != nil {
		return fmt.Errorf("merge node: %w", err)
	}
	return nil
}

// MergeEdge upserts the directed source->target edge.
func (s *GraphStore) MergeEdge(ctx context.Context, source, target string) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO graph_edges (source_url, target_url) VALUES ($1, $2)
ON CONFLICT (source_url, target_url) DO NOTHING`,
		source, target); err != nil {
		return fmt.Errorf("merge edge: %w", err)
	}
	return nil
}

// InboundSources returns the sources of every edge pointing at url.
func (s *GraphStore) InboundSources(ctx context.Context, url string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_url FROM graph_edges WHERE target_url = $1`, url)
	if err != nil {
		return nil, fmt.Errorf("select inbound edges: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("scan inbound row: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read inbound rows: %w", err)
	}
	return sources, nil
}
