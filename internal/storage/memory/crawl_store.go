// Package memory provides in-memory store implementations for development
// and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/linkgraph/crawler/internal/crawl"
)

// CrawlStore is an in-memory crawl.RecordStore. It enforces the same
// single-shot pending-to-crawled transition as the Postgres store.
type CrawlStore struct {
	mu      sync.RWMutex
	records map[string]crawl.CrawlRecord
	order   []string
}

// NewCrawlStore constructs an empty CrawlStore.
func NewCrawlStore() *CrawlStore {
	return &CrawlStore{records: make(map[string]crawl.CrawlRecord)}
}

// SelectPending returns up to limit uncrawled records in insertion order.
func (s *CrawlStore) SelectPending(_ context.Context, limit int) ([]crawl.CrawlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []crawl.CrawlRecord
	for _, url := range s.order {
		if len(out) >= limit {
			break
		}
		rec := s.records[url]
		if !rec.Crawled {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ExistsAny returns which of urls already have a record.
func (s *CrawlStore) ExistsAny(_ context.Context, urls []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := make(map[string]struct{})
	for _, url := range urls {
		if _, ok := s.records[url]; ok {
			existing[url] = struct{}{}
		}
	}
	return existing, nil
}

// UpsertCrawled marks the record crawled; a record already crawled is left
// untouched and false is returned.
func (s *CrawlStore) UpsertCrawled(_ context.Context, rec crawl.CrawlRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.NormalizedURL]
	if ok && existing.Crawled {
		return false, nil
	}
	if !ok {
		s.order = append(s.order, rec.NormalizedURL)
	}
	rec.Crawled = true
	if !rec.Success {
		rec.Title = ""
		rec.Body = ""
	}
	s.records[rec.NormalizedURL] = rec
	return true, nil
}

// BulkInsertPending creates uncrawled records for urls not yet present.
func (s *CrawlStore) BulkInsertPending(_ context.Context, urls []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created int64
	for _, url := range urls {
		if _, ok := s.records[url]; ok {
			continue
		}
		s.records[url] = crawl.CrawlRecord{NormalizedURL: url}
		s.order = append(s.order, url)
		created++
	}
	return created, nil
}

// SelectSuccessfulByPrefix returns successfully crawled URLs under prefix.
func (s *CrawlStore) SelectSuccessfulByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urls []string
	for _, url := range s.order {
		rec := s.records[url]
		if rec.Crawled && rec.Success && strings.HasPrefix(url, prefix) {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

// Get returns the record for url, if any. Test helper.
func (s *CrawlStore) Get(url string) (crawl.CrawlRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[url]
	return rec, ok
}

// Len returns the total number of records. Test helper.
func (s *CrawlStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
