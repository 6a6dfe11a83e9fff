package memory

import (
	"context"
	"sort"
	"sync"
)

// GraphStore is an in-memory crawl.GraphStore with the same merge
// semantics as the Postgres store: idempotent edges keyed on the ordered
// pair, and titles that are never cleared by a placeholder merge.
type GraphStore struct {
	mu    sync.RWMutex
	nodes map[string]string
	// edges maps source -> set of targets.
	edges   map[string]map[string]struct{}
	inbound map[string]map[string]struct{}
}

// NewGraphStore constructs an empty GraphStore.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes:   make(map[string]string),
		edges:   make(map[string]map[string]struct{}),
		inbound: make(map[string]map[string]struct{}),
	}
}

// MergeNode upserts a node, keeping any existing non-empty title.
func (s *GraphStore) MergeNode(_ context.Context, url, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[url]
	if ok && title == "" {
		return nil
	}
	if ok && existing == title {
		return nil
	}
	s.nodes[url] = title
	return nil
}

// MergeEdge upserts the directed source->target edge.
func (s *GraphStore) MergeEdge(_ context.Context, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.edges[source] == nil {
		s.edges[source] = make(map[string]struct{})
	}
	s.edges[source][target] = struct{}{}
	if s.inbound[target] == nil {
		s.inbound[target] = make(map[string]struct{})
	}
	s.inbound[target][source] = struct{}{}
	return nil
}

// InboundSources returns the sorted sources of edges pointing at url.
func (s *GraphStore) InboundSources(_ context.Context, url string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]string, 0, len(s.inbound[url]))
	for source := range s.inbound[url] {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources, nil
}

// NodeTitle returns the stored title for url. Test helper.
func (s *GraphStore) NodeTitle(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	title, ok := s.nodes[url]
	return title, ok
}

// Stats returns the node and edge counts. Test helper.
func (s *GraphStore) Stats() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, targets := range s.edges {
		edges += len(targets)
	}
	return len(s.nodes), edges
}
