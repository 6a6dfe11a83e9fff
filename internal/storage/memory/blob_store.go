package memory

import (
	"context"
	"io"
	"sync"
)

// BlobStore keeps archived objects in a map. Used in tests and when no
// archive backend is configured explicitly.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// PutObject stores data under path and returns a mem:// URI for it.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = buf
	s.types[path] = contentType
	return "mem://" + path, nil
}

// Object returns the stored bytes for path. Test helper.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}

// Len returns the number of stored objects. Test helper.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
