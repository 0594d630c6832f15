// Package memory stores extracted documents in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/ccextract/internal/storage"
)

// BlobStore keeps objects in a map keyed by object key.
type BlobStore struct {
	mu     sync.RWMutex
	bucket string
	data   map[string][]byte
	types  map[string]string
	puts   int
}

var _ storage.Store = (*BlobStore)(nil)

// NewBlobStore creates an empty store for bucket.
func NewBlobStore(bucket string) *BlobStore {
	return &BlobStore{
		bucket: bucket,
		data:   make(map[string][]byte),
		types:  make(map[string]string),
	}
}

// EnsureBucket is a no-op.
func (s *BlobStore) EnsureBucket(context.Context) error { return nil }

// PutObject stores a copy of data under key, replacing any previous object.
func (s *BlobStore) PutObject(_ context.Context, key, contentType string, data []byte) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	s.puts++
	return fmt.Sprintf("memory://%s/%s", s.bucket, key), nil
}

// Get returns the object stored under key.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the content type recorded for key.
func (s *BlobStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[key]
}

// Keys lists stored keys in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts counts PutObject calls, including overwrites.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
