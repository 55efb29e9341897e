// Package memory stores archive objects in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/webarchiver/internal/storage"
)

// BlobStore keeps objects in a map and counts writes per key.
type BlobStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes map[string]int
}

var _ storage.Engine = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory engine.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:   make(map[string][]byte),
		writes: make(map[string]int),
	}
}

// Name implements storage.Engine.
func (s *BlobStore) Name() string { return "memory" }

// Initialize implements storage.Engine.
func (s *BlobStore) Initialize(context.Context) error { return nil }

// Save stores a copy of data under key.
func (s *BlobStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	key = storage.SanitizeKey(key)
	if key == "" {
		return fmt.Errorf("%w: key is required", storage.ErrWrite)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.writes[key]++
	return nil
}

// Exists implements storage.Engine.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[storage.SanitizeKey(key)]
	return ok, nil
}

// Read returns a copy of the stored object.
func (s *BlobStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[storage.SanitizeKey(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// Delete implements storage.Engine.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, storage.SanitizeKey(key))
	return nil
}

// List implements storage.Engine.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// CleanupIncomplete removes every key under prefix.
func (s *BlobStore) CleanupIncomplete(_ context.Context, prefix string) error {
	dir := strings.TrimRight(storage.SanitizeKey(prefix), "/") + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, dir) {
			delete(s.data, k)
		}
	}
	return nil
}

// Writes returns how many times key has been saved.
func (s *BlobStore) Writes(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[storage.SanitizeKey(key)]
}

// Keys returns a snapshot of all stored keys.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
