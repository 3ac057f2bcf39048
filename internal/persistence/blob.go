package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore stores opaque objects by slash-separated key.
type BlobStore interface {
	// Put stores size bytes read from r under key, replacing any object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object to w. It reports false, with no error, when
	// the key does not exist.
	Get(ctx context.Context, key string, w io.Writer) (bool, error)
}

// MemoryBlobStore is an in-memory BlobStore. Safe for concurrent use.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBlobStore creates an empty store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return true, fmt.Errorf("failed to write data: %w", err)
	}
	return true, nil
}

// Keys returns the stored keys in no particular order.
func (m *MemoryBlobStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

var _ BlobStore = (*MemoryBlobStore)(nil)
