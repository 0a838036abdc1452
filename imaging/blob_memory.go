package imaging

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBlobStore keeps payloads in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (store *MemoryBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (store *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	data, found := store.blobs[key]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (store *MemoryBlobStore) Remove(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.blobs, key)
	return nil
}

func (store *MemoryBlobStore) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.blobs)
}
