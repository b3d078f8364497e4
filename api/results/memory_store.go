package results

import (
	"context"
	"sync"
)

// MemoryStore is an in-process ResultStore. Results do not survive a restart.
type MemoryStore struct {
	results map[string]ClientResult
	mutex   *sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: map[string]ClientResult{},
		mutex:   &sync.RWMutex{},
	}
}

// ReadResult implements ResultStore.
func (m *MemoryStore) ReadResult(ctx context.Context, key string) (*ClientResult, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result, ok := m.results[key]
	if !ok {
		return nil, nil
	}
	return &result, nil
}

// WriteResult implements ResultStore.
func (m *MemoryStore) WriteResult(ctx context.Context, key string, result ClientResult) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.results[key] = result
	return nil
}

// Close implements ResultStore.
func (m *MemoryStore) Close() error {
	return nil
}
