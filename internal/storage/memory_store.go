package storage

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. Useful for tests and
// single-process runs that should not touch disk.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]json.RawMessage)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Get(namespace, key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	return v, ok
}

func (m *MemoryStore) Save(namespace, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s/%s: %w", namespace, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[namespace]
	if !ok {
		bucket = make(map[string]json.RawMessage)
		m.data[namespace] = bucket
	}
	bucket[key] = raw
	return nil
}
