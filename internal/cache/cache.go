package cache

import (
	"context"
	"sync"
)

// KV is the durable key-value backend behind the local mirror.
// Get reports found=false for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	dup := make([]byte, len(val))
	copy(dup, val)
	return dup, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	dup := make([]byte, len(value))
	copy(dup, value)
	m.mu.Lock()
	m.values[key] = dup
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}
