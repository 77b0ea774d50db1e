package stats

import (
	"context"
	"sync"
)

// Backend persists usage counters keyed by credential ID. Implementations
// must be safe for concurrent use.
type Backend interface {
	Increment(ctx context.Context, key, field string, delta int64) error
	Set(ctx context.Context, key, field string, value int64) error
	Get(ctx context.Context, key string) (map[string]int64, error)
	List(ctx context.Context) (map[string]map[string]int64, error)
	Reset(ctx context.Context, key string) error
	Close() error
}

// MemoryBackend keeps counters in process memory. It is the default when no
// redis address is configured; counters reset on restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string]int64)}
}

func (m *MemoryBackend) Increment(_ context.Context, key, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.data[key]
	if entry == nil {
		entry = make(map[string]int64)
		m.data[key] = entry
	}
	entry[field] += delta
	return nil
}

func (m *MemoryBackend) Set(_ context.Context, key, field string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.data[key]
	if entry == nil {
		entry = make(map[string]int64)
		m.data[key] = entry
	}
	entry[field] = value
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry := m.data[key]
	out := make(map[string]int64, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryBackend) List(_ context.Context) (map[string]map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]int64, len(m.data))
	for key, entry := range m.data {
		copied := make(map[string]int64, len(entry))
		for k, v := range entry {
			copied[k] = v
		}
		out[key] = copied
	}
	return out, nil
}

func (m *MemoryBackend) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
