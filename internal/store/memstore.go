package store

import (
	"context"
	"sort"
	"sync"
)

// Backend is the durable half of a Cache.
// This allows swapping between MemBackend (testing) and SQLiteBackend or
// BadgerBackend (production).
type Backend interface {
	// Name labels the backend in logs and metrics.
	Name() string

	// Load returns the record stored under key. A missing key is (_, false, nil).
	Load(ctx context.Context, key string) (Record, bool, error)

	// StoreBatch writes every record atomically: either all become visible
	// or none do.
	StoreBatch(ctx context.Context, records []Record) error

	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)

	// Lockspace identifies the underlying storage for in-process key locks.
	Lockspace() string

	Close() error
}

// MemBackend is an in-memory Backend for tests and throwaway sessions.
type MemBackend struct {
	mu      sync.RWMutex
	records map[string]Record
	id      string
	// failNext, when set, makes the next StoreBatch fail. Tests use it to
	// simulate a full disk.
	failNext error
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		records: make(map[string]Record),
		id:      newLockspaceID("mem"),
	}
}

func (m *MemBackend) Name() string      { return "memory" }
func (m *MemBackend) Lockspace() string { return m.id }

// Close is a no-op for MemBackend.
func (m *MemBackend) Close() error { return nil }

func (m *MemBackend) Load(_ context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	r.Payload = append([]byte(nil), r.Payload...)
	return r, true, nil
}

func (m *MemBackend) StoreBatch(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	for _, r := range records {
		r.Payload = append([]byte(nil), r.Payload...)
		m.records[r.Key] = r
	}
	return nil
}

func (m *MemBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.records, k)
	}
	return nil
}

func (m *MemBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}

func (m *MemBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// FailNextStore makes the next StoreBatch return err.
func (m *MemBackend) FailNextStore(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}
