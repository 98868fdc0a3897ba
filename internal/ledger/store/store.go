package store

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Get when the key has never been written.
	ErrNotFound = errors.New("store: key not found")
	// ErrVersionConflict is returned by Put when another writer won the race.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is a versioned key-value store. Every value carries a version
// token; Put succeeds only when expectedVersion matches the stored
// version, which gives callers an optimistic compare-and-swap path.
// A Put with expectedVersion 0 creates the key and fails if it exists.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, int64, error)
	Put(ctx context.Context, key string, value []byte, expectedVersion int64) error
}

// Memory is an in-process Store used in tests and as a last-resort
// fallback target.
type Memory struct {
	mu      sync.Mutex
	values  map[string][]byte
	version map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string][]byte),
		version: make(map[string]int64),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.values[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, m.version[key], nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.version[key] != expectedVersion {
		return ErrVersionConflict
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	m.values[key] = copied
	m.version[key] = expectedVersion + 1
	return nil
}
