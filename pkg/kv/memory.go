package kv

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.data[key.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	m.data[key.String()] = bytes.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := string(scanPrefix(prefix))

	// Snapshot under the read lock so callers may write while iterating.
	m.mu.RLock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	vals := make(map[string][]byte, len(keys))
	for _, k := range keys {
		vals[k] = bytes.Clone(m.data[k])
	}
	m.mu.RUnlock()
	slices.Sort(keys)

	return func(yield func(Entry, error) bool) {
		for _, k := range keys {
			if !yield(Entry{Key: decode([]byte(k)), Value: vals[k]}, nil) {
				return
			}
		}
	}
}

func (m *Memory) BatchSet(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.data[e.Key.String()] = bytes.Clone(e.Value)
	}
	return nil
}

func (m *Memory) BatchDelete(_ context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key.String())
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Badger)(nil)
)
