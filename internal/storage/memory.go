package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps documents in process. It is used when no durable
// backend is configured and in tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte // kind -> id -> document
}

// NewMemoryBackend creates an empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) Put(_ context.Context, kind, id string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(kind, id, doc)
	return nil
}

func (m *MemoryBackend) put(kind, id string, doc []byte) {
	byID, ok := m.docs[kind]
	if !ok {
		byID = make(map[string][]byte)
		m.docs[kind] = byID
	}
	byID[id] = append([]byte(nil), doc...)
}

func (m *MemoryBackend) Insert(_ context.Context, kind, id string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[kind][id]; ok {
		return ErrExists
	}
	m.put(kind, id, doc)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

// List returns matching documents ordered by id
func (m *MemoryBackend) List(_ context.Context, kind, prefix string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs[kind]))
	for id := range m.docs[kind] {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, append([]byte(nil), m.docs[kind][id]...))
	}
	return out, nil
}

func (m *MemoryBackend) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[kind], id)
	return nil
}

func (m *MemoryBackend) Truncate(context.Context) error {
	m.mu.Lock()
	m.docs = make(map[string]map[string][]byte)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
