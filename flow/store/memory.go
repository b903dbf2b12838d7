package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory ValueStore.
//
// Designed for tests and for runs whose results do not need to outlive the
// process. Unlike the other backends it starts bound (to the empty
// location), so a graph can execute without any persistence setup.
type MemoryStore struct {
	mu   sync.RWMutex
	loc  string
	docs map[string]map[int]Record
}

// NewMemoryStore creates an in-memory store bound to the empty location.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: map[string]map[int]Record{"": {}},
	}
}

// Bind switches the active document, creating an empty one on first use.
func (m *MemoryStore) Bind(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[location]; !ok {
		m.docs[location] = make(map[int]Record)
	}
	m.loc = location
	return nil
}

// Location returns the bound location.
func (m *MemoryStore) Location() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loc
}

// Lookup returns the stored value on an exact fingerprint match.
func (m *MemoryStore) Lookup(_ context.Context, nodeID int, fingerprint string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.docs[m.loc][nodeID]
	if !ok || rec.Fingerprint != fingerprint {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Store replaces the node's entry in the active document.
func (m *MemoryStore) Store(_ context.Context, nodeID int, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[m.loc][nodeID] = rec
	return nil
}

// Forget removes the node's entry.
func (m *MemoryStore) Forget(_ context.Context, nodeID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs[m.loc], nodeID)
	return nil
}

// Entries returns a copy of the active document.
func (m *MemoryStore) Entries(_ context.Context) (map[int]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]Record, len(m.docs[m.loc]))
	for id, rec := range m.docs[m.loc] {
		out[id] = rec
	}
	return out, nil
}
