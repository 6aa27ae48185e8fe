package artifact

import (
	"context"
	"sync"
)

// InMemoryStore is an in-process ArtifactStore implementation useful for
// tests, examples and single-process prototypes. It keeps all versions in a
// nested map guarded by an RWMutex. Data is copied on save and retrieval to
// avoid accidental external mutation of internal buffers.
//
// Layout: sessionID -> name -> versions (index i holds version i+1)
//
// This implementation is intentionally minimal; it does not enforce retention
// limits, size quotas, or eviction. For artifacts that must survive process
// restarts, use the Redis store.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][][]byte
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][][]byte)}
}

// Save appends a new version of the artifact and returns its version number,
// starting at 1. The input slice is copied before storage.
func (a *InMemoryStore) Save(_ context.Context, sessionID, name string, data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.artifacts[sessionID]; !exists {
		a.artifacts[sessionID] = make(map[string][][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	a.artifacts[sessionID][name] = append(a.artifacts[sessionID][name], cp)
	return len(a.artifacts[sessionID][name]), nil
}

// Get returns a copy of the requested version's bytes, version 0 meaning
// latest, or ErrNotFound.
func (a *InMemoryStore) Get(_ context.Context, sessionID, name string, version int) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	versions, ok := a.artifacts[sessionID][name]
	if !ok || len(versions) == 0 {
		return nil, ErrNotFound
	}
	if version == 0 {
		version = len(versions)
	}
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	data := versions[version-1]
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Versions lists the stored versions for the named artifact in ascending
// order, empty when the artifact does not exist.
func (a *InMemoryStore) Versions(_ context.Context, sessionID, name string) ([]int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	versions := a.artifacts[sessionID][name]
	out := make([]int, 0, len(versions))
	for i := range versions {
		out = append(out, i+1)
	}
	return out, nil
}

// List returns the artifact names stored for the session. The slice is a
// snapshot and safe for caller mutation.
func (a *InMemoryStore) List(_ context.Context, sessionID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[sessionID]
	if !ok {
		return []string{}, nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names, nil
}

// Delete removes all versions of the named artifact or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, sessionID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.artifacts[sessionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[name]; !ok {
		return ErrNotFound
	}
	delete(m, name)
	return nil
}
