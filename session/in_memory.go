package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/weft/core"
)

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// a process-local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Each returned session is cloned to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create initializes a new session. Creating an existing id fails with
// ErrExists.
func (s *InMemoryStore) Create(_ context.Context, sessionID, workflowID, userID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrExists)
	}
	sess := core.NewSession(sessionID, workflowID, userID)
	s.sessions[sessionID] = sess
	return sess.Clone(), nil
}

// Get returns a clone of the stored session.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess.Clone(), nil
}

// AppendEvent adds an event to an existing session's log.
func (s *InMemoryStore) AppendEvent(_ context.Context, sessionID string, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	sess.AddEvent(ev)
	return nil
}

// ApplyDelta merges a key/value delta into the session state.
func (s *InMemoryStore) ApplyDelta(_ context.Context, sessionID string, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	sess.ApplyStateDelta(delta)
	return nil
}

// Delete discards the session. Deleting an unknown id is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
