package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/weftworks/weft/core"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("approval record not found")

// Store persists suspension records. Implementations must be safe for
// concurrent use; returned records are isolated copies callers may mutate
// freely.
type Store interface {
	// Save upserts a record keyed by its invocation id.
	Save(ctx context.Context, rec *core.Suspension) error
	// Get returns the record registered under the invocation id.
	Get(ctx context.Context, invocationID string) (*core.Suspension, error)
	// FindByApproval returns the most recently saved record for the given
	// approval id within a session.
	FindByApproval(ctx context.Context, sessionID, approvalID string) (*core.Suspension, error)
	// List returns all records belonging to a session.
	List(ctx context.Context, sessionID string) ([]*core.Suspension, error)
	// Delete removes the record registered under the invocation id.
	Delete(ctx context.Context, invocationID string) error
}

// InMemoryStore is a volatile Store keeping records in process-local maps.
// Suited for single-process deployments and tests; durability across restarts
// comes from Coordinator.Rehydrate reading the session log instead.
type InMemoryStore struct {
	mu           sync.RWMutex
	byInvocation map[string]*core.Suspension
	byApproval   map[string]string // session + approval id -> invocation id
}

// NewInMemoryStore constructs an empty in-memory approval store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byInvocation: make(map[string]*core.Suspension),
		byApproval:   make(map[string]string),
	}
}

// Save upserts a clone of the record keyed by its invocation id.
func (s *InMemoryStore) Save(_ context.Context, rec *core.Suspension) error {
	if rec.InvocationID == "" {
		return fmt.Errorf("approval record missing invocation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byInvocation[rec.InvocationID] = rec.Clone()
	s.byApproval[approvalKey(rec.SessionID, rec.ApprovalID)] = rec.InvocationID
	return nil
}

// Get returns a clone of the record registered under the invocation id.
func (s *InMemoryStore) Get(_ context.Context, invocationID string) (*core.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byInvocation[invocationID]
	if !ok {
		return nil, fmt.Errorf("invocation %s: %w", invocationID, ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindByApproval returns a clone of the record most recently saved under the
// session's approval id.
func (s *InMemoryStore) FindByApproval(_ context.Context, sessionID, approvalID string) (*core.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invocationID, ok := s.byApproval[approvalKey(sessionID, approvalID)]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
	}
	rec, ok := s.byInvocation[invocationID]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
	}
	return rec.Clone(), nil
}

// List returns clones of all records belonging to the session.
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]*core.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Suspension
	for _, rec := range s.byInvocation {
		if rec.SessionID == sessionID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Delete removes the record registered under the invocation id. Deleting an
// unknown id is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, invocationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byInvocation[invocationID]
	if !ok {
		return nil
	}
	delete(s.byInvocation, invocationID)
	key := approvalKey(rec.SessionID, rec.ApprovalID)
	if s.byApproval[key] == invocationID {
		delete(s.byApproval, key)
	}
	return nil
}

func approvalKey(sessionID, approvalID string) string {
	return sessionID + "/" + approvalID
}
