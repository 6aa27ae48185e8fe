package core

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Session is one workflow run: shared key-value state plus an append-only
// event log. All access is synchronized; Clone produces a deep snapshot used
// for parallel fan-out isolation.
type Session struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	State      map[string]any `json:"state"`
	Events     []Event        `json:"events"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	mu sync.RWMutex
}

// NewSession creates an empty session.
func NewSession(id, workflowID, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		WorkflowID: workflowID,
		UserID:     userID,
		State:      map[string]any{},
		Events:     []Event{},
		Created:    now,
		Updated:    now,
	}
}

// GetState returns the value stored under key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// SetState stores value under key.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now().UTC()
}

// ApplyStateDelta merges all pairs of delta into the session state.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.State, delta)
	s.Updated = time.Now().UTC()
}

// StateSnapshot returns a shallow copy of the current state map.
func (s *Session) StateSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.State)
}

// AddEvent appends an event to the log.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	s.Updated = time.Now().UTC()
}

// EventList returns a copy of the event log.
func (s *Session) EventList() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// History returns non-partial conversational events (user, assistant and
// tool roles) used to rebuild agent transcripts.
func (s *Session) History() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.Events {
		if ev.Partial || ev.Content == nil {
			continue
		}
		switch ev.Content.Role {
		case "user", "assistant", "tool":
			out = append(out, ev)
		}
	}
	return out
}

// Clone returns a deep copy safe for isolated mutation. Events are copied by
// value; state and metadata maps are cloned one level deep.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := &Session{
		ID:         s.ID,
		WorkflowID: s.WorkflowID,
		UserID:     s.UserID,
		State:      maps.Clone(s.State),
		Events:     make([]Event, len(s.Events)),
		Created:    s.Created,
		Updated:    s.Updated,
	}
	copy(cp.Events, s.Events)
	if s.Metadata != nil {
		cp.Metadata = maps.Clone(s.Metadata)
	}
	return cp
}

// SessionStore persists sessions. Implementations must be safe for
// concurrent use; Get returns an isolated copy callers may mutate freely.
type SessionStore interface {
	// Create initializes a new session for a workflow and user. Creating an
	// existing id is an error.
	Create(ctx context.Context, sessionID, workflowID, userID string) (*Session, error)
	// Get returns a copy of the stored session.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// AppendEvent adds an event to the session log.
	AppendEvent(ctx context.Context, sessionID string, ev Event) error
	// ApplyDelta merges state mutations into the stored session state.
	ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error
	// Delete discards the session.
	Delete(ctx context.Context, sessionID string) error
}
