package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/core"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces all keys written by the store. Defaults to "weft".
	Prefix string
	// TTL expires idle sessions; every write refreshes it. Zero keeps
	// sessions until Delete.
	TTL time.Duration
}

// RedisStore is a SessionStore backed by Redis, for deployments where
// sessions must outlive the process. The session header (identity plus state)
// lives under one key as JSON; the event log is a Redis list so appends never
// rewrite history.
//
// State deltas are applied read-modify-write without optimistic locking: the
// runner is the single writer per session, which the engine enforces by
// rejecting concurrent invocations.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a session store over an existing Redis client.
func NewRedisStore(client *redis.Client, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{Prefix: "weft"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

// sessionDoc is the persisted session header: everything but the event log.
type sessionDoc struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	State      map[string]any `json:"state"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Create initializes a new session. Creating an existing id fails with
// ErrExists.
func (s *RedisStore) Create(ctx context.Context, sessionID, workflowID, userID string) (*core.Session, error) {
	sess := core.NewSession(sessionID, workflowID, userID)
	data, err := json.Marshal(docFromSession(sess))
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(sessionID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrExists)
	}
	return sess, nil
}

// Get loads the session header and replays the event list into a session
// value the caller owns.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	vals, err := s.client.LRange(ctx, s.eventsKey(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	events := make([]core.Event, 0, len(vals))
	for _, v := range vals {
		var ev core.Event
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}

	if doc.State == nil {
		doc.State = map[string]any{}
	}
	return &core.Session{
		ID:         doc.ID,
		WorkflowID: doc.WorkflowID,
		UserID:     doc.UserID,
		State:      doc.State,
		Events:     events,
		Created:    doc.Created,
		Updated:    doc.Updated,
		Metadata:   doc.Metadata,
	}, nil
}

// AppendEvent pushes an event onto the session's log list.
func (s *RedisStore) AppendEvent(ctx context.Context, sessionID string, ev core.Event) error {
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.eventsKey(sessionID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.eventsKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.sessionKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// ApplyDelta merges a key/value delta into the persisted session state.
func (s *RedisStore) ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error {
	if len(delta) == 0 {
		return nil
	}
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return fmt.Errorf("redis get failed: %w", err)
	}
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	if doc.State == nil {
		doc.State = map[string]any{}
	}
	for k, v := range delta {
		doc.State[k] = v
	}
	doc.Updated = time.Now().UTC()

	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sessionID), out, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes the session header and event log. Deleting an unknown id is
// a no-op.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID), s.eventsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func docFromSession(sess *core.Session) sessionDoc {
	return sessionDoc{
		ID:         sess.ID,
		WorkflowID: sess.WorkflowID,
		UserID:     sess.UserID,
		State:      sess.State,
		Created:    sess.Created,
		Updated:    sess.Updated,
		Metadata:   sess.Metadata,
	}
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisStore) eventsKey(id string) string {
	return fmt.Sprintf("%s:session:%s:events", s.prefix, id)
}
