package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces all keys written by the store. Defaults to "weft".
	Prefix string
	// TTL expires idle artifacts; every save refreshes it. Zero keeps
	// artifacts until Delete.
	TTL time.Duration
}

// RedisStore is an ArtifactStore backed by Redis. Versions of one artifact
// live in a Redis list (index i holds version i+1), so saves are appends and
// version reads are index lookups; the session's artifact names are tracked
// in a set for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates an artifact store over an existing Redis client.
func NewRedisStore(client *redis.Client, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{Prefix: "weft"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

// Save appends a new version of the artifact and returns its version number,
// starting at 1.
func (a *RedisStore) Save(ctx context.Context, sessionID, name string, data []byte) (int, error) {
	key := a.versionsKey(sessionID, name)
	pipe := a.client.Pipeline()
	lenCmd := pipe.RPush(ctx, key, data)
	pipe.SAdd(ctx, a.namesKey(sessionID), name)
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
		pipe.Expire(ctx, a.namesKey(sessionID), a.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline failed: %w", err)
	}
	return int(lenCmd.Val()), nil
}

// Get returns the requested version's bytes, version 0 meaning latest, or
// ErrNotFound.
func (a *RedisStore) Get(ctx context.Context, sessionID, name string, version int) ([]byte, error) {
	key := a.versionsKey(sessionID, name)
	idx := int64(version - 1)
	if version == 0 {
		idx = -1
	} else if version < 0 {
		return nil, ErrNotFound
	}
	data, err := a.client.LIndex(ctx, key, idx).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis lindex failed: %w", err)
	}
	return data, nil
}

// Versions lists the stored versions for the named artifact in ascending
// order, empty when the artifact does not exist.
func (a *RedisStore) Versions(ctx context.Context, sessionID, name string) ([]int, error) {
	n, err := a.client.LLen(ctx, a.versionsKey(sessionID, name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis llen failed: %w", err)
	}
	out := make([]int, 0, n)
	for v := 1; v <= int(n); v++ {
		out = append(out, v)
	}
	return out, nil
}

// List returns the artifact names stored for the session.
func (a *RedisStore) List(ctx context.Context, sessionID string) ([]string, error) {
	names, err := a.client.SMembers(ctx, a.namesKey(sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Delete removes all versions of the named artifact or returns ErrNotFound.
func (a *RedisStore) Delete(ctx context.Context, sessionID, name string) error {
	pipe := a.client.Pipeline()
	delCmd := pipe.Del(ctx, a.versionsKey(sessionID, name))
	pipe.SRem(ctx, a.namesKey(sessionID), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	if delCmd.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *RedisStore) versionsKey(sessionID, name string) string {
	return fmt.Sprintf("%s:artifact:%s:%s", a.prefix, sessionID, name)
}

func (a *RedisStore) namesKey(sessionID string) string {
	return fmt.Sprintf("%s:artifacts:%s", a.prefix, sessionID)
}
