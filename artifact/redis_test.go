package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, optFns ...func(o *RedisOptions)) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, optFns...), mr
}

func TestRedisArtifactStore_SaveVersionsAndGet(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	v1, err := store.Save(ctx, "s1", "image.png", []byte("first"))
	require.NoError(t, err)
	v2, err := store.Save(ctx, "s1", "image.png", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)

	latest, err := store.Get(ctx, "s1", "image.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "second", string(latest))

	first, err := store.Get(ctx, "s1", "image.png", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))

	versions, err := store.Versions(ctx, "s1", "image.png")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)

	_, err = store.Get(ctx, "s1", "image.png", 3)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "s1", "missing", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisArtifactStore_ListAndDelete(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "s1", "a1", []byte("1"))
	require.NoError(t, err)
	_, err = store.Save(ctx, "s1", "a2", []byte("2"))
	require.NoError(t, err)
	_, err = store.Save(ctx, "s2", "b1", []byte("3"))
	require.NoError(t, err)

	names, err := store.List(ctx, "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, names)

	require.NoError(t, store.Delete(ctx, "s1", "a1"))
	_, err = store.Get(ctx, "s1", "a1", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	names, err = store.List(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, names)

	assert.ErrorIs(t, store.Delete(ctx, "s1", "missing"), ErrNotFound)
}

func TestRedisArtifactStore_BinaryPayloadSurvives(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0xff}
	_, err := store.Save(ctx, "s1", "tiny.png", payload)
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1", "tiny.png", 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRedisArtifactStore_TTLExpires(t *testing.T) {
	store, mr := setupRedisStore(t, func(o *RedisOptions) { o.TTL = time.Minute })
	ctx := context.Background()

	_, err := store.Save(ctx, "s1", "a1", []byte("1"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, "s1", "a1", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
