package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedis_GetSetDel(t *testing.T) {
	s, _ := newMiniRedis(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, TenantKey("acme"), `{"id":"acme"}`, 0))
	v, err := s.Get(ctx, TenantKey("acme"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"acme"}`, v)

	require.NoError(t, s.Del(ctx))
	require.NoError(t, s.Del(ctx, TenantKey("acme")))
	_, err = s.Get(ctx, TenantKey("acme"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_SetNX(t *testing.T) {
	s, _ := newMiniRedis(t)
	ctx := context.Background()

	created, err := s.SetNX(ctx, "k", "first", 0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SetNX(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.False(t, created)

	v, _ := s.Get(ctx, "k")
	assert.Equal(t, "first", v)
}

func TestRedis_IncrExpire(t *testing.T) {
	s, mr := newMiniRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "rl:acme:1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	require.NoError(t, s.Expire(ctx, "rl:acme:1", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("rl:acme:1"))

	mr.FastForward(time.Minute)
	n, err := s.Incr(ctx, "rl:acme:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedis_Sets(t *testing.T) {
	s, _ := newMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, TenantIndexKey, "acme", "globex"))
	require.NoError(t, s.SAdd(ctx, TenantIndexKey, "acme"))
	members, err := s.SMembers(ctx, TenantIndexKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme", "globex"}, members)
}

func TestRedis_PingAndParseURL(t *testing.T) {
	s, mr := newMiniRedis(t)
	require.NoError(t, s.Ping(context.Background()))

	fromURL, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer fromURL.Close()
	require.NoError(t, fromURL.Ping(context.Background()))

	_, err = NewRedis("::not a url")
	assert.Error(t, err)
}
