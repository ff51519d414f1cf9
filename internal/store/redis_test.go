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

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		_, rdb := newTestRedis(t)
		return NewRedisStore(rdb, DefaultRetention(), DefaultWriteAttempts)
	})
}

func TestRedisStore_KeyTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	st := NewRedisStore(rdb, Retention{Active: time.Hour, Idle: time.Minute}, 0)

	room := newTestRoom("ttl")
	require.NoError(t, st.Write(ctx, room, 0))
	assert.Equal(t, time.Hour, mr.TTL(RoomKey("ttl")))

	// last player gone: idle retention
	next := room.Clone()
	next.Version = 2
	next.Players[0].Connected = false
	require.NoError(t, st.Write(ctx, next, 1))
	assert.Equal(t, time.Minute, mr.TTL(RoomKey("ttl")))

	mr.FastForward(2 * time.Minute)
	_, err := st.Load(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := st.Exists(ctx, "ttl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	st := NewRedisStore(rdb, DefaultRetention(), 1)
	mr.Close()

	_, err := st.Load(ctx, "down")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = st.Write(ctx, newTestRoom("down"), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}
