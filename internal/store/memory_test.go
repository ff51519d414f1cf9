package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore(DefaultRetention())
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Retention(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(Retention{Active: time.Hour, Idle: time.Minute}, WithClock(clock.Now))

	active := newTestRoom("active")
	idle := newTestRoom("idle")
	idle.Players[0].Connected = false
	require.NoError(t, st.Write(ctx, active, 0))
	require.NoError(t, st.Write(ctx, idle, 0))

	clock.Advance(2 * time.Minute)

	_, err := st.Load(ctx, "idle")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Load(ctx, "active")
	assert.NoError(t, err)

	// an expired id can be created again
	reborn := newTestRoom("idle")
	require.NoError(t, st.Write(ctx, reborn, 0))

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 2, st.Len())
	removed, err := st.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, st.Len())
}

func TestMemoryStore_WriteRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(Retention{Active: 10 * time.Minute, Idle: time.Minute}, WithClock(clock.Now))

	room := newTestRoom("refresh")
	require.NoError(t, st.Write(ctx, room, 0))

	clock.Advance(8 * time.Minute)
	next := room.Clone()
	next.Version = 2
	require.NoError(t, st.Write(ctx, next, 1))

	clock.Advance(8 * time.Minute)
	ok, err := st.Exists(ctx, "refresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJanitor_SweepsUntilCancelled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(Retention{Active: time.Minute, Idle: time.Minute}, WithClock(clock.Now))
	require.NoError(t, st.Write(context.Background(), newTestRoom("old"), 0))
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := StartJanitor(ctx, st, 5*time.Millisecond, zap.NewNop().Sugar())

	assert.Eventually(t, func() bool { return st.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
