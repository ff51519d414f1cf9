package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scythe504/poison-grid/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRoom is a waiting room with one connected player at version 1.
func newTestRoom(id string) *internal.Room {
	now := time.Now().UTC()
	return &internal.Room{
		Id:        id,
		BoardSize: 5,
		Capacity:  internal.MaxPlayersPerRoom,
		Players: []internal.Player{
			{Id: "p1", Name: "Ann", Avatar: "A", Alive: true, Connected: true, JoinedAt: now},
		},
		RevealedCells: map[internal.Cell]string{},
		PoisonHits:    []internal.Cell{},
		HostId:        "p1",
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// testStoreContract runs the behaviour every backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create then load", func(t *testing.T) {
		st := newStore(t)
		room := newTestRoom("create")
		room.RevealedCells[internal.Cell{Row: 1, Col: 2}] = "p1"

		require.NoError(t, st.Write(ctx, room, 0))

		got, err := st.Load(ctx, "create")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "p1", got.RevealedCells[internal.Cell{Row: 1, Col: 2}])
		assert.Equal(t, room.Players[0].Name, got.Players[0].Name)

		ok, err := st.Exists(ctx, "create")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing room", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Load(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err := st.Exists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("create twice conflicts", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.Write(ctx, newTestRoom("dup"), 0))
		assert.ErrorIs(t, st.Write(ctx, newTestRoom("dup"), 0), ErrConflict)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		st := newStore(t)
		room := newTestRoom("stale")
		require.NoError(t, st.Write(ctx, room, 0))

		next := room.Clone()
		next.Version = 2
		require.NoError(t, st.Write(ctx, next, 1))

		again := room.Clone()
		again.Version = 2
		assert.ErrorIs(t, st.Write(ctx, again, 1), ErrConflict)

		got, err := st.Load(ctx, "stale")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("update of a missing room conflicts", func(t *testing.T) {
		st := newStore(t)
		room := newTestRoom("ghost")
		room.Version = 4
		assert.ErrorIs(t, st.Write(ctx, room, 3), ErrConflict)
	})

	t.Run("version must follow expected", func(t *testing.T) {
		st := newStore(t)
		room := newTestRoom("skip")
		room.Version = 3
		err := st.Write(ctx, room, 0)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrConflict)
	})

	t.Run("mutate increments by one", func(t *testing.T) {
		st := newStore(t)
		var versions []int64
		for i := 0; i < 5; i++ {
			room, err := Mutate(ctx, st, "seq", func(current *internal.Room) (*internal.Room, error) {
				if current == nil {
					r := newTestRoom("seq")
					r.Version = 0
					return r, nil
				}
				next := current.Clone()
				next.CurrentTurnIndex++
				return next, nil
			})
			require.NoError(t, err)
			versions = append(versions, room.Version)
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, versions)
	})

	t.Run("concurrent mutations on one version", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.Write(ctx, newTestRoom("race"), 0))

		var ready sync.WaitGroup
		ready.Add(2)
		errs := make([]error, 2)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = Mutate(ctx, st, "race", func(current *internal.Room) (*internal.Room, error) {
					// both load before either writes
					ready.Done()
					ready.Wait()
					next := current.Clone()
					next.RevealedCells[internal.Cell{Row: i, Col: i}] = "p1"
					return next, nil
				})
			}(i)
		}
		wg.Wait()

		succeeded, conflicted := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConflict):
				conflicted++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, conflicted)

		got, err := st.Load(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Len(t, got.RevealedCells, 1)
	})

	t.Run("rooms are independent", func(t *testing.T) {
		st := newStore(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, st.Write(ctx, newTestRoom(fmt.Sprintf("room-%d", i)), 0))
		}
		for i := 0; i < 3; i++ {
			ok, err := st.Exists(ctx, fmt.Sprintf("room-%d", i))
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
}

func TestRetention_For(t *testing.T) {
	r := DefaultRetention()
	room := newTestRoom("r")
	assert.Equal(t, 24*time.Hour, r.For(room))

	room.Players[0].Connected = false
	assert.Equal(t, time.Hour, r.For(room))
}

func TestMutate_CommitsRoomReturnedWithError(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(DefaultRetention())
	require.NoError(t, st.Write(ctx, newTestRoom("commit"), 0))

	reportErr := errors.New("told to the requester")
	room, err := Mutate(ctx, st, "commit", func(current *internal.Room) (*internal.Room, error) {
		next := current.Clone()
		next.Players[0].Name = "Bea"
		return next, reportErr
	})
	assert.ErrorIs(t, err, reportErr)
	require.NotNil(t, room)

	got, err := st.Load(ctx, "commit")
	require.NoError(t, err)
	assert.Equal(t, "Bea", got.Players[0].Name)
	assert.Equal(t, int64(2), got.Version)
}

func TestMutate_RejectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(DefaultRetention())
	require.NoError(t, st.Write(ctx, newTestRoom("reject"), 0))

	rejected := errors.New("no")
	room, err := Mutate(ctx, st, "reject", func(*internal.Room) (*internal.Room, error) {
		return nil, rejected
	})
	assert.Nil(t, room)
	assert.ErrorIs(t, err, rejected)

	got, err := st.Load(ctx, "reject")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

// flakyStore conflicts on the first n writes.
type flakyStore struct {
	Store
	failures int
}

func (s *flakyStore) Write(ctx context.Context, room *internal.Room, expected int64) error {
	if s.failures > 0 {
		s.failures--
		return ErrConflict
	}
	return s.Store.Write(ctx, room, expected)
}

func TestMutateRetry(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore(DefaultRetention())
	require.NoError(t, mem.Write(ctx, newTestRoom("retry"), 0))

	bump := func(current *internal.Room) (*internal.Room, error) {
		return current.Clone(), nil
	}

	st := &flakyStore{Store: mem, failures: 2}
	room, err := MutateRetry(ctx, st, "retry", 3, bump)
	require.NoError(t, err)
	assert.Equal(t, int64(2), room.Version)

	st = &flakyStore{Store: mem, failures: 5}
	_, err = MutateRetry(ctx, st, "retry", 3, bump)
	assert.ErrorIs(t, err, ErrConflict)
}
