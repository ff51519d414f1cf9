package store

import (
	"context"
	"errors"
	"time"

	"github.com/scythe504/poison-grid/internal"
)

// ModifyFunc turns the loaded room into its successor. current is nil when
// the room does not exist. A non-nil room returned together with an error
// is still committed and the error handed back after the write.
type ModifyFunc func(current *internal.Room) (*internal.Room, error)

// Mutate is one read-modify-write against the version that was loaded. A
// lost race comes back as ErrConflict and is not replayed.
func Mutate(ctx context.Context, st Store, roomID string, modify ModifyFunc) (*internal.Room, error) {
	current, err := st.Load(ctx, roomID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if errors.Is(err, ErrNotFound) {
		current = nil
	}

	var expected int64
	if current != nil {
		expected = current.Version
	}

	next, modErr := modify(current)
	if next == nil {
		return nil, modErr
	}
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()

	if err := st.Write(ctx, next, expected); err != nil {
		return nil, err
	}
	return next, modErr
}

// MutateRetry replays Mutate on conflict. Only for server-originated
// changes where no client is left to resubmit.
func MutateRetry(ctx context.Context, st Store, roomID string, attempts int, modify ModifyFunc) (*internal.Room, error) {
	var (
		room *internal.Room
		err  error
	)
	for i := 0; i < max(attempts, 1); i++ {
		room, err = Mutate(ctx, st, roomID, modify)
		if !errors.Is(err, ErrConflict) {
			return room, err
		}
	}
	return room, err
}
