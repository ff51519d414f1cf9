package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scythe504/poison-grid/internal"
)

var (
	ErrNotFound = errors.New("store: room not found")
	// ErrConflict means the stored version moved on since the caller loaded
	// it. It is an expected outcome of concurrent actions, not a failure.
	ErrConflict = errors.New("store: version conflict")

	// errRaceLost is a backend's own optimistic primitive losing a race;
	// retried internally and never returned.
	errRaceLost = errors.New("store: race lost")
)

const DefaultWriteAttempts = 3

// Store holds one versioned Room record per room id.
type Store interface {
	// Load returns ErrNotFound for absent or expired rooms.
	Load(ctx context.Context, roomID string) (*internal.Room, error)
	// Write stores room if the current version equals expectedVersion
	// (0 meaning the room must not exist yet); room.Version must be
	// expectedVersion+1. Returns ErrConflict otherwise.
	Write(ctx context.Context, room *internal.Room, expectedVersion int64) error
	Exists(ctx context.Context, roomID string) (bool, error)
	Close() error
}

// Sweeper is implemented by backends without native key expiry.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Retention is how long a record outlives its last write.
type Retention struct {
	// Active applies while any player is connected.
	Active time.Duration
	// Idle applies once nobody is connected, long enough to come back.
	Idle time.Duration
}

func DefaultRetention() Retention {
	return Retention{Active: 24 * time.Hour, Idle: time.Hour}
}

func (r Retention) For(room *internal.Room) time.Duration {
	if room.HasConnectedPlayers() {
		return r.Active
	}
	return r.Idle
}

func checkWrite(room *internal.Room, expectedVersion int64) error {
	if room == nil || room.Id == "" {
		return fmt.Errorf("store: write of a room without id")
	}
	if expectedVersion < 0 || room.Version != expectedVersion+1 {
		return fmt.Errorf("store: room %s version %d does not follow expected %d",
			room.Id, room.Version, expectedVersion)
	}
	return nil
}

func encodeRoom(room *internal.Room) ([]byte, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("store: encode room %s: %w", room.Id, err)
	}
	return data, nil
}

func decodeRoom(data []byte) (*internal.Room, error) {
	var room internal.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("store: decode room: %w", err)
	}
	if room.RevealedCells == nil {
		room.RevealedCells = make(map[internal.Cell]string)
	}
	if room.PoisonHits == nil {
		room.PoisonHits = make([]internal.Cell, 0)
	}
	return &room, nil
}

// withRetry runs attempt up to n times while it reports errRaceLost, then
// gives up with ErrConflict.
func withRetry(ctx context.Context, n int, attempt func() error) error {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		err := attempt()
		if !errors.Is(err, errRaceLost) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return ErrConflict
}
