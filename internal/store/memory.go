package store

import (
	"context"
	"sync"
	"time"

	"github.com/scythe504/poison-grid/internal"
)

type memoryRecord struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// MemoryStore keeps serialized rooms in a map. It serves single-process
// deployments and tests; records are copied in and out so callers never
// share a Room value with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	rooms     map[string]memoryRecord
	retention Retention
	now       func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock swaps the time source, mostly for expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(retention Retention, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rooms:     make(map[string]memoryRecord),
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context, roomID string) (*internal.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok || !s.now().Before(rec.expiresAt) {
		return nil, ErrNotFound
	}
	return decodeRoom(rec.data)
}

func (s *MemoryStore) Write(ctx context.Context, room *internal.Room, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkWrite(room, expectedVersion); err != nil {
		return err
	}
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.rooms[room.Id]
	live := ok && now.Before(rec.expiresAt)
	switch {
	case expectedVersion == 0 && live:
		return ErrConflict
	case expectedVersion > 0 && (!live || rec.version != expectedVersion):
		return ErrConflict
	}

	s.rooms[room.Id] = memoryRecord{
		data:      data,
		version:   room.Version,
		expiresAt: now.Add(s.retention.For(room)),
	}
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, roomID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	return ok && s.now().Before(rec.expiresAt), nil
}

func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.rooms {
		if !now.Before(rec.expiresAt) {
			delete(s.rooms, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *MemoryStore) Close() error {
	return nil
}
