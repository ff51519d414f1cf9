package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/scythe504/poison-grid/internal"
)

// RoomKey is the Redis key of a room record.
func RoomKey(roomID string) string {
	return "room:" + roomID
}

// RedisStore keeps each room as a JSON string with a TTL, written under
// WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	rdb       redis.UniversalClient
	retention Retention
	attempts  int
}

func NewRedisStore(rdb redis.UniversalClient, retention Retention, attempts int) *RedisStore {
	if attempts < 1 {
		attempts = DefaultWriteAttempts
	}
	return &RedisStore{rdb: rdb, retention: retention, attempts: attempts}
}

func (s *RedisStore) Load(ctx context.Context, roomID string) (*internal.Room, error) {
	raw, err := s.rdb.Get(ctx, RoomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get %s: %w", roomID, err)
	}
	return decodeRoom(raw)
}

func (s *RedisStore) Write(ctx context.Context, room *internal.Room, expectedVersion int64) error {
	if err := checkWrite(room, expectedVersion); err != nil {
		return err
	}
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}
	key := RoomKey(room.Id)
	ttl := s.retention.For(room)

	return withRetry(ctx, s.attempts, func() error {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				if expectedVersion != 0 {
					return ErrConflict
				}
			case err != nil:
				return err
			default:
				current, err := decodeRoom(raw)
				if err != nil {
					return err
				}
				if current.Version != expectedVersion {
					return ErrConflict
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil, errors.Is(err, ErrConflict):
			return err
		case errors.Is(err, redis.TxFailedErr):
			return errRaceLost
		default:
			return fmt.Errorf("store: redis write %s: %w", room.Id, err)
		}
	})
}

func (s *RedisStore) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, RoomKey(roomID)).Result()
	if err != nil {
		return false, fmt.Errorf("store: redis exists %s: %w", roomID, err)
	}
	return n > 0, nil
}

// Close leaves the client open; it belongs to the caller and is usually
// shared with the notifier.
func (s *RedisStore) Close() error {
	return nil
}
