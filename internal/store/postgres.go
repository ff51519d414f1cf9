package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scythe504/poison-grid/internal"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		version    BIGINT NOT NULL,
		data       JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_expires_at ON rooms(expires_at);`,
}

const (
	pgInsertRoom = `
		INSERT INTO rooms (id, version, data, expires_at, updated_at)
		VALUES ($1, $2, $3, now() + $4::bigint * interval '1 millisecond', now())
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version,
		    data = EXCLUDED.data,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
		WHERE rooms.expires_at <= now()`

	pgUpdateRoom = `
		UPDATE rooms
		SET version = $2,
		    data = $3,
		    expires_at = now() + $4::bigint * interval '1 millisecond',
		    updated_at = now()
		WHERE id = $1 AND version = $5 AND expires_at > now()`
)

// PostgresStore keeps rooms in a table and relies on a version predicate in
// the UPDATE for optimistic concurrency.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention Retention
	attempts  int
}

// OpenPostgres connects a pool and checks it with a ping.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres ping: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, retention Retention, attempts int) (*PostgresStore, error) {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: postgres migrate: %w", err)
		}
	}
	if attempts < 1 {
		attempts = DefaultWriteAttempts
	}
	return &PostgresStore{pool: pool, retention: retention, attempts: attempts}, nil
}

func (s *PostgresStore) Load(ctx context.Context, roomID string) (*internal.Room, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM rooms WHERE id = $1 AND expires_at > now()`, roomID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: postgres load %s: %w", roomID, err)
	}
	return decodeRoom(data)
}

func (s *PostgresStore) Write(ctx context.Context, room *internal.Room, expectedVersion int64) error {
	if err := checkWrite(room, expectedVersion); err != nil {
		return err
	}
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}
	ttl := s.retention.For(room).Milliseconds()

	return withRetry(ctx, s.attempts, func() error {
		var (
			tag pgconn.CommandTag
			err error
		)
		if expectedVersion == 0 {
			tag, err = s.pool.Exec(ctx, pgInsertRoom, room.Id, room.Version, string(data), ttl)
		} else {
			tag, err = s.pool.Exec(ctx, pgUpdateRoom, room.Id, room.Version, string(data), ttl, expectedVersion)
		}
		if err != nil {
			if isPgRaceLost(err) {
				return errRaceLost
			}
			return fmt.Errorf("store: postgres write %s: %w", room.Id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		return nil
	})
}

func (s *PostgresStore) Exists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1 AND expires_at > now())`, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: postgres exists %s: %w", roomID, err)
	}
	return exists, nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("store: postgres sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close leaves the pool open; the notifier listens on the same pool.
func (s *PostgresStore) Close() error {
	return nil
}

// serialization_failure and deadlock_detected
func isPgRaceLost(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
