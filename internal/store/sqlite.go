package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scythe504/poison-grid/internal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		data       TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_expires_at ON rooms(expires_at);`,
}

// SQLiteStore is the single-node durable backend. Expiry is kept as unix
// milliseconds and enforced on read; Sweep deletes what has lapsed.
type SQLiteStore struct {
	db        *sql.DB
	retention Retention
	attempts  int
	now       func() time.Time
}

func OpenSQLite(ctx context.Context, path string, retention Retention, attempts int) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite open: %w", err)
	}
	// A single writer connection; WAL lets readers through.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: sqlite %s: %w", p, err)
		}
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: sqlite migrate: %w", err)
		}
	}

	if attempts < 1 {
		attempts = DefaultWriteAttempts
	}
	return &SQLiteStore{db: db, retention: retention, attempts: attempts, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, roomID string) (*internal.Room, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM rooms WHERE id = ? AND expires_at > ?`,
		roomID, s.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: sqlite load %s: %w", roomID, err)
	}
	return decodeRoom([]byte(data))
}

func (s *SQLiteStore) Write(ctx context.Context, room *internal.Room, expectedVersion int64) error {
	if err := checkWrite(room, expectedVersion); err != nil {
		return err
	}
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}

	return withRetry(ctx, s.attempts, func() error {
		now := s.now()
		expires := now.Add(s.retention.For(room)).UnixMilli()

		var res sql.Result
		var err error
		if expectedVersion == 0 {
			res, err = s.db.ExecContext(ctx, `
				INSERT INTO rooms (id, version, data, expires_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE
				SET version = excluded.version,
				    data = excluded.data,
				    expires_at = excluded.expires_at,
				    updated_at = excluded.updated_at
				WHERE rooms.expires_at <= ?`,
				room.Id, room.Version, string(data), expires, now.UnixMilli(), now.UnixMilli())
		} else {
			res, err = s.db.ExecContext(ctx, `
				UPDATE rooms
				SET version = ?, data = ?, expires_at = ?, updated_at = ?
				WHERE id = ? AND version = ? AND expires_at > ?`,
				room.Version, string(data), expires, now.UnixMilli(),
				room.Id, expectedVersion, now.UnixMilli())
		}
		if err != nil {
			if isSQLiteBusy(err) {
				return errRaceLost
			}
			return fmt.Errorf("store: sqlite write %s: %w", room.Id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: sqlite write %s: %w", room.Id, err)
		}
		if n == 0 {
			return ErrConflict
		}
		return nil
	})
}

func (s *SQLiteStore) Exists(ctx context.Context, roomID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rooms WHERE id = ? AND expires_at > ?`,
		roomID, s.now().UnixMilli()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: sqlite exists %s: %w", roomID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: sqlite sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: sqlite sweep: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
