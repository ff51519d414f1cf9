package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scythe504/poison-grid/internal"
	"go.uber.org/zap"
)

const (
	// PostgresChannel is the LISTEN/NOTIFY channel shared by all rooms.
	PostgresChannel = "room_events"

	// NOTIFY payloads must stay under 8000 bytes; larger rooms are sent as
	// a reference and read back from the store by the receiver.
	maxNotifyPayload = 7900

	msgRoomRef = "room_ref"
)

type roomRef struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// Loader reads the current room, used to resolve oversized notifications.
type Loader func(ctx context.Context, roomID string) (*internal.Room, error)

type PostgresNotifier struct {
	pool *pgxpool.Pool
	load Loader
	log  *zap.SugaredLogger

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewPostgresNotifier(pool *pgxpool.Pool, load Loader, log *zap.SugaredLogger) *PostgresNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PostgresNotifier{pool: pool, load: load, log: log, closed: make(chan struct{})}
}

func (n *PostgresNotifier) Publish(ctx context.Context, room *internal.Room) error {
	payload, err := encodeState(room)
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		payload, err = json.Marshal(internal.Message[roomRef]{
			Type: msgRoomRef,
			Data: roomRef{ID: room.Id, Version: room.Version},
		})
		if err != nil {
			return fmt.Errorf("pubsub: encode room ref %s: %w", room.Id, err)
		}
	}
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, string(payload)); err != nil {
		return fmt.Errorf("pubsub: postgres notify %s: %w", room.Id, err)
	}
	return nil
}

func (n *PostgresNotifier) Subscribe(ctx context.Context, handler Handler) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pubsub: postgres acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+PostgresChannel); err != nil {
		conn.Release()
		return fmt.Errorf("pubsub: postgres listen: %w", err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-n.closed:
			cancel()
		case <-listenCtx.Done():
		}
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		for {
			n.listen(listenCtx, conn, handler)
			if listenCtx.Err() != nil {
				return
			}
			// The listening connection broke; get a fresh one.
			conn = n.relisten(listenCtx)
			if conn == nil {
				return
			}
		}
	}()
	return nil
}

// listen consumes notifications until the connection fails or ctx ends,
// then gives the connection up.
func (n *PostgresNotifier) listen(ctx context.Context, conn *pgxpool.Conn, handler Handler) {
	defer func() {
		// A LISTENing connection must not go back into the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				n.log.Warnf("[PostgresNotifier] Listen connection lost: %v", err)
			}
			return
		}
		room, err := n.resolve(ctx, []byte(notification.Payload))
		if err != nil {
			n.log.Errorf("[PostgresNotifier] %v", err)
			continue
		}
		handler(ctx, room)
	}
}

func (n *PostgresNotifier) relisten(ctx context.Context) *pgxpool.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
		conn, err := n.pool.Acquire(ctx)
		if err != nil {
			n.log.Warnf("[PostgresNotifier] Reacquire failed: %v", err)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+PostgresChannel); err != nil {
			conn.Release()
			n.log.Warnf("[PostgresNotifier] Re-LISTEN failed: %v", err)
			continue
		}
		n.log.Infof("[PostgresNotifier] Listening again on %s", PostgresChannel)
		return conn
	}
}

func (n *PostgresNotifier) resolve(ctx context.Context, payload []byte) (*internal.Room, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("pubsub: decode: %w", err)
	}
	if head.Type != msgRoomRef {
		return decodeState(payload)
	}

	var ref internal.Message[roomRef]
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, fmt.Errorf("pubsub: decode room ref: %w", err)
	}
	if n.load == nil {
		return nil, fmt.Errorf("pubsub: room ref %s without a loader", ref.Data.ID)
	}
	return n.load(ctx, ref.Data.ID)
}

func (n *PostgresNotifier) Close() error {
	n.closeOnce.Do(func() { close(n.closed) })
	n.wg.Wait()
	return nil
}
