package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/scythe504/poison-grid/internal"
	"go.uber.org/zap"
)

// RoomPattern matches the event channel of every room.
const RoomPattern = "room:*:events"

func RoomChannel(roomID string) string {
	return "room:" + roomID + ":events"
}

// RedisNotifier publishes to one channel per room and pattern-subscribes to
// all of them.
type RedisNotifier struct {
	rdb redis.UniversalClient
	log *zap.SugaredLogger

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisNotifier(rdb redis.UniversalClient, log *zap.SugaredLogger) *RedisNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisNotifier{rdb: rdb, log: log}
}

func (n *RedisNotifier) Publish(ctx context.Context, room *internal.Room) error {
	payload, err := encodeState(room)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, RoomChannel(room.Id), payload).Err(); err != nil {
		return fmt.Errorf("pubsub: redis publish %s: %w", room.Id, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, handler Handler) error {
	ps := n.rdb.PSubscribe(ctx, RoomPattern)
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("pubsub: redis psubscribe: %w", err)
	}

	n.mu.Lock()
	n.subs = append(n.subs, ps)
	n.mu.Unlock()

	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				room, err := decodeState([]byte(msg.Payload))
				if err != nil {
					n.log.Errorf("[RedisNotifier] Channel %s: %v", msg.Channel, err)
					continue
				}
				handler(ctx, room)
			}
		}
	}()
	return nil
}

// Close ends the subscriptions; the client itself belongs to the caller.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ps := range n.subs {
		_ = ps.Close()
	}
	n.subs = nil
	return nil
}
