package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/scythe504/poison-grid/internal"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("pubsub: notifier closed")

const DefaultQueueSize = 256

// LocalBus delivers within one process. Each subscriber drains its own
// queue on one goroutine, so per-room order is kept; a full queue drops the
// publish for that subscriber only.
type LocalBus struct {
	mu        sync.RWMutex
	subs      map[*localSub]struct{}
	queueSize int
	closed    chan struct{}
	closeOnce sync.Once
	log       *zap.SugaredLogger
	dropped   atomic.Int64
}

type localSub struct {
	queue chan []byte
}

func NewLocalBus(queueSize int, log *zap.SugaredLogger) *LocalBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LocalBus{
		subs:      make(map[*localSub]struct{}),
		queueSize: queueSize,
		closed:    make(chan struct{}),
		log:       log,
	}
}

func (b *LocalBus) Publish(ctx context.Context, room *internal.Room) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	payload, err := encodeState(room)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.queue <- payload:
		default:
			b.dropped.Add(1)
			b.log.Warnf("[LocalBus] Room %s: subscriber queue full, dropped version %d", room.Id, room.Version)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, handler Handler) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	sub := &localSub{queue: make(chan []byte, b.queueSize)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			case payload := <-sub.queue:
				room, err := decodeState(payload)
				if err != nil {
					b.log.Errorf("[LocalBus] %v", err)
					continue
				}
				handler(ctx, room)
			}
		}
	}()
	return nil
}

// Dropped counts publishes lost to full subscriber queues.
func (b *LocalBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
