package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scythe504/poison-grid/internal"
)

// Handler receives every room snapshot published by any process. It may be
// called concurrently for different rooms but in publish order for one room.
type Handler func(ctx context.Context, room *internal.Room)

// Notifier is the change bus between processes. Every publish carries the
// full room, so a missed delivery is superseded by the next one.
type Notifier interface {
	Publish(ctx context.Context, room *internal.Room) error
	// Subscribe returns once the subscription is live. Deliveries stop when
	// ctx is done or the notifier is closed.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

func encodeState(room *internal.Room) ([]byte, error) {
	payload, err := json.Marshal(internal.Message[*internal.Room]{Type: internal.MsgState, Data: room})
	if err != nil {
		return nil, fmt.Errorf("pubsub: encode room %s: %w", room.Id, err)
	}
	return payload, nil
}

func decodeState(payload []byte) (*internal.Room, error) {
	var msg internal.Message[*internal.Room]
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("pubsub: decode: %w", err)
	}
	if msg.Type != internal.MsgState || msg.Data == nil {
		return nil, fmt.Errorf("pubsub: unexpected message %q", msg.Type)
	}
	if msg.Data.RevealedCells == nil {
		msg.Data.RevealedCells = make(map[internal.Cell]string)
	}
	return msg.Data, nil
}
