package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/game"
	"go.uber.org/zap"
)

// =============================================================================
// FAN-OUT
// =============================================================================

// Hub turns published room snapshots into per-viewer state messages for the
// connections of this process.
type Hub struct {
	registry *Registry
	log      *zap.SugaredLogger

	delivered atomic.Int64
	stale     atomic.Int64
	failed    atomic.Int64
}

func NewHub(registry *Registry, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{registry: registry, log: log}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Deliver is the notifier handler.
func (h *Hub) Deliver(ctx context.Context, room *internal.Room) {
	recipients := h.registry.ConnectionsFor(room.Id)
	if len(recipients) == 0 {
		return
	}
	for _, rc := range recipients {
		h.SendState(rc.Sender, room, rc.PlayerID)
	}
}

// SendState sends viewerID's projection of room to s. Versions older than
// what s was last sent are skipped.
func (h *Hub) SendState(s Sender, room *internal.Room, viewerID string) bool {
	payload, err := json.Marshal(internal.Message[internal.StateView]{
		Type: internal.MsgState,
		Data: game.Project(room, viewerID),
	})
	if err != nil {
		h.log.Errorf("[SendState] Room %s: encode state for %s: %v", room.Id, viewerID, err)
		return false
	}

	switch h.registry.deliver(s, room.Version, payload) {
	case deliverStale:
		h.stale.Add(1)
		return false
	case deliverRefused:
		h.failed.Add(1)
		h.log.Warnf("[SendState] Room %s: state v%d not queued for %s", room.Id, room.Version, viewerID)
		return false
	}
	h.delivered.Add(1)
	return true
}

// Stats reports fan-out counters for /metrics.
func (h *Hub) Stats() map[string]any {
	return map[string]any{
		"connections": h.registry.Count(),
		"deliveries":  h.delivered.Load(),
		"stale":       h.stale.Load(),
		"send_failed": h.failed.Load(),
	}
}
