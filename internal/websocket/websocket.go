package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/coordinator"
	"github.com/scythe504/poison-grid/internal/game"
	"go.uber.org/zap"
)

const defaultActionTimeout = 5 * time.Second

// =============================================================================
// WEBSOCKET CONNECTION HANDLING
// =============================================================================

// Handler serves /ws. One connection is bound to at most one player of one
// room at a time.
type Handler struct {
	coord    *coordinator.Coordinator
	hub      *Hub
	registry *Registry
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	// ActionTimeout bounds each action; it does not inherit the request
	// context so a disconnect still commits after the socket is gone.
	ActionTimeout time.Duration
}

func NewHandler(coord *coordinator.Coordinator, hub *Hub, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		coord:    coord,
		hub:      hub,
		registry: hub.Registry(),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ActionTimeout: defaultActionTimeout,
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("[HandleWebSocket] upgrade failed: %v", err)
		return
	}

	client := NewClient(conn)
	go client.writePump()

	defer h.disconnect(client)
	h.readLoop(client)
}

func (h *Handler) readLoop(client *Client) {
	client.prepareRead()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Infof("[HandleMessages] read error: %v", err)
			}
			return
		}

		var baseMsg internal.Message[json.RawMessage]
		if err := json.Unmarshal(raw, &baseMsg); err != nil {
			h.sendError(client, game.Invalid("malformed message: %v", err))
			continue
		}

		action, err := coordinator.Decode(baseMsg.Type, baseMsg.Data)
		if err != nil {
			h.sendError(client, err)
			continue
		}
		h.handle(client, action)
	}
}

// handle runs one action for client. Actions of a single connection run
// one after another; different connections run concurrently.
func (h *Handler) handle(client *Client, action coordinator.Action) {
	sess := h.session(client)

	ctx, cancel := context.WithTimeout(context.Background(), h.ActionTimeout)
	defer cancel()

	res, err := h.coord.Execute(ctx, sess, action)

	switch action.(type) {
	case coordinator.JoinRoom:
		if res.Room != nil && res.PlayerID != "" {
			h.registry.Attach(client, Binding{RoomID: res.Room.Id, PlayerID: res.PlayerID})
			h.send(client, internal.MsgJoined, internal.JoinedData{
				RoomID:   res.Room.Id,
				PlayerID: res.PlayerID,
				IsHost:   res.Room.HostId == res.PlayerID,
			})
			h.hub.SendState(client, h.latest(ctx, res.Room), res.PlayerID)
			h.log.Infof("[JoinRoom] Room %s: player %s joined (rejoin=%t)", res.Room.Id, res.PlayerID, res.Rejoined)
		}

	case coordinator.LeaveRoom:
		if err == nil || errors.Is(err, game.ErrRoomNotFound) {
			h.registry.Detach(client)
			h.send(client, internal.MsgLeft, internal.LeftData{})
			h.log.Infof("[LeaveRoom] Room %s: player %s left", sess.RoomID, sess.PlayerID)
			return
		}
	}

	if err != nil {
		h.sendError(client, err)
	}
}

// latest re-reads room once the connection is attached, so a commit
// published between the join and the attach is not missed.
func (h *Handler) latest(ctx context.Context, room *internal.Room) *internal.Room {
	current, err := h.coord.Room(ctx, room.Id)
	if err != nil {
		h.log.Debugf("[JoinRoom] Room %s: reload after attach: %v", room.Id, err)
		return room
	}
	if current.Version > room.Version {
		return current
	}
	return room
}

// disconnect unbinds a closed connection and marks its player disconnected.
func (h *Handler) disconnect(client *Client) {
	client.Close()

	binding, ok := h.registry.Detach(client)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.ActionTimeout)
	defer cancel()

	sess := coordinator.Session{RoomID: binding.RoomID, PlayerID: binding.PlayerID}
	if _, err := h.coord.Execute(ctx, sess, coordinator.Disconnect{}); err != nil {
		var ruleErr *game.RuleError
		if errors.As(err, &ruleErr) {
			h.log.Debugf("[Disconnect] Room %s: player %s: %s", binding.RoomID, binding.PlayerID, ruleErr.Message)
			return
		}
		h.log.Errorf("[Disconnect] Room %s: player %s: %v", binding.RoomID, binding.PlayerID, err)
		return
	}
	h.log.Infof("[Disconnect] Room %s: player %s disconnected", binding.RoomID, binding.PlayerID)
}

func (h *Handler) session(client *Client) coordinator.Session {
	b, ok := h.registry.BindingOf(client)
	if !ok {
		return coordinator.Session{}
	}
	return coordinator.Session{RoomID: b.RoomID, PlayerID: b.PlayerID}
}

func (h *Handler) sendError(client *Client, err error) {
	data := internal.ErrorData{Message: err.Error()}

	var ruleErr *game.RuleError
	switch {
	case errors.As(err, &ruleErr):
		data.Message = ruleErr.Message
	case errors.Is(err, coordinator.ErrRetry):
		data.Retryable = true
	case errors.Is(err, coordinator.ErrUnavailable):
		// Backend detail stays in the log.
		data.Message = coordinator.ErrUnavailable.Error()
		data.Retryable = true
	}
	h.send(client, internal.MsgError, data)
}

func (h *Handler) send(client *Client, kind string, data any) {
	payload, err := json.Marshal(internal.Message[any]{Type: kind, Data: data})
	if err != nil {
		h.log.Errorf("[Send] encode %s: %v", kind, err)
		return
	}
	client.Send(payload)
}
