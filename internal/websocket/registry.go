package websocket

import (
	"sync"
)

// Sender is anything a serialized message can be queued on. Send must not
// block; false means the message was not queued.
type Sender interface {
	Send(payload []byte) bool
}

// Binding ties a live connection to one player of one room.
type Binding struct {
	RoomID   string
	PlayerID string
}

type Recipient struct {
	Sender   Sender
	PlayerID string
}

// registered is the registry's view of one bound connection.
type registered struct {
	binding Binding

	// mu keeps the version check and the enqueue together so the
	// connection never sees an older version after a newer one.
	mu       sync.Mutex
	lastSent int64
	sent     bool
}

type delivery int

const (
	deliverOK delivery = iota
	deliverStale
	deliverRefused
)

// Registry is process-local: which connection belongs to which player of
// which room, and the last room version each connection was sent.
type Registry struct {
	mu    sync.RWMutex
	conns map[Sender]*registered
	rooms map[string]map[Sender]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[Sender]*registered),
		rooms: make(map[string]map[Sender]struct{}),
	}
}

// Attach binds s, replacing any previous binding it had.
func (r *Registry) Attach(s Sender, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(s)
	r.conns[s] = &registered{binding: b}
	members, ok := r.rooms[b.RoomID]
	if !ok {
		members = make(map[Sender]struct{})
		r.rooms[b.RoomID] = members
	}
	members[s] = struct{}{}
}

// Detach removes s and returns what it was bound to.
func (r *Registry) Detach(s Sender) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(s)
}

func (r *Registry) detachLocked(s Sender) (Binding, bool) {
	c, ok := r.conns[s]
	if !ok {
		return Binding{}, false
	}
	delete(r.conns, s)
	if members := r.rooms[c.binding.RoomID]; members != nil {
		delete(members, s)
		if len(members) == 0 {
			delete(r.rooms, c.binding.RoomID)
		}
	}
	return c.binding, true
}

func (r *Registry) BindingOf(s Sender) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[s]
	if !ok {
		return Binding{}, false
	}
	return c.binding, true
}

// ConnectionsFor lists the local connections of a room.
func (r *Registry) ConnectionsFor(roomID string) []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Recipient, 0, len(members))
	for s := range members {
		out = append(out, Recipient{Sender: s, PlayerID: r.conns[s].binding.PlayerID})
	}
	return out
}

// Count is the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// deliver queues payload on s unless s was already sent a later version.
// Repeating the same version is allowed. Unbound senders always pass.
// Only s is locked while it is checked and queued.
func (r *Registry) deliver(s Sender, version int64, payload []byte) delivery {
	r.mu.RLock()
	c := r.conns[s]
	r.mu.RUnlock()

	if c == nil {
		if !s.Send(payload) {
			return deliverRefused
		}
		return deliverOK
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent && version < c.lastSent {
		return deliverStale
	}
	if !s.Send(payload) {
		return deliverRefused
	}
	c.lastSent, c.sent = version, true
	return deliverOK
}
