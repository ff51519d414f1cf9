package internal

import (
	"maps"
	"time"
)

const (
	MinBoardSize        = 5
	MaxBoardSize        = 10
	MaxPlayersPerRoom   = 5
	MinPlayersToStart   = 2
	MaxNameLength       = 20
	MaxAvatarLength     = 8
	MaxRoomIDLength     = 32
	DefaultPlayerName   = "Player"
	DefaultPlayerAvatar = "🪄"
)

type GamePhase string

const (
	PhaseWaiting  GamePhase = "waiting"
	PhaseStarted  GamePhase = "started"
	PhaseFinished GamePhase = "finished"
)

type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}

// Room is the whole shared state of one game. It is only ever replaced
// wholesale through a versioned write, never patched in place.
type Room struct {
	Id           string `json:"id"`
	BoardSize    int    `json:"board_size"`
	AccessSecret string `json:"access_secret,omitempty"`
	Capacity     int    `json:"capacity"`

	// Turn order is the slice order.
	Players []Player `json:"players"`

	// Game State
	Started          bool            `json:"started"`
	Finished         bool            `json:"finished"`
	CurrentTurnIndex int             `json:"current_turn_index"`
	RevealedCells    map[Cell]string `json:"revealed_cells"`
	PoisonHits       []Cell          `json:"poison_hits"`
	HostId           string          `json:"host_id"`

	// Concurrency control
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Player struct {
	Id             string    `json:"id"`
	Name           string    `json:"name"`
	Avatar         string    `json:"avatar"`
	PoisonPosition *Cell     `json:"poison_position,omitempty"`
	Alive          bool      `json:"alive"`
	Connected      bool      `json:"connected"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Clone returns a deep copy so callers can derive a new Room without
// touching the one they loaded.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = make([]Player, len(r.Players))
	for i, p := range r.Players {
		if p.PoisonPosition != nil {
			cell := *p.PoisonPosition
			p.PoisonPosition = &cell
		}
		c.Players[i] = p
	}
	c.RevealedCells = make(map[Cell]string, len(r.RevealedCells))
	maps.Copy(c.RevealedCells, r.RevealedCells)
	c.PoisonHits = append(make([]Cell, 0, len(r.PoisonHits)), r.PoisonHits...)
	return &c
}

func (r *Room) Phase() GamePhase {
	switch {
	case r.Finished:
		return PhaseFinished
	case r.Started:
		return PhaseStarted
	default:
		return PhaseWaiting
	}
}

func (r *Room) PlayerIndex(playerID string) int {
	for i := range r.Players {
		if r.Players[i].Id == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) GetPlayer(playerID string) *Player {
	if idx := r.PlayerIndex(playerID); idx >= 0 {
		return &r.Players[idx]
	}
	return nil
}

func (r *Room) GetPlayerByIndex(index int) *Player {
	if index < 0 || index >= len(r.Players) {
		return nil
	}
	return &r.Players[index]
}

// CurrentPlayer is nil outside of a round in progress.
func (r *Room) CurrentPlayer() *Player {
	if !r.Started || r.Finished {
		return nil
	}
	return r.GetPlayerByIndex(r.CurrentTurnIndex)
}

func (r *Room) ActivePlayerCount() int {
	count := 0
	for _, p := range r.Players {
		if p.Alive && p.Connected {
			count++
		}
	}
	return count
}

func (r *Room) ConnectedCount() int {
	count := 0
	for _, p := range r.Players {
		if p.Connected {
			count++
		}
	}
	return count
}

func (r *Room) HasConnectedPlayers() bool {
	return r.ConnectedCount() > 0
}

func (r *Room) IsFull() bool {
	return len(r.Players) >= r.Capacity
}

func (r *Room) AllSecretsPlaced() bool {
	for _, p := range r.Players {
		if p.PoisonPosition == nil {
			return false
		}
	}
	return true
}

func (r *Room) InBounds(c Cell) bool {
	return c.Row >= 0 && c.Col >= 0 && c.Row < r.BoardSize && c.Col < r.BoardSize
}

func (r *Room) IsOpened(c Cell) bool {
	if _, ok := r.RevealedCells[c]; ok {
		return true
	}
	for _, hit := range r.PoisonHits {
		if hit == c {
			return true
		}
	}
	return false
}

// IsPoison reports whether c is any player's secret cell.
func (r *Room) IsPoison(c Cell) bool {
	for _, p := range r.Players {
		if p.PoisonPosition != nil && *p.PoisonPosition == c {
			return true
		}
	}
	return false
}

func (p *Player) HasPlacedSecret() bool {
	return p.PoisonPosition != nil
}

func (p *Player) IsActive() bool {
	return p.Alive && p.Connected
}
