package game

import (
	"crypto/subtle"
	"time"

	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/utils"
)

// =============================================================================
// ROOM MEMBERSHIP
// =============================================================================

type JoinRequest struct {
	PlayerID string
	Name     string
	Avatar   string
	Secret   string
}

// NewRoom builds an empty room in the waiting phase. It is not persisted
// until the first Join is written against version 0.
func NewRoom(id string, boardSize int, secret string, capacity int, now time.Time) (*internal.Room, error) {
	if !utils.IsValidRoomID(id) {
		return nil, Invalid("room id must be 1-%d letters, digits, '-' or '_'", internal.MaxRoomIDLength)
	}
	if boardSize < internal.MinBoardSize || boardSize > internal.MaxBoardSize {
		return nil, Invalid("board size must be between %d and %d", internal.MinBoardSize, internal.MaxBoardSize)
	}
	if capacity < internal.MinPlayersToStart {
		capacity = internal.MaxPlayersPerRoom
	}

	return &internal.Room{
		Id:               id,
		BoardSize:        boardSize,
		AccessSecret:     secret,
		Capacity:         capacity,
		Players:          make([]internal.Player, 0, capacity),
		RevealedCells:    make(map[internal.Cell]string),
		PoisonHits:       make([]internal.Cell, 0),
		CurrentTurnIndex: 0,
		Version:          0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Join appends a new player. The first player to join becomes host.
func Join(room *internal.Room, req JoinRequest, now time.Time) (*internal.Room, error) {
	if req.PlayerID == "" {
		return nil, Invalid("missing player id")
	}
	name, err := utils.SanitizeDisplay(req.Name, internal.DefaultPlayerName, internal.MaxNameLength)
	if err != nil {
		return nil, Invalid("name: %v", err)
	}
	avatar, err := utils.SanitizeDisplay(req.Avatar, internal.DefaultPlayerAvatar, internal.MaxAvatarLength)
	if err != nil {
		return nil, Invalid("avatar: %v", err)
	}

	if !secretMatches(room.AccessSecret, req.Secret) {
		return nil, Violation("wrong room access secret")
	}
	if room.Started {
		return nil, Violation("the round has already started, cannot join")
	}
	if room.IsFull() {
		return nil, Violation("room is full (%d)", room.Capacity)
	}
	if room.GetPlayer(req.PlayerID) != nil {
		return nil, Violation("player %s is already in the room", req.PlayerID)
	}

	next := room.Clone()
	next.Players = append(next.Players, internal.Player{
		Id:        req.PlayerID,
		Name:      name,
		Avatar:    avatar,
		Alive:     true,
		Connected: true,
		JoinedAt:  now,
	})
	if next.HostId == "" {
		next.HostId = req.PlayerID
	}
	return next, nil
}

// Rejoin reattaches a known, disconnected identity. Alive status and turn
// order are left as they were; a player coming back to the lobby is alive
// again.
func Rejoin(room *internal.Room, playerID string, secret string) (*internal.Room, error) {
	if !secretMatches(room.AccessSecret, secret) {
		return nil, Violation("wrong room access secret")
	}
	existing := room.GetPlayer(playerID)
	if existing == nil {
		return nil, Violation("player %s is not part of room %s", playerID, room.Id)
	}
	// Only a dropped connection can be resumed; a live one keeps its seat.
	if existing.Connected {
		return nil, Violation("player %s is already connected", playerID)
	}

	next := room.Clone()
	player := next.GetPlayer(playerID)
	player.Connected = true
	if !next.Started {
		player.Alive = true
	}
	settleRound(next)
	return next, nil
}

// Leave is an explicit exit: the player is out of the round as well.
func Leave(room *internal.Room, playerID string) (*internal.Room, error) {
	return depart(room, playerID, true)
}

// Disconnect only drops transport liveness so the player can rejoin.
func Disconnect(room *internal.Room, playerID string) (*internal.Room, error) {
	return depart(room, playerID, false)
}

func depart(room *internal.Room, playerID string, explicit bool) (*internal.Room, error) {
	player := room.GetPlayer(playerID)
	if player == nil {
		return nil, Violation("player %s is not part of room %s", playerID, room.Id)
	}
	if !player.Connected && (!explicit || !player.Alive) {
		return nil, Violation("player %s has already left", playerID)
	}

	next := room.Clone()
	player = next.GetPlayer(playerID)
	player.Connected = false
	if explicit {
		player.Alive = false
	}
	settleRound(next)
	return next, nil
}

// TransferHost hands the privileged actions to another member.
func TransferHost(room *internal.Room, playerID string, target string) (*internal.Room, error) {
	if room.HostId != playerID {
		return nil, Violation("only the host can transfer host")
	}
	if target == playerID {
		return nil, Invalid("player %s is already host", target)
	}
	if room.GetPlayer(target) == nil {
		return nil, Invalid("player %s is not part of room %s", target, room.Id)
	}

	next := room.Clone()
	next.HostId = target
	return next, nil
}

func secretMatches(want, got string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
