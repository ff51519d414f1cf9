package game

import (
	"github.com/scythe504/poison-grid/internal"
)

// =============================================================================
// GAME FLOW - LOBBY, START & RESTART
// =============================================================================

// PlaceSecret records the player's poison cell for this round. Placing again
// before the start overwrites the previous choice.
func PlaceSecret(room *internal.Room, playerID string, cell internal.Cell) (*internal.Room, error) {
	if room.Started {
		return nil, Violation("the round has started, secrets can no longer change")
	}
	if !room.InBounds(cell) {
		return nil, Invalid("cell %s is outside the %dx%d board", cell, room.BoardSize, room.BoardSize)
	}
	if room.GetPlayer(playerID) == nil {
		return nil, Violation("player %s is not part of room %s", playerID, room.Id)
	}

	next := room.Clone()
	player := next.GetPlayer(playerID)

	if len(next.Players) == 2 {
		for i := range next.Players {
			opponent := &next.Players[i]
			if opponent.Id == playerID || opponent.PoisonPosition == nil {
				continue
			}
			if *opponent.PoisonPosition == cell {
				// Rejecting alone would tell the requester where the opponent's
				// secret is, so both are wiped.
				opponent.PoisonPosition = nil
				player.PoisonPosition = nil
				return next, ErrSecretCollision
			}
		}
	}

	placed := cell
	player.PoisonPosition = &placed
	return next, nil
}

// Start begins the round. Only the host may start, and every player needs a
// secret cell first.
func Start(room *internal.Room, playerID string) (*internal.Room, error) {
	if room.Started {
		return nil, Violation("the round has already started")
	}
	if room.HostId != playerID {
		return nil, Violation("only the host can start the round")
	}
	if len(room.Players) < internal.MinPlayersToStart {
		return nil, Violation("at least %d players are needed", internal.MinPlayersToStart)
	}
	if room.ActivePlayerCount() < internal.MinPlayersToStart {
		return nil, Violation("at least %d connected players are needed", internal.MinPlayersToStart)
	}
	if !room.AllSecretsPlaced() {
		return nil, Violation("not every player has placed a secret cell")
	}

	next := room.Clone()
	next.Started = true
	next.Finished = false
	next.CurrentTurnIndex = 0
	if first := next.GetPlayerByIndex(0); first == nil || !first.IsActive() {
		advanceTurn(next)
	}
	settleRound(next)
	return next, nil
}

// Restart returns a finished room to the waiting phase, keeping its players,
// host and board.
func Restart(room *internal.Room, playerID string) (*internal.Room, error) {
	if room.HostId != playerID {
		return nil, Violation("only the host can restart")
	}
	if !room.Finished {
		return nil, Violation("the round is not finished yet")
	}

	next := room.Clone()
	next.Started = false
	next.Finished = false
	next.RevealedCells = make(map[internal.Cell]string)
	next.PoisonHits = make([]internal.Cell, 0)
	next.CurrentTurnIndex = 0
	for i := range next.Players {
		next.Players[i].PoisonPosition = nil
		next.Players[i].Alive = true
		next.Players[i].Connected = true
	}
	return next, nil
}
