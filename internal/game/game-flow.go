package game

import (
	"github.com/scythe504/poison-grid/internal"
)

// =============================================================================
// GAME FLOW - TURNS
// =============================================================================

// Reveal opens a cell for the player on turn. Hitting any secret cell, the
// player's own included, eliminates the revealer.
func Reveal(room *internal.Room, playerID string, cell internal.Cell) (*internal.Room, error) {
	if !room.Started {
		return nil, Violation("the round has not started")
	}
	if room.Finished {
		return nil, Violation("the round is over")
	}
	player := room.GetPlayer(playerID)
	if player == nil || !player.Alive {
		return nil, Violation("you are out of the round or not in the room")
	}
	current := room.GetPlayerByIndex(room.CurrentTurnIndex)
	if current == nil || current.Id != playerID {
		return nil, Violation("it is not your turn")
	}
	if !room.InBounds(cell) {
		return nil, Invalid("cell %s is outside the %dx%d board", cell, room.BoardSize, room.BoardSize)
	}
	if room.IsOpened(cell) {
		return nil, Violation("cell %s is already open", cell)
	}

	next := room.Clone()
	if next.IsPoison(cell) {
		next.PoisonHits = append(next.PoisonHits, cell)
		next.GetPlayer(playerID).Alive = false
	} else {
		next.RevealedCells[cell] = playerID
	}

	advanceTurn(next)
	if Evaluate(next).Concluded() {
		next.Finished = true
	}
	return next, nil
}

// advanceTurn moves to the next alive and connected player, wrapping around.
// The index is left alone when nobody qualifies.
func advanceTurn(room *internal.Room) {
	n := len(room.Players)
	for step := 1; step <= n; step++ {
		idx := (room.CurrentTurnIndex + step) % n
		if room.Players[idx].IsActive() {
			room.CurrentTurnIndex = idx
			return
		}
	}
}

// settleRound restores the turn invariant after someone drops out of a
// round in progress and closes the round if that decided it.
func settleRound(room *internal.Room) {
	if !inProgress(room) {
		return
	}
	if cur := room.GetPlayerByIndex(room.CurrentTurnIndex); cur == nil || !cur.IsActive() {
		advanceTurn(room)
	}
	if Evaluate(room).Concluded() {
		room.Finished = true
	}
}

func inProgress(room *internal.Room) bool {
	return room.Started && !room.Finished
}
