package game

import (
	"fmt"

	"github.com/scythe504/poison-grid/internal"
)

// Validate checks the invariants every accepted transition must keep. The
// coordinator runs it before each write so a bad room never gets stored.
func Validate(room *internal.Room) error {
	if room.BoardSize < internal.MinBoardSize || room.BoardSize > internal.MaxBoardSize {
		return fmt.Errorf("board size %d out of range", room.BoardSize)
	}
	if len(room.Players) > room.Capacity {
		return fmt.Errorf("%d players exceed capacity %d", len(room.Players), room.Capacity)
	}

	seen := make(map[string]bool, len(room.Players))
	for _, p := range room.Players {
		if seen[p.Id] {
			return fmt.Errorf("duplicate player %s", p.Id)
		}
		seen[p.Id] = true
		if p.PoisonPosition != nil && !room.InBounds(*p.PoisonPosition) {
			return fmt.Errorf("secret of %s out of bounds", p.Id)
		}
	}
	if len(room.Players) > 0 && !seen[room.HostId] {
		return fmt.Errorf("host %q is not a member", room.HostId)
	}

	if len(room.Players) == 2 {
		a, b := room.Players[0].PoisonPosition, room.Players[1].PoisonPosition
		if a != nil && b != nil && *a == *b {
			return fmt.Errorf("two-player secrets overlap at %s", *a)
		}
	}

	for cell, by := range room.RevealedCells {
		if !room.InBounds(cell) {
			return fmt.Errorf("revealed cell %s out of bounds", cell)
		}
		if !seen[by] {
			return fmt.Errorf("revealed cell %s attributed to unknown player %s", cell, by)
		}
	}
	hits := make(map[internal.Cell]bool, len(room.PoisonHits))
	for _, cell := range room.PoisonHits {
		if !room.InBounds(cell) {
			return fmt.Errorf("poison hit %s out of bounds", cell)
		}
		if hits[cell] {
			return fmt.Errorf("poison hit %s recorded twice", cell)
		}
		hits[cell] = true
		if _, ok := room.RevealedCells[cell]; ok {
			return fmt.Errorf("cell %s is both revealed and hit", cell)
		}
	}

	if inProgress(room) && room.ActivePlayerCount() > 0 {
		cur := room.GetPlayerByIndex(room.CurrentTurnIndex)
		if cur == nil || !cur.IsActive() {
			return fmt.Errorf("turn index %d does not point at an active player", room.CurrentTurnIndex)
		}
	}
	if inProgress(room) && Evaluate(room).Concluded() {
		return fmt.Errorf("round is decided but not finished")
	}
	return nil
}
