package game

import (
	"github.com/scythe504/poison-grid/internal"
)

// Outcome is the end-of-round verdict. At most one of WinnerID and Draw is set.
type Outcome struct {
	WinnerID string
	Draw     bool
}

func (o Outcome) Concluded() bool {
	return o.WinnerID != "" || o.Draw
}

// Evaluate is a pure function of the room; a win is checked before a draw.
func Evaluate(room *internal.Room) Outcome {
	if !room.Started {
		return Outcome{}
	}
	if winner := computeWinner(room); winner != "" {
		return Outcome{WinnerID: winner}
	}
	return Outcome{Draw: computeDraw(room)}
}

func computeWinner(room *internal.Room) string {
	winner := ""
	for _, p := range room.Players {
		if !p.IsActive() {
			continue
		}
		if winner != "" {
			return ""
		}
		winner = p.Id
	}
	return winner
}

// computeDraw: the unopened cells number exactly the players still in, and
// every one of them is somebody's secret, so no safe move is left.
func computeDraw(room *internal.Room) bool {
	active := room.ActivePlayerCount()
	if active == 0 {
		return false
	}

	unopened := 0
	for row := 0; row < room.BoardSize; row++ {
		for col := 0; col < room.BoardSize; col++ {
			cell := internal.Cell{Row: row, Col: col}
			if room.IsOpened(cell) {
				continue
			}
			if !room.IsPoison(cell) {
				return false
			}
			unopened++
		}
	}
	return unopened == active
}
