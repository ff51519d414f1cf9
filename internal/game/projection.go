package game

import (
	"slices"

	"github.com/scythe504/poison-grid/internal"
)

// Project renders the room as seen by viewerID. The output depends only on
// its inputs, so the same room always projects to the same view.
func Project(room *internal.Room, viewerID string) internal.StateView {
	outcome := Evaluate(room)

	view := internal.StateView{
		RoomID:     room.Id,
		BoardSize:  room.BoardSize,
		Phase:      room.Phase(),
		Started:    room.Started,
		Finished:   room.Finished,
		Players:    make([]internal.PlayerView, 0, len(room.Players)),
		Reveals:    make([]internal.RevealView, 0, len(room.RevealedCells)),
		PoisonHits: append(make([]internal.Cell, 0, len(room.PoisonHits)), room.PoisonHits...),
		WinnerID:   outcome.WinnerID,
		Draw:       outcome.Draw,
		YourID:     viewerID,
		Version:    room.Version,
	}

	for _, p := range room.Players {
		view.Players = append(view.Players, internal.PlayerView{
			ID:              p.Id,
			Name:            p.Name,
			Avatar:          p.Avatar,
			Alive:           p.Alive,
			Connected:       p.Connected,
			HasPlacedSecret: p.HasPlacedSecret(),
			IsHost:          p.Id == room.HostId,
		})
		if p.Id == viewerID && p.PoisonPosition != nil {
			own := *p.PoisonPosition
			view.YourSecret = &own
		}
	}

	for cell, by := range room.RevealedCells {
		view.Reveals = append(view.Reveals, internal.RevealView{Cell: cell, By: by})
	}
	slices.SortFunc(view.Reveals, func(a, b internal.RevealView) int {
		if a.Cell.Row != b.Cell.Row {
			return a.Cell.Row - b.Cell.Row
		}
		return a.Cell.Col - b.Cell.Col
	})

	if current := room.CurrentPlayer(); current != nil {
		view.CurrentPlayerID = current.Id
	}
	return view
}
