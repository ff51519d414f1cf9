package coordinator

import (
	"encoding/json"

	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/game"
)

// Action is the closed set of things a client (or the transport on its
// behalf) can ask of a room. Execute switches over every variant.
type Action interface {
	Kind() string
	isAction()
}

type JoinRoom struct {
	RoomID       string
	AccessSecret string
	Name         string
	Avatar       string
	// BoardSize is required only when the room does not exist yet.
	BoardSize *int
	// PlayerID asks to resume an identity issued by an earlier join.
	PlayerID string
}

type PlaceSecret struct {
	Cell internal.Cell
}

type StartGame struct{}

type RevealCell struct {
	Cell internal.Cell
}

type RestartGame struct{}

type LeaveRoom struct{}

// Disconnect is issued by the transport when a socket goes away.
type Disconnect struct{}

type TransferHost struct {
	PlayerID string
}

func (JoinRoom) Kind() string     { return internal.MsgJoinRoom }
func (PlaceSecret) Kind() string  { return internal.MsgPlaceSecret }
func (StartGame) Kind() string    { return internal.MsgStartGame }
func (RevealCell) Kind() string   { return internal.MsgRevealCell }
func (RestartGame) Kind() string  { return internal.MsgRestartGame }
func (LeaveRoom) Kind() string    { return internal.MsgLeaveRoom }
func (Disconnect) Kind() string   { return "disconnect" }
func (TransferHost) Kind() string { return internal.MsgTransferHost }

func (JoinRoom) isAction()     {}
func (PlaceSecret) isAction()  {}
func (StartGame) isAction()    {}
func (RevealCell) isAction()   {}
func (RestartGame) isAction()  {}
func (LeaveRoom) isAction()    {}
func (Disconnect) isAction()   {}
func (TransferHost) isAction() {}

// Decode turns a wire message into an Action. Shape problems come back as
// validation errors for the requester.
func Decode(kind string, data json.RawMessage) (Action, error) {
	switch kind {
	case internal.MsgJoinRoom:
		var d internal.JoinRoomData
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return JoinRoom{
			RoomID:       d.RoomID,
			AccessSecret: d.AccessSecret,
			Name:         d.Name,
			Avatar:       d.Avatar,
			BoardSize:    d.BoardSize,
			PlayerID:     d.PlayerID,
		}, nil

	case internal.MsgPlaceSecret, internal.MsgPlacePoison:
		cell, err := decodeCell(data)
		if err != nil {
			return nil, err
		}
		return PlaceSecret{Cell: cell}, nil

	case internal.MsgStartGame:
		return StartGame{}, nil

	case internal.MsgRevealCell:
		cell, err := decodeCell(data)
		if err != nil {
			return nil, err
		}
		return RevealCell{Cell: cell}, nil

	case internal.MsgRestartGame:
		return RestartGame{}, nil

	case internal.MsgLeaveRoom:
		return LeaveRoom{}, nil

	case internal.MsgTransferHost:
		var d internal.TransferHostData
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		if d.PlayerID == "" {
			return nil, game.Invalid("missing player_id")
		}
		return TransferHost{PlayerID: d.PlayerID}, nil

	default:
		return nil, game.Invalid("unknown message type %q", kind)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return game.Invalid("missing message data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return game.Invalid("malformed message data: %v", err)
	}
	return nil
}

func decodeCell(data json.RawMessage) (internal.Cell, error) {
	var d internal.CellData
	if err := unmarshalData(data, &d); err != nil {
		return internal.Cell{}, err
	}
	if d.Cell == nil {
		return internal.Cell{}, game.Invalid("missing cell")
	}
	return *d.Cell, nil
}
