package internal

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Client -> server message kinds
const (
	MsgJoinRoom     = "join_room"
	MsgPlaceSecret  = "place_secret"
	MsgPlacePoison  = "place_poison" // legacy alias of place_secret
	MsgStartGame    = "start_game"
	MsgRevealCell   = "reveal_cell"
	MsgRestartGame  = "restart_game"
	MsgLeaveRoom    = "leave_room"
	MsgTransferHost = "transfer_host"
)

// Server -> client message kinds
const (
	MsgJoined = "joined"
	MsgState  = "state"
	MsgError  = "error"
	MsgLeft   = "left"
)

type JoinRoomData struct {
	RoomID       string `json:"room_id"`
	AccessSecret string `json:"access_secret,omitempty"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	BoardSize    *int   `json:"board_size,omitempty"`
	// PlayerID is set when reconnecting with an identity issued earlier.
	PlayerID string `json:"player_id,omitempty"`
}

type CellData struct {
	Cell *Cell `json:"cell"`
}

type TransferHostData struct {
	PlayerID string `json:"player_id"`
}

type JoinedData struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	IsHost   bool   `json:"is_host"`
}

type ErrorData struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type LeftData struct{}

// StateView is the viewer-scoped projection of a Room. It never carries
// another player's secret cell.
type StateView struct {
	RoomID          string       `json:"room_id"`
	BoardSize       int          `json:"board_size"`
	Phase           GamePhase    `json:"phase"`
	Started         bool         `json:"started"`
	Finished        bool         `json:"finished"`
	Players         []PlayerView `json:"players"`
	Reveals         []RevealView `json:"reveals"`
	PoisonHits      []Cell       `json:"poison_hits"`
	CurrentPlayerID string       `json:"current_player_id,omitempty"`
	WinnerID        string       `json:"winner_id,omitempty"`
	Draw            bool         `json:"draw"`
	YourID          string       `json:"your_id"`
	YourSecret      *Cell        `json:"your_secret,omitempty"`
	Version         int64        `json:"version"`
}

type PlayerView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Avatar          string `json:"avatar"`
	Alive           bool   `json:"alive"`
	Connected       bool   `json:"connected"`
	HasPlacedSecret bool   `json:"has_placed_secret"`
	IsHost          bool   `json:"is_host"`
}

type RevealView struct {
	Cell Cell   `json:"cell"`
	By   string `json:"by"`
}
