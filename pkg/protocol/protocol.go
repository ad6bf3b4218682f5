// Package protocol defines the match stream wire format.
//
// Every frame is a flat JSON object tagged by "type". The set of message kinds is
// closed: decoding rejects unknown types, unknown fields and trailing data.
package protocol

import "time"

// Type tags a frame.
type Type string

// Client to server.
const (
	TypeMove         Type = "move"
	TypeResign       Type = "resign"
	TypeTimeoutClaim Type = "timeout_claim"
)

// Server to client.
const (
	TypeSnapshot         Type = "snapshot"
	TypeMoveApplied      Type = "move_applied"
	TypeGameOver         Type = "game_over"
	TypePlayerJoined     Type = "player_joined"
	TypePeerDisconnected Type = "peer_disconnected"
	TypePeerReconnected  Type = "peer_reconnected"
	TypeRejected         Type = "rejected"
)

// ClientMessage is implemented by Move, Resign and TimeoutClaim only.
type ClientMessage interface {
	ClientType() Type
}

// ServerMessage is implemented by the server frame types in this package only.
type ServerMessage interface {
	ServerType() Type
}

type Move struct {
	UCI       string `json:"uci"`
	Version   *int64 `json:"version,omitempty"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

type Resign struct{}

type TimeoutClaim struct {
	Color string `json:"color"`
}

func (Move) ClientType() Type         { return TypeMove }
func (Resign) ClientType() Type       { return TypeResign }
func (TimeoutClaim) ClientType() Type { return TypeTimeoutClaim }

// Clocks carries remaining time in milliseconds.
type Clocks struct {
	WhiteMs int64 `json:"white_ms"`
	BlackMs int64 `json:"black_ms"`
}

type TimeControl struct {
	InitialSeconds   int    `json:"initial_seconds"`
	IncrementSeconds int    `json:"increment_seconds"`
	Preset           string `json:"preset,omitempty"`
}

type Player struct {
	Seat      string `json:"seat"`
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	Guest     bool   `json:"guest"`
	Connected bool   `json:"connected"`
}

// Snapshot is the full authoritative session state.
type Snapshot struct {
	Code         string      `json:"code"`
	Status       string      `json:"status"`
	TimeControl  TimeControl `json:"time_control"`
	CreatorColor string      `json:"creator_color"`
	FEN          string      `json:"fen"`
	MovesUCI     []string    `json:"moves_uci"`
	MovesSAN     []string    `json:"moves_san"`
	Ply          int         `json:"ply"`
	Turn         string      `json:"turn"`
	Clocks       Clocks      `json:"clocks"`
	White        *Player     `json:"white,omitempty"`
	Black        *Player     `json:"black,omitempty"`
	Result       string      `json:"result,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Version      int64       `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	LastMoveAt   *time.Time  `json:"last_move_at,omitempty"`
	ServerTime   time.Time   `json:"server_time"`
}

type MoveApplied struct {
	UCI     string `json:"uci"`
	SAN     string `json:"san"`
	FEN     string `json:"fen"`
	Ply     int    `json:"ply"`
	By      string `json:"by"`
	Clocks  Clocks `json:"clocks"`
	Turn    string `json:"turn"`
	Version int64  `json:"version"`
}

type GameOver struct {
	Result  string `json:"result"`
	Reason  string `json:"reason"`
	Clocks  Clocks `json:"clocks"`
	Version int64  `json:"version"`
}

type PlayerJoined struct {
	Seat     string `json:"seat"`
	Identity Player `json:"identity"`
}

type PeerDisconnected struct {
	Seat string `json:"seat"`
}

type PeerReconnected struct {
	Seat string `json:"seat"`
}

// Rejected is sent only to the connection whose request failed.
type Rejected struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	Version int64  `json:"version"`
}

func (Snapshot) ServerType() Type         { return TypeSnapshot }
func (MoveApplied) ServerType() Type      { return TypeMoveApplied }
func (GameOver) ServerType() Type         { return TypeGameOver }
func (PlayerJoined) ServerType() Type     { return TypePlayerJoined }
func (PeerDisconnected) ServerType() Type { return TypePeerDisconnected }
func (PeerReconnected) ServerType() Type  { return TypePeerReconnected }
func (Rejected) ServerType() Type         { return TypeRejected }
