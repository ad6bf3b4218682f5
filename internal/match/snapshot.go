package match

import (
	"time"

	"github.com/park285/cheese-arena/pkg/protocol"
)

// PlayerView is a seat as exposed to clients.
type PlayerView struct {
	Seat      Color    `json:"seat"`
	Identity  Identity `json:"identity"`
	Connected bool     `json:"connected"`
}

// Snapshot is a copy of session state safe to hand out.
type Snapshot struct {
	Code         string
	Status       Status
	TimeControl  TimeControl
	CreatorColor Color
	FEN          string
	MovesUCI     []string
	MovesSAN     []string
	Ply          int
	Turn         Color
	Clocks       Clocks
	White        *PlayerView
	Black        *PlayerView
	Result       Result
	Reason       Reason
	Version      int64
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	LastMoveAt   time.Time
	ServerTime   time.Time
}

// Wire converts the snapshot into its protocol frame.
func (s Snapshot) Wire() protocol.Snapshot {
	return protocol.Snapshot{
		Code:         s.Code,
		Status:       string(s.Status),
		TimeControl:  protocol.TimeControl(s.TimeControl),
		CreatorColor: s.CreatorColor.String(),
		FEN:          s.FEN,
		MovesUCI:     nonNil(s.MovesUCI),
		MovesSAN:     nonNil(s.MovesSAN),
		Ply:          s.Ply,
		Turn:         s.Turn.String(),
		Clocks:       protocol.Clocks(s.Clocks),
		White:        s.White.wire(),
		Black:        s.Black.wire(),
		Result:       string(s.Result),
		Reason:       string(s.Reason),
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		StartedAt:    optTime(s.StartedAt),
		EndedAt:      optTime(s.EndedAt),
		LastMoveAt:   optTime(s.LastMoveAt),
		ServerTime:   s.ServerTime,
	}
}

func (p *PlayerView) wire() *protocol.Player {
	if p == nil {
		return nil
	}
	w := p.Wire()
	return &w
}

func (p PlayerView) Wire() protocol.Player {
	return protocol.Player{
		Seat:      p.Seat.String(),
		UserID:    p.Identity.UserID,
		Name:      p.Identity.Name,
		Guest:     p.Identity.Guest,
		Connected: p.Connected,
	}
}

// Wire converts an event into the frame broadcast to the session's connections.
// EventStarted is sent as a fresh snapshot.
func (ev Event) Wire() protocol.ServerMessage {
	switch ev.Kind {
	case EventPlayerJoined:
		var player protocol.Player
		if ev.Player != nil {
			player = ev.Player.Wire()
		}
		return protocol.PlayerJoined{Seat: ev.Seat.String(), Identity: player}
	case EventStarted:
		if ev.Snapshot != nil {
			return ev.Snapshot.Wire()
		}
	case EventMoveApplied:
		if m := ev.Move; m != nil {
			return protocol.MoveApplied{
				UCI: m.UCI, SAN: m.SAN, FEN: m.FEN, Ply: m.Ply,
				By: m.By.String(), Turn: m.Turn.String(),
				Clocks: protocol.Clocks(m.Clocks), Version: ev.Version,
			}
		}
	case EventGameOver:
		if o := ev.Over; o != nil {
			return protocol.GameOver{Result: string(o.Result), Reason: string(o.Reason), Clocks: protocol.Clocks(o.Clocks), Version: ev.Version}
		}
	case EventPeerDisconnected:
		return protocol.PeerDisconnected{Seat: ev.Seat.String()}
	case EventPeerReconnected:
		return protocol.PeerReconnected{Seat: ev.Seat.String()}
	}
	return nil
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
