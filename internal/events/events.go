// Package events publishes match lifecycle notifications to NATS for
// downstream consumers such as rating or achievement workers.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/match"
)

const DefaultSubjectPrefix = "arena.match"

// Publisher is the part of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Player struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Guest  bool   `json:"guest"`
}

// Lifecycle is the payload of both started and finished notifications.
type Lifecycle struct {
	Code        string            `json:"code"`
	Status      string            `json:"status"`
	TimeControl match.TimeControl `json:"time_control"`
	White       *Player           `json:"white,omitempty"`
	Black       *Player           `json:"black,omitempty"`
	Result      string            `json:"result,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Plies       int               `json:"plies"`
	MovesUCI    []string          `json:"moves_uci,omitempty"`
	Version     int64             `json:"version"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
}

// Connect dials url with reconnect logging wired to log.
func Connect(url string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("cheese-arena"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats_reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	return nc, nil
}

// Notifier turns game_started and game_over into published messages.
type Notifier struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
	q      *match.AsyncListener
}

func NewNotifier(pub Publisher, prefix string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	n := &Notifier{pub: pub, prefix: prefix, log: log}
	n.q = match.NewAsyncListener(256, log, n.handle)
	return n
}

// Track subscribes n to s.
func (n *Notifier) Track(s *match.Session) { s.Subscribe(n.q.Listen) }

// Close drains queued notifications.
func (n *Notifier) Close() { n.q.Close() }

func (n *Notifier) Subject(kind string) string { return n.prefix + "." + kind }

func (n *Notifier) handle(ev match.Event) {
	var kind string
	switch ev.Kind {
	case match.EventStarted:
		kind = "started"
	case match.EventGameOver:
		kind = "finished"
	default:
		return
	}
	if ev.Snapshot == nil {
		return
	}
	data, err := json.Marshal(lifecycleOf(*ev.Snapshot, kind == "finished"))
	if err != nil {
		n.log.Error("events_encode_error", zap.String("code", ev.Snapshot.Code), zap.Error(err))
		return
	}
	subject := n.Subject(kind)
	if err := n.pub.Publish(subject, data); err != nil {
		n.log.Warn("events_publish_error", zap.String("subject", subject), zap.String("code", ev.Snapshot.Code), zap.Error(err))
		return
	}
	n.log.Debug("events_published", zap.String("subject", subject), zap.String("code", ev.Snapshot.Code))
}

func lifecycleOf(snap match.Snapshot, withMoves bool) Lifecycle {
	out := Lifecycle{
		Code:        snap.Code,
		Status:      string(snap.Status),
		TimeControl: snap.TimeControl,
		White:       playerOf(snap.White),
		Black:       playerOf(snap.Black),
		Result:      string(snap.Result),
		Reason:      string(snap.Reason),
		Plies:       snap.Ply,
		Version:     snap.Version,
		StartedAt:   optTime(snap.StartedAt),
		EndedAt:     optTime(snap.EndedAt),
	}
	if withMoves {
		out.MovesUCI = snap.MovesUCI
	}
	return out
}

func playerOf(p *match.PlayerView) *Player {
	if p == nil {
		return nil
	}
	return &Player{UserID: p.Identity.UserID, Name: p.Identity.Name, Guest: p.Identity.Guest}
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
