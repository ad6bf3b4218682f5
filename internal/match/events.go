package match

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventPlayerJoined     EventKind = "player_joined"
	EventStarted          EventKind = "game_started"
	EventMoveApplied      EventKind = "move_applied"
	EventGameOver         EventKind = "game_over"
	EventPeerDisconnected EventKind = "peer_disconnected"
	EventPeerReconnected  EventKind = "peer_reconnected"
)

// Clocks holds remaining milliseconds per color.
type Clocks struct {
	WhiteMs int64 `json:"white_ms"`
	BlackMs int64 `json:"black_ms"`
}

type MoveApplied struct {
	UCI       string
	SAN       string
	FEN       string
	Ply       int
	By        Color
	Turn      Color
	Clocks    Clocks
	ElapsedMs int64
}

type GameOver struct {
	Result Result
	Reason Reason
	Clocks Clocks
}

// Event is one accepted transition. Only the field matching Kind is set, except
// Snapshot which accompanies EventStarted and EventGameOver.
type Event struct {
	Kind     EventKind
	Code     string
	Version  int64
	At       time.Time
	Seat     Color
	Player   *PlayerView
	Move     *MoveApplied
	Over     *GameOver
	Snapshot *Snapshot
}

// Listener receives events under the session lock, in acceptance order.
// Implementations must not block and must not call back into the session.
type Listener func(Event)

// AsyncListener decouples slow consumers (database, broker) from the session lock.
// Events are dropped with a warning when the buffer is full.
type AsyncListener struct {
	ch     chan Event
	fn     func(Event)
	log    *zap.Logger
	done   chan struct{}
	closed sync.Once
	mu     sync.RWMutex
	stop   bool
}

func NewAsyncListener(buffer int, log *zap.Logger, fn func(Event)) *AsyncListener {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &AsyncListener{ch: make(chan Event, buffer), fn: fn, log: log, done: make(chan struct{})}
	go a.loop()
	return a
}

func (a *AsyncListener) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.fn(ev)
	}
}

// Listen is the Listener to subscribe.
func (a *AsyncListener) Listen(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stop {
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.log.Warn("async_listener_drop", zap.String("code", ev.Code), zap.String("kind", string(ev.Kind)), zap.Int64("version", ev.Version))
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (a *AsyncListener) Close() {
	a.closed.Do(func() {
		a.mu.Lock()
		a.stop = true
		close(a.ch)
		a.mu.Unlock()
	})
	<-a.done
}
