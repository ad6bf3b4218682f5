// Package hub fans session events out to attached connections and routes client
// messages back into sessions.
//
// Locking: a session emits events while holding its own lock and the hub's room
// lock is taken inside that. The hub never calls into a session with a room or
// hub lock held.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/pkg/protocol"
)

// Sessions resolves codes to live sessions.
type Sessions interface {
	Get(code string) (*match.Session, error)
}

type Options struct {
	SendBuffer int
	Messages   *msgcat.Catalog
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Hub struct {
	sessions Sessions
	opts     Options
	log      *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	code        string
	mu          sync.Mutex
	conns       map[*Conn]struct{}
	unsubscribe func()
	closed      bool
}

func New(sessions Sessions, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Messages == nil {
		opts.Messages = msgcat.MustDefault()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hub{sessions: sessions, opts: opts, log: opts.Logger, rooms: map[string]*room{}}
}

// Track creates the room for s and subscribes it to the session's events.
// Wire it as the registry's OnCreate hook so no event is missed.
func (h *Hub) Track(s *match.Session) {
	rm := &room{code: s.Code(), conns: map[*Conn]struct{}{}}
	rm.unsubscribe = s.Subscribe(func(ev match.Event) { h.deliver(rm, ev) })
	h.mu.Lock()
	h.rooms[rm.code] = rm
	h.mu.Unlock()
}

// CloseRoom drops every connection in code's room. Wire it as OnEvict.
func (h *Hub) CloseRoom(code string) {
	h.mu.Lock()
	rm := h.rooms[code]
	delete(h.rooms, code)
	h.mu.Unlock()
	if rm == nil {
		return
	}
	rm.unsubscribe()
	rm.mu.Lock()
	rm.closed = true
	conns := make([]*Conn, 0, len(rm.conns))
	for c := range rm.conns {
		conns = append(conns, c)
	}
	rm.conns = map[*Conn]struct{}{}
	rm.mu.Unlock()
	for _, c := range conns {
		c.Close("session evicted")
	}
	h.log.Info("hub_room_close", zap.String("code", code), zap.Int("conns", len(conns)))
}

// Close drops every room, used on shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	h.mu.RUnlock()
	for _, code := range codes {
		h.CloseRoom(code)
	}
}

func (h *Hub) room(code string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[code]
}

// Broadcast sends msg to every connection attached to code. Session events
// already arrive through Track; this is for notices outside the game flow.
func (h *Hub) Broadcast(code string, msg protocol.ServerMessage) {
	if rm := h.room(code); rm != nil {
		h.broadcastRoom(rm, msg)
	}
}

// deliver runs under the session lock.
func (h *Hub) deliver(rm *room, ev match.Event) {
	msg := ev.Wire()
	if msg == nil {
		return
	}
	h.broadcastRoom(rm, msg)
}

func (h *Hub) broadcastRoom(rm *room, msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		h.log.Error("hub_encode_error", zap.String("code", rm.code), zap.Error(err))
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for c := range rm.conns {
		if c.enqueue(frame) {
			h.overflowLocked(rm, c)
		}
	}
}

// overflowLocked needs rm.mu. The seat bookkeeping happens when the transport
// notices Done and calls Detach.
func (h *Hub) overflowLocked(rm *room, c *Conn) {
	h.opts.Metrics.SendOverflow()
	h.log.Warn("hub_send_overflow", zap.String("code", rm.code), zap.String("conn", c.ID), zap.String("role", string(c.Role)))
}

// Attach registers c with its session's room and queues the snapshot first.
// Seat connections then count toward presence.
func (h *Hub) Attach(c *Conn) error {
	s, err := h.sessions.Get(c.Code)
	if err != nil {
		return err
	}
	rm := h.room(c.Code)
	if rm == nil {
		return match.ErrSessionNotFound
	}
	var attachErr error
	s.Observe(func(snap match.Snapshot) {
		frame, err := protocol.EncodeServer(snap.Wire())
		if err != nil {
			attachErr = err
			return
		}
		rm.mu.Lock()
		defer rm.mu.Unlock()
		if rm.closed {
			attachErr = match.ErrSessionNotFound
			return
		}
		rm.conns[c] = struct{}{}
		if c.enqueue(frame) {
			h.overflowLocked(rm, c)
		}
	})
	if attachErr != nil {
		return attachErr
	}
	if color, ok := c.Role.Seat(); ok {
		s.ReconnectSeat(color)
	}
	h.opts.Metrics.ConnOpened(c.Role)
	h.log.Info("hub_attach", zap.String("code", c.Code), zap.String("conn", c.ID), zap.String("role", string(c.Role)), zap.String("identity", c.Identity.Key()))
	return nil
}

// Detach removes c. It is idempotent.
func (h *Hub) Detach(c *Conn) {
	c.detach.Do(func() {
		c.Close("detached")
		if rm := h.room(c.Code); rm != nil {
			rm.mu.Lock()
			delete(rm.conns, c)
			rm.mu.Unlock()
		}
		h.opts.Metrics.ConnClosed(c.Role)
		h.log.Info("hub_detach", zap.String("code", c.Code), zap.String("conn", c.ID), zap.String("role", string(c.Role)), zap.String("reason", c.Reason()))
		s, err := h.sessions.Get(c.Code)
		if err != nil {
			return
		}
		if color, ok := c.Role.Seat(); ok {
			s.DisconnectSeat(color)
		}
	})
}

// ConnCount reports attached connections for code.
func (h *Hub) ConnCount(code string) int {
	rm := h.room(code)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.conns)
}

// Dispatch applies one client message on behalf of c. Failures are answered
// only to c; accepted transitions reach everyone through the room.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, msg protocol.ClientMessage) {
	s, err := h.sessions.Get(c.Code)
	if err != nil {
		h.reject(c, nil, err, nil)
		return
	}
	switch m := msg.(type) {
	case protocol.Move:
		start := time.Now()
		_, err = s.SubmitMove(ctx, match.MoveRequest{Role: c.Role, Move: m.UCI, ExpectedVersion: m.Version, ClientElapsedMs: m.ElapsedMs})
		h.opts.Metrics.ObserveApply(time.Since(start))
		if err != nil {
			h.reject(c, s, err, map[string]any{"move": m.UCI})
		}
	case protocol.Resign:
		if err = s.Resign(c.Role); err != nil {
			h.reject(c, s, err, nil)
		}
	case protocol.TimeoutClaim:
		target, perr := parseSeat(m.Color)
		if perr != nil {
			h.reject(c, s, perr, nil)
			return
		}
		if err = s.ClaimTimeout(ctx, c.Role, target); err != nil {
			h.reject(c, s, err, nil)
		}
	default:
		h.reject(c, s, match.ErrMalformed, nil)
	}
}

// RejectDecode answers a frame the codec refused.
func (h *Hub) RejectDecode(c *Conn, err error) {
	var de *protocol.DecodeError
	code := match.CodeMalformed
	if errors.As(err, &de) && de.Reason == protocol.ReasonUnknownType {
		code = match.CodeUnknownType
	}
	h.send(c, protocol.Rejected{Reason: string(code), Message: h.opts.Messages.Reject(string(code), nil), Version: h.version(c)})
	h.opts.Metrics.Rejected(code)
}

func (h *Hub) reject(c *Conn, s *match.Session, err error, data map[string]any) {
	code := match.CodeOf(err)
	var snap *match.Snapshot
	if s != nil {
		v := s.Snapshot()
		snap = &v
	}
	rej := protocol.Rejected{Reason: string(code), Message: h.opts.Messages.Reject(string(code), data)}
	if snap != nil {
		rej.Version = snap.Version
	}
	h.send(c, rej)
	// A late move on a finished game gets the authoritative state back.
	if code == match.CodeSessionTerminal && snap != nil {
		h.send(c, snap.Wire())
	}
	h.opts.Metrics.Rejected(code)
	if code == match.CodeInternal {
		h.log.Error("hub_dispatch_error", zap.String("code", c.Code), zap.String("conn", c.ID), zap.Error(err))
		return
	}
	h.log.Debug("hub_reject", zap.String("code", c.Code), zap.String("conn", c.ID), zap.String("reason", string(code)))
}

func (h *Hub) version(c *Conn) int64 {
	s, err := h.sessions.Get(c.Code)
	if err != nil {
		return 0
	}
	return s.Snapshot().Version
}

// send queues a frame for c alone.
func (h *Hub) send(c *Conn, msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		h.log.Error("hub_encode_error", zap.String("code", c.Code), zap.Error(err))
		return
	}
	if c.enqueue(frame) {
		h.opts.Metrics.SendOverflow()
	}
}

func parseSeat(s string) (match.Color, error) {
	switch s {
	case "white":
		return match.White, nil
	case "black":
		return match.Black, nil
	}
	return match.White, match.ErrMalformed
}
