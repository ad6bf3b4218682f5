package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/pkg/protocol"
)

var (
	alice = match.Identity{Name: "alice", Guest: true}
	bob   = match.Identity{UserID: "u-9", Name: "bob"}
	carol = match.Identity{Name: "carol", Guest: true}
)

type env struct {
	reg   *registry.Registry
	hub   *Hub
	s     *match.Session
	white match.JoinResult
	black match.JoinResult
}

func newEnv(t *testing.T, buffer int) *env {
	t.Helper()
	e := &env{}
	reg, err := registry.New(registry.Config{Engine: rules.NewChess()}, registry.Hooks{
		OnCreate: func(s *match.Session) { e.hub.Track(s) },
		OnEvict:  func(code string) { e.hub.CloseRoom(code) },
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	e.reg = reg
	e.hub = New(reg, Options{SendBuffer: buffer})

	s, res, err := reg.Create(context.Background(), registry.CreateRequest{
		TimeControl: match.TimeControl{InitialSeconds: 300},
		Color:       match.ChoiceWhite,
		Creator:     alice,
	})
	require.NoError(t, err)
	e.s, e.white = s, res
	e.black, err = s.Join(bob, "")
	require.NoError(t, err)
	return e
}

func recv(t *testing.T, c *Conn) protocol.ServerMessage {
	t.Helper()
	select {
	case frame := <-c.Send():
		msg, err := protocol.DecodeServer(frame)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.Role)
		return nil
	}
}

func drainAll(c *Conn) {
	for {
		select {
		case <-c.Send():
		default:
			return
		}
	}
}

func TestAttachSendsSnapshotFirst(t *testing.T) {
	e := newEnv(t, 16)
	c := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	require.NoError(t, e.hub.Attach(c))

	snap, ok := recv(t, c).(protocol.Snapshot)
	require.True(t, ok)
	require.Equal(t, "active", snap.Status)
	require.Equal(t, int64(0), snap.Version)
	require.Equal(t, 1, e.hub.ConnCount(e.s.Code()))
}

func TestAttachUnknownSession(t *testing.T) {
	e := newEnv(t, 16)
	err := e.hub.Attach(NewConn("nope0000", match.RoleSpectator, carol, 4))
	require.ErrorIs(t, err, match.ErrSessionNotFound)
}

func TestDispatchFanOutAndPrivateRejection(t *testing.T) {
	e := newEnv(t, 16)
	white := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	black := NewConn(e.s.Code(), match.RoleBlack, bob, 16)
	watcher := NewConn(e.s.Code(), match.RoleSpectator, carol, 16)
	for _, c := range []*Conn{white, black, watcher} {
		require.NoError(t, e.hub.Attach(c))
		recv(t, c)
	}

	e.hub.Dispatch(context.Background(), black, protocol.Move{UCI: "e7e5"})
	rej, ok := recv(t, black).(protocol.Rejected)
	require.True(t, ok)
	require.Equal(t, string(match.CodeNotYourTurn), rej.Reason)
	require.NotEmpty(t, rej.Message)
	require.Empty(t, white.Send())
	require.Empty(t, watcher.Send())

	e.hub.Dispatch(context.Background(), white, protocol.Move{UCI: "e2e4"})
	for _, c := range []*Conn{white, black, watcher} {
		mv, ok := recv(t, c).(protocol.MoveApplied)
		require.True(t, ok, "role %s", c.Role)
		require.Equal(t, "e4", mv.SAN)
		require.Equal(t, int64(1), mv.Version)
		require.Equal(t, "black", mv.Turn)
	}

	e.hub.Dispatch(context.Background(), watcher, protocol.Resign{})
	rej, ok = recv(t, watcher).(protocol.Rejected)
	require.True(t, ok)
	require.Equal(t, string(match.CodeInvalidSeat), rej.Reason)
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	e := newEnv(t, 16)
	white := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	watcher := NewConn(e.s.Code(), match.RoleSpectator, carol, 16)
	for _, c := range []*Conn{white, watcher} {
		require.NoError(t, e.hub.Attach(c))
		recv(t, c)
	}

	e.hub.Broadcast(e.s.Code(), protocol.PeerDisconnected{Seat: "black"})
	for _, c := range []*Conn{white, watcher} {
		msg, ok := recv(t, c).(protocol.PeerDisconnected)
		require.True(t, ok, "role %s", c.Role)
		require.Equal(t, "black", msg.Seat)
	}
	e.hub.Broadcast("nope0000", protocol.PeerDisconnected{Seat: "white"})
	require.Empty(t, white.Send())
}

func TestLateMoveGetsSnapshot(t *testing.T) {
	e := newEnv(t, 16)
	white := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	require.NoError(t, e.hub.Attach(white))
	recv(t, white)

	e.hub.Dispatch(context.Background(), white, protocol.Resign{})
	over, ok := recv(t, white).(protocol.GameOver)
	require.True(t, ok)
	require.Equal(t, "black_win", over.Result)

	e.hub.Dispatch(context.Background(), white, protocol.Move{UCI: "e2e4"})
	rej, ok := recv(t, white).(protocol.Rejected)
	require.True(t, ok)
	require.Equal(t, string(match.CodeSessionTerminal), rej.Reason)
	snap, ok := recv(t, white).(protocol.Snapshot)
	require.True(t, ok)
	require.Equal(t, "completed", snap.Status)
}

func TestSeatPresenceFollowsConnections(t *testing.T) {
	e := newEnv(t, 16)
	first := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	second := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	black := NewConn(e.s.Code(), match.RoleBlack, bob, 16)
	for _, c := range []*Conn{first, second, black} {
		require.NoError(t, e.hub.Attach(c))
	}
	drainAll(black)

	e.hub.Detach(first)
	require.True(t, e.s.Snapshot().White.Connected, "one white connection remains")
	require.Empty(t, black.Send())

	e.hub.Detach(second)
	e.hub.Detach(second)
	require.False(t, e.s.Snapshot().White.Connected)
	_, ok := recv(t, black).(protocol.PeerDisconnected)
	require.True(t, ok)

	again := NewConn(e.s.Code(), match.RoleWhite, alice, 16)
	require.NoError(t, e.hub.Attach(again))
	drainAll(black)
	require.True(t, e.s.Snapshot().White.Connected)
}

func TestOverflowClosesStalledConnection(t *testing.T) {
	e := newEnv(t, 1)
	slow := NewConn(e.s.Code(), match.RoleSpectator, carol, 1)
	white := NewConn(e.s.Code(), match.RoleWhite, alice, 8)
	require.NoError(t, e.hub.Attach(slow))
	require.NoError(t, e.hub.Attach(white))

	e.hub.Dispatch(context.Background(), white, protocol.Move{UCI: "d2d4"})
	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatalf("stalled connection was not closed")
	}
	require.Equal(t, reasonOverflow, slow.Reason())
	require.Equal(t, int64(1), e.s.Snapshot().Version, "session progress must not depend on slow readers")
}

func TestCloseRoomOnEvict(t *testing.T) {
	e := newEnv(t, 16)
	c := NewConn(e.s.Code(), match.RoleSpectator, carol, 16)
	require.NoError(t, e.hub.Attach(c))
	e.hub.CloseRoom(e.s.Code())
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatalf("connection left open after room close")
	}
	require.ErrorIs(t, e.hub.Attach(NewConn(e.s.Code(), match.RoleSpectator, carol, 4)), match.ErrSessionNotFound)
}

func TestServeStreamEndToEnd(t *testing.T) {
	e := newEnv(t, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := e.s.Bind(match.Identity{Name: r.URL.Query().Get("name"), Guest: true}, r.URL.Query().Get("seat_token"))
		e.hub.ServeStream(w, r, e.s.Code(), role, alice, StreamOptions{PingInterval: time.Second})
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	white, _, err := websocket.Dial(ctx, url+"?name=alice&seat_token="+e.white.Token, nil)
	require.NoError(t, err)
	defer white.CloseNow()
	watcher, _, err := websocket.Dial(ctx, url+"?name=carol", nil)
	require.NoError(t, err)
	defer watcher.CloseNow()

	read := func(c *websocket.Conn) protocol.ServerMessage {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		msg, err := protocol.DecodeServer(data)
		require.NoError(t, err)
		return msg
	}
	_, ok := read(white).(protocol.Snapshot)
	require.True(t, ok)
	_, ok = read(watcher).(protocol.Snapshot)
	require.True(t, ok)

	require.NoError(t, white.Write(ctx, websocket.MessageText, []byte(`{"type":"move","uci":"g1f3","bogus":1}`)))
	rej, ok := read(white).(protocol.Rejected)
	require.True(t, ok)
	require.Equal(t, string(match.CodeMalformed), rej.Reason)

	frame, err := protocol.EncodeClient(protocol.Move{UCI: "g1f3"})
	require.NoError(t, err)
	require.NoError(t, white.Write(ctx, websocket.MessageText, frame))
	for _, c := range []*websocket.Conn{white, watcher} {
		mv, ok := read(c).(protocol.MoveApplied)
		require.True(t, ok)
		require.Equal(t, "Nf3", mv.SAN)
	}

	require.NoError(t, watcher.Write(ctx, websocket.MessageText, []byte(`{"type":"resign"}`)))
	rej, ok = read(watcher).(protocol.Rejected)
	require.True(t, ok)
	require.Equal(t, string(match.CodeInvalidSeat), rej.Reason)
}
