package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/match/matchtest"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/pkg/protocol"
)

var (
	creator = match.Identity{Name: "alice", Guest: true}
	joiner  = match.Identity{UserID: "u-7", Name: "bob"}
	blitz   = match.TimeControl{InitialSeconds: 300, Preset: "blitz_5"}
)

func newTestRegistry(t *testing.T, mirror Mirror, hooks Hooks) (*Registry, *matchtest.FakeTime) {
	t.Helper()
	ft := matchtest.NewFakeTime(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	r, err := New(Config{
		Engine:          rules.NewChess(),
		Time:            ft,
		CreationTimeout: 5 * time.Minute,
		Retention:       10 * time.Minute,
		Mirror:          mirror,
	}, hooks)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(r.Close)
	return r, ft
}

func TestCodeGen(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		c, err := codeGen()
		if err != nil {
			t.Fatalf("codeGen: %v", err)
		}
		if !ValidCode(c) {
			t.Fatalf("invalid code %q", c)
		}
		seen[c] = true
	}
	if len(seen) < 499 {
		t.Fatalf("too many collisions: %d unique of 500", len(seen))
	}
	for _, bad := range []string{"", "short", "has space", "toolong123", "abc$efgh"} {
		if ValidCode(bad) {
			t.Fatalf("ValidCode(%q) = true", bad)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	var created []string
	r, _ := newTestRegistry(t, nil, Hooks{OnCreate: func(s *match.Session) { created = append(created, s.Code()) }})
	s, res, err := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Color: match.ChoiceBlack, Creator: creator})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Seat != match.Black || res.Token == "" {
		t.Fatalf("creator seat = %+v", res)
	}
	got, err := r.Get(s.Code())
	if err != nil || got != s {
		t.Fatalf("get: %v", err)
	}
	if len(created) != 1 || created[0] != s.Code() {
		t.Fatalf("OnCreate calls = %v", created)
	}
	if _, err := r.Get("missing1"); !errors.Is(err, match.ErrSessionNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if _, _, err := r.Create(context.Background(), CreateRequest{TimeControl: match.TimeControl{}, Creator: creator}); !errors.Is(err, match.ErrMalformed) {
		t.Fatalf("bad time control: %v", err)
	}
}

func TestCreationTimeoutEvicts(t *testing.T) {
	var mu sync.Mutex
	var evicted []string
	r, ft := newTestRegistry(t, nil, Hooks{OnEvict: func(code string) {
		mu.Lock()
		evicted = append(evicted, code)
		mu.Unlock()
	}})
	s, _, err := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Creator: creator})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ft.Advance(4 * time.Minute)
	if r.Len() != 1 {
		t.Fatalf("evicted too early")
	}
	ft.Advance(time.Minute)
	if r.Len() != 0 {
		t.Fatalf("waiting session not evicted after creation timeout")
	}
	snap := s.Snapshot()
	if snap.Status != match.StatusAbandoned || snap.Reason != match.ReasonCreationTimeout {
		t.Fatalf("unexpected end state: %s %s", snap.Status, snap.Reason)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != s.Code() {
		t.Fatalf("OnEvict calls = %v", evicted)
	}
}

func TestActiveSessionSurvivesCreationTimeout(t *testing.T) {
	r, ft := newTestRegistry(t, nil, Hooks{})
	s, _, _ := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Creator: creator})
	if _, err := s.Join(joiner, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	s.ReconnectSeat(match.White)
	s.ReconnectSeat(match.Black)
	ft.Advance(6 * time.Minute)
	if _, err := r.Get(s.Code()); err != nil {
		t.Fatalf("active session evicted: %v", err)
	}
}

func TestSweepRetention(t *testing.T) {
	r, ft := newTestRegistry(t, nil, Hooks{})
	s, _, _ := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Color: match.ChoiceWhite, Creator: creator})
	s.Join(joiner, "")
	if err := s.Resign(match.RoleWhite); err != nil {
		t.Fatalf("resign: %v", err)
	}
	if st := r.Sweep(ft.Now().Add(9 * time.Minute)); st.Evicted != 0 {
		t.Fatalf("evicted inside retention window: %+v", st)
	}
	if st := r.Sweep(ft.Now().Add(10 * time.Minute)); st.Evicted != 1 {
		t.Fatalf("sweep = %+v; want one eviction", st)
	}
	if r.Len() != 0 {
		t.Fatalf("session still registered")
	}
}

func TestUnplayedActiveSessionIsReclaimed(t *testing.T) {
	r, ft := newTestRegistry(t, nil, Hooks{})
	s, _, _ := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Creator: creator})
	s.Join(joiner, "")

	ft.Advance(match.DefaultDisconnectGrace + time.Second)
	if got := s.Status(); got != match.StatusAbandoned {
		t.Fatalf("status = %s; want abandoned", got)
	}
	if st := r.Sweep(ft.Now().Add(10 * time.Minute)); st.Evicted != 1 || r.Len() != 0 {
		t.Fatalf("sweep = %+v live=%d", st, r.Len())
	}
}

func TestSweepExpiresStaleWaiting(t *testing.T) {
	r, ft := newTestRegistry(t, nil, Hooks{})
	r.Create(context.Background(), CreateRequest{TimeControl: blitz, Creator: creator})
	st := r.Sweep(ft.Now().Add(5 * time.Minute))
	if st.Expired != 1 || st.Evicted != 1 || r.Len() != 0 {
		t.Fatalf("sweep = %+v live=%d", st, r.Len())
	}
}

func TestRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r, ft := newTestRegistry(t, NewRedisMirror(rdb), Hooks{})
	s, _, err := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Color: match.ChoiceWhite, Creator: creator})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("match:" + s.Code()) {
		t.Fatalf("code not reserved in redis")
	}
	s.Join(joiner, "")
	s.Resign(match.RoleBlack)
	r.Close()

	r.Sweep(ft.Now().Add(time.Hour))
	if _, err := r.Get(s.Code()); !errors.Is(err, match.ErrSessionNotFound) {
		t.Fatalf("session still live: %v", err)
	}
	snap, err := r.Lookup(context.Background(), s.Code())
	if err != nil {
		t.Fatalf("lookup from mirror: %v", err)
	}
	if snap.Status != string(match.StatusCompleted) || snap.Result != string(match.ResultWhiteWin) {
		t.Fatalf("mirrored snapshot = %s %s", snap.Status, snap.Result)
	}
	if ttl := mr.TTL("match:" + s.Code()); ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("ttl = %v; want retention window", ttl)
	}
	if _, err := r.Lookup(context.Background(), "zzzzzzzz"); !errors.Is(err, match.ErrSessionNotFound) {
		t.Fatalf("unknown code: %v", err)
	}
}

type stubMirror struct {
	denials int
	calls   int
}

func (m *stubMirror) Reserve(context.Context, string, time.Duration) (bool, error) {
	m.calls++
	return m.calls > m.denials, nil
}

func (m *stubMirror) Save(context.Context, protocol.Snapshot, time.Duration) error { return nil }

func (m *stubMirror) Load(context.Context, string) (*protocol.Snapshot, error) { return nil, nil }

func TestAllocateRetriesOnCollision(t *testing.T) {
	r, _ := newTestRegistry(t, &stubMirror{denials: 2}, Hooks{})
	if _, _, err := r.Create(context.Background(), CreateRequest{TimeControl: blitz, Creator: creator}); err != nil {
		t.Fatalf("create after collisions: %v", err)
	}
	full, _ := newTestRegistry(t, &stubMirror{denials: codeAttempts}, Hooks{})
	if _, _, err := full.Create(context.Background(), CreateRequest{TimeControl: blitz, Creator: creator}); !errors.Is(err, match.ErrInternal) {
		t.Fatalf("exhausted allocation: %v", err)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@cache:6380/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" || opts.DB != 2 || opts.TLSConfig != nil {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts, _ := ParseRedisURL("rediss://cache:6380"); opts.TLSConfig == nil {
		t.Fatalf("rediss without TLS")
	}
	for _, bad := range []string{"http://x", "redis://x/abc"} {
		if _, err := ParseRedisURL(bad); err == nil {
			t.Fatalf("ParseRedisURL(%q) accepted", bad)
		}
	}
}
