package match_test

import (
	"sync"
	"testing"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/pkg/protocol"
)

func TestAsyncListenerDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int64
	a := match.NewAsyncListener(16, nil, func(ev match.Event) {
		mu.Lock()
		got = append(got, ev.Version)
		mu.Unlock()
	})
	for v := int64(1); v <= 5; v++ {
		a.Listen(match.Event{Kind: match.EventMoveApplied, Version: v})
	}
	a.Close()
	a.Listen(match.Event{Kind: match.EventMoveApplied, Version: 99})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("delivered %d events; want 5", len(got))
	}
	for i, v := range got {
		if v != int64(i+1) {
			t.Fatalf("out of order: %v", got)
		}
	}
}

func TestEventWire(t *testing.T) {
	ev := match.Event{Kind: match.EventMoveApplied, Version: 3, Move: &match.MoveApplied{UCI: "g1f3", SAN: "Nf3", Ply: 3, By: match.White, Turn: match.Black}}
	frame, ok := ev.Wire().(protocol.MoveApplied)
	if !ok {
		t.Fatalf("wire type = %T", ev.Wire())
	}
	if frame.Version != 3 || frame.By != "white" || frame.Turn != "black" || frame.SAN != "Nf3" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if (match.Event{Kind: match.EventPeerReconnected, Seat: match.Black}).Wire() != (protocol.PeerReconnected{Seat: "black"}) {
		t.Fatalf("peer reconnected frame mismatch")
	}
}
