package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/match/matchtest"
	"github.com/park285/cheese-arena/internal/rules"
)

type published struct {
	subject string
	data    []byte
}

type fakePub struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePub) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, append([]byte(nil), data...)})
	return nil
}

func playGame(t *testing.T, n *Notifier) {
	t.Helper()
	ft := matchtest.NewFakeTime(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := match.New(match.Options{
		Code:         "evts0001",
		TimeControl:  match.TimeControl{InitialSeconds: 180},
		CreatorColor: match.ChoiceBlack,
		Engine:       rules.NewChess(),
		Time:         ft,
	})
	if err != nil {
		t.Fatal(err)
	}
	n.Track(s)
	if _, err := s.Join(match.Identity{UserID: "u-1", Name: "ann"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Join(match.Identity{Name: "gus", Guest: true}, ""); err != nil {
		t.Fatal(err)
	}
	ft.Advance(time.Second)
	if err := s.Resign(match.RoleWhite); err != nil {
		t.Fatal(err)
	}
}

func TestNotifierPublishesLifecycle(t *testing.T) {
	pub := &fakePub{}
	n := NewNotifier(pub, "games.", nil)
	playGame(t, n)
	n.Close()

	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages; want 2", len(pub.msgs))
	}
	if pub.msgs[0].subject != "games.started" || pub.msgs[1].subject != "games.finished" {
		t.Fatalf("subjects = %q, %q", pub.msgs[0].subject, pub.msgs[1].subject)
	}

	var started, finished Lifecycle
	if err := json.Unmarshal(pub.msgs[0].data, &started); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(pub.msgs[1].data, &finished); err != nil {
		t.Fatal(err)
	}
	if started.Status != "active" || started.EndedAt != nil || started.Black == nil || started.Black.UserID != "u-1" {
		t.Fatalf("started payload = %+v", started)
	}
	if finished.Result != "black_win" || finished.Reason != "resignation" || finished.Version != 1 {
		t.Fatalf("finished payload = %+v", finished)
	}
	if finished.White == nil || !finished.White.Guest || finished.EndedAt == nil {
		t.Fatalf("finished players = %+v", finished)
	}
}

func TestNotifierDefaultPrefixAndErrors(t *testing.T) {
	pub := &fakePub{err: errors.New("no responders")}
	n := NewNotifier(pub, "", nil)
	if got := n.Subject("finished"); got != "arena.match.finished" {
		t.Fatalf("subject = %q", got)
	}
	playGame(t, n)
	n.Close()
	if len(pub.msgs) != 0 {
		t.Fatalf("unexpected messages")
	}
}
