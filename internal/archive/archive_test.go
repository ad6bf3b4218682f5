package archive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/match/matchtest"
	"github.com/park285/cheese-arena/internal/rules"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBuildPGN(t *testing.T) {
	rec := Record{
		Code:        "Ab3_9-xZ",
		WhiteName:   `Al "the" ice`,
		BlackName:   "bob",
		TimeControl: match.TimeControl{InitialSeconds: 300, IncrementSeconds: 2},
		Result:      match.ResultBlackWin,
		Reason:      match.ReasonCheckmate,
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		EndedAt:     t0,
	}
	want := strings.Join([]string{
		`[Event "Arena match Ab3_9-xZ"]`,
		`[Site "cheese-arena"]`,
		`[Date "2025.03.01"]`,
		`[Round "-"]`,
		`[White "Al 'the' ice"]`,
		`[Black "bob"]`,
		`[Result "0-1"]`,
		`[TimeControl "300+2"]`,
		`[Termination "checkmate"]`,
		``,
		`1. f3 e5 2. g4 Qh4# 0-1`,
	}, "\n")
	if diff := cmp.Diff(want, BuildPGN(rec)); diff != "" {
		t.Fatalf("pgn (-want +got):\n%s", diff)
	}
}

func TestBuildPGNOddPlyAndUnfinished(t *testing.T) {
	got := BuildPGN(Record{MovesSAN: []string{"e4"}, Result: match.ResultAbandoned, EndedAt: t0})
	if !strings.HasSuffix(got, "\n1. e4 *") {
		t.Fatalf("movetext = %q", got)
	}
}

func TestPGNResult(t *testing.T) {
	for r, want := range map[match.Result]string{
		match.ResultWhiteWin:  "1-0",
		match.ResultBlackWin:  "0-1",
		match.ResultDraw:      "1/2-1/2",
		match.ResultAbandoned: "*",
		match.ResultNone:      "*",
	} {
		if got := PGNResult(r); got != want {
			t.Fatalf("%q: got %q want %q", r, got, want)
		}
	}
}

func TestRecordDuration(t *testing.T) {
	rec := Record{StartedAt: t0, EndedAt: t0.Add(90 * time.Second)}
	if got := rec.DurationMs(); got != 90000 {
		t.Fatalf("duration = %d", got)
	}
	if got := (Record{EndedAt: t0}).DurationMs(); got != 0 {
		t.Fatalf("unstarted duration = %d", got)
	}
}

type memStore struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (m *memStore) SaveResult(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func newSession(t *testing.T, ft *matchtest.FakeTime, code string) *match.Session {
	t.Helper()
	s, err := match.New(match.Options{
		Code:         code,
		TimeControl:  match.TimeControl{InitialSeconds: 60},
		CreatorColor: match.ChoiceWhite,
		Engine:       rules.NewChess(),
		Time:         ft,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestArchiverSavesFinishedGames(t *testing.T) {
	ft := matchtest.NewFakeTime(t0)
	store := &memStore{}
	a := NewArchiver(store, nil)

	played := newSession(t, ft, "played01")
	a.Track(played)
	if _, err := played.Join(match.Identity{Name: "alice", Guest: true}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := played.Join(match.Identity{UserID: "u-1", Name: "bob"}, ""); err != nil {
		t.Fatal(err)
	}
	ft.Advance(3 * time.Second)
	if _, err := played.SubmitMove(context.Background(), match.MoveRequest{Role: match.RoleWhite, Move: "e2e4"}); err != nil {
		t.Fatal(err)
	}
	if err := played.Resign(match.RoleBlack); err != nil {
		t.Fatal(err)
	}

	idle := newSession(t, ft, "idle0001")
	a.Track(idle)
	if _, err := idle.Join(match.Identity{Name: "carol", Guest: true}, ""); err != nil {
		t.Fatal(err)
	}
	idle.Expire()

	a.Close()
	if len(store.recs) != 1 {
		t.Fatalf("saved %d records; want only the started game", len(store.recs))
	}
	rec := store.recs[0]
	want := Record{
		Code:        "played01",
		WhiteName:   "alice",
		BlackID:     "u-1",
		BlackName:   "bob",
		TimeControl: match.TimeControl{InitialSeconds: 60},
		Result:      match.ResultWhiteWin,
		Reason:      match.ReasonResignation,
		MovesUCI:    []string{"e2e4"},
		MovesSAN:    []string{"e4"},
		Version:     2,
		StartedAt:   t0,
		EndedAt:     t0.Add(3 * time.Second),
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("record (-want +got):\n%s", diff)
	}
}

func TestArchiverSurvivesStoreErrors(t *testing.T) {
	ft := matchtest.NewFakeTime(t0)
	store := &memStore{err: errors.New("db down")}
	a := NewArchiver(store, nil)
	s := newSession(t, ft, "errs0001")
	a.Track(s)
	_, _ = s.Join(match.Identity{Name: "a", Guest: true}, "")
	_, _ = s.Join(match.Identity{Name: "b", Guest: true}, "")
	if err := s.Resign(match.RoleWhite); err != nil {
		t.Fatal(err)
	}
	a.Close()
	if s.Status() != match.StatusCompleted {
		t.Fatalf("status = %s", s.Status())
	}
}

func TestOpenRequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
