// Package match holds the authoritative state of one chess match and the rules for
// mutating it. Every mutation goes through the session mutex; events are emitted
// under that lock so listeners observe transitions in acceptance order.
package match

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/rules"
)

const (
	DefaultDisconnectGrace = 60 * time.Second
	// DefaultHintTolerance bounds how far a client's elapsed report may diverge
	// from server time before it is logged.
	DefaultHintTolerance = 2 * time.Second
)

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Code            string
	TimeControl     TimeControl
	CreatorColor    ColorChoice
	Engine          rules.Engine
	Time            TimeSource
	DisconnectGrace time.Duration
	HintTolerance   time.Duration
	Logger          *zap.Logger
}

// Session is one match. It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	code      string
	engine    rules.Engine
	ts        TimeSource
	grace     time.Duration
	tolerance time.Duration
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	status       Status
	tc           TimeControl
	creatorColor Color
	pos          rules.Position
	clk          *clock.Clock
	seats        [2]*Seat
	result       Result
	reason       Reason
	version      int64

	createdAt  time.Time
	startedAt  time.Time
	endedAt    time.Time
	lastMoveAt time.Time

	conns    [2]int
	seen     [2]bool
	expired  [2]bool
	timers   [2]Timer

	listeners map[int]Listener
	nextID    int
}

// New creates a waiting session with both seats empty.
func New(opts Options) (*Session, error) {
	if opts.Code == "" {
		return nil, fmt.Errorf("%w: empty session code", ErrMalformed)
	}
	if opts.Engine == nil {
		return nil, errors.New("match: rules engine is required")
	}
	if err := opts.TimeControl.Validate(); err != nil {
		return nil, err
	}
	clk, err := clock.New(opts.TimeControl.InitialMs(), opts.TimeControl.IncrementMs())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if opts.Time == nil {
		opts.Time = SystemTime{}
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}
	if opts.HintTolerance <= 0 {
		opts.HintTolerance = DefaultHintTolerance
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	creator, err := resolveChoice(opts.CreatorColor)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		code:         opts.Code,
		engine:       opts.Engine,
		ts:           opts.Time,
		grace:        opts.DisconnectGrace,
		tolerance:    opts.HintTolerance,
		log:          opts.Logger.With(zap.String("code", opts.Code)),
		ctx:          ctx,
		cancel:       cancel,
		status:       StatusWaiting,
		tc:           opts.TimeControl,
		creatorColor: creator,
		pos:          opts.Engine.Start(),
		clk:          clk,
		createdAt:    opts.Time.Now(),
		listeners:    map[int]Listener{},
	}, nil
}

func resolveChoice(c ColorChoice) (Color, error) {
	switch c {
	case ChoiceWhite:
		return White, nil
	case ChoiceBlack:
		return Black, nil
	case ChoiceRandom, "":
		n, err := rand.Int(rand.Reader, big.NewInt(2))
		if err != nil {
			return White, fmt.Errorf("match: pick random color: %w", err)
		}
		return Color(n.Int64()), nil
	}
	return White, fmt.Errorf("%w: color %q", ErrMalformed, c)
}

func (s *Session) Code() string { return s.code }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers l and returns a function that removes it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// emit must be called with s.mu held.
func (s *Session) emit(ev Event) {
	ev.Code = s.code
	if ev.Version == 0 {
		ev.Version = s.version
	}
	if ev.At.IsZero() {
		ev.At = s.ts.Now()
	}
	for _, l := range s.listeners {
		l(ev)
	}
}

// JoinResult tells a participant which seat they hold.
type JoinResult struct {
	Seat     Color
	Token    string
	Rejoined bool
	Started  bool
}

// Join seats id. A caller already holding a seat, matched by seat token or by
// authenticated user id, gets that seat back unchanged. The creator's preferred
// color is filled first; when both seats are filled the session becomes active
// and the clocks start.
func (s *Session) Join(id Identity, token string) (JoinResult, error) {
	if id.Name == "" && id.UserID == "" {
		return JoinResult{}, fmt.Errorf("%w: empty identity", ErrMalformed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if seat := s.boundSeatLocked(id, token); seat != nil {
		return JoinResult{Seat: seat.Color, Token: seat.Token, Rejoined: true, Started: s.status != StatusWaiting}, nil
	}
	if s.status.Terminal() {
		return JoinResult{}, ErrSessionTerminal
	}
	target := s.creatorColor
	if s.seats[target] != nil {
		target = target.Other()
	}
	if s.seats[target] != nil {
		return JoinResult{}, ErrInvalidSeat
	}
	seat := &Seat{Color: target, Identity: id, Token: uuid.NewString()}
	s.seats[target] = seat
	now := s.ts.Now()
	s.log.Info("match_join", zap.String("seat", target.String()), zap.String("identity", id.Key()))
	view := s.viewLocked(target)
	s.emit(Event{Kind: EventPlayerJoined, Seat: target, Player: view, At: now})

	res := JoinResult{Seat: target, Token: seat.Token}
	if s.seats[White] != nil && s.seats[Black] != nil {
		s.status = StatusActive
		s.startedAt = now
		s.lastMoveAt = now
		res.Started = true
		s.log.Info("match_start", zap.String("white", s.seats[White].Identity.Key()), zap.String("black", s.seats[Black].Identity.Key()), zap.String("time_control", s.tc.String()))
		snap := s.snapshotLocked(now)
		s.emit(Event{Kind: EventStarted, Snapshot: &snap, At: now})
		// Seats without a connection start on the grace clock, whether they
		// dropped earlier or never attached.
		for _, c := range []Color{White, Black} {
			if s.conns[c] == 0 {
				s.armGraceLocked(c)
			}
		}
	}
	return res, nil
}

// Bind resolves which role id may act as. Authenticated users match their seat
// by user id; guests need the seat token. Everyone else spectates.
func (s *Session) Bind(id Identity, token string) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seat := s.boundSeatLocked(id, token); seat != nil {
		return RoleOf(seat.Color)
	}
	return RoleSpectator
}

func (s *Session) boundSeatLocked(id Identity, token string) *Seat {
	for _, seat := range s.seats {
		if seat == nil {
			continue
		}
		if token != "" && token == seat.Token {
			return seat
		}
		if !id.Guest && id.UserID != "" && !seat.Identity.Guest && seat.Identity.UserID == id.UserID {
			return seat
		}
	}
	return nil
}

// elapsedLocked is server time since the last clock switch.
func (s *Session) elapsedLocked(now time.Time) int64 {
	if s.lastMoveAt.IsZero() {
		return 0
	}
	d := now.Sub(s.lastMoveAt)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// MoveRequest is one move submission.
type MoveRequest struct {
	Role            Role
	Move            string
	ExpectedVersion *int64
	ClientElapsedMs *int64
}

// SubmitMove validates and applies a move for the side to move.
//
// The rules engine runs outside the session lock. The version observed before the
// call must still be current when the result is committed; otherwise the
// submission lost a race and is rejected with ErrStaleVersion.
func (s *Session) SubmitMove(ctx context.Context, req MoveRequest) (MoveApplied, error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return MoveApplied{}, ErrSessionTerminal
	}
	if s.status == StatusWaiting {
		s.mu.Unlock()
		return MoveApplied{}, ErrNotStarted
	}
	color, ok := req.Role.Seat()
	if !ok {
		s.mu.Unlock()
		return MoveApplied{}, ErrInvalidSeat
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != s.version {
		s.mu.Unlock()
		return MoveApplied{}, ErrStaleVersion
	}
	if s.pos.Turn() != color {
		s.mu.Unlock()
		return MoveApplied{}, ErrNotYourTurn
	}
	now := s.ts.Now()
	elapsed := s.elapsedLocked(now)
	if s.clk.Project(color, elapsed) == 0 {
		s.mu.Unlock()
		return MoveApplied{}, ErrClockFlagged
	}
	if req.ClientElapsedMs != nil {
		if diff := *req.ClientElapsedMs - elapsed; diff > s.tolerance.Milliseconds() || -diff > s.tolerance.Milliseconds() {
			s.log.Warn("match_elapsed_hint_divergence", zap.Int64("client_ms", *req.ClientElapsedMs), zap.Int64("server_ms", elapsed))
		}
	}
	pos := s.pos.Clone()
	version := s.version
	s.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	out, err := s.engine.Apply(callCtx, pos, req.Move)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return MoveApplied{}, ErrSessionTerminal
	}
	if err != nil {
		s.log.Error("match_rules_error", zap.String("move", req.Move), zap.Error(err))
		return MoveApplied{}, fmt.Errorf("%w: rules engine: %v", ErrInternal, err)
	}
	if s.version != version {
		return MoveApplied{}, ErrStaleVersion
	}
	if !out.Legal {
		return MoveApplied{}, ErrIllegalMove
	}

	s.clk.OnMoveAccepted(color, elapsed)
	s.pos = out.Position
	s.lastMoveAt = now
	s.version++
	applied := MoveApplied{
		UCI:       out.UCI,
		SAN:       out.SAN,
		FEN:       out.Position.FEN,
		Ply:       out.Position.Ply,
		By:        color,
		Turn:      out.Position.Turn(),
		Clocks:    s.clocksLocked(now),
		ElapsedMs: elapsed,
	}
	s.log.Info("match_move", zap.String("seat", color.String()), zap.String("uci", out.UCI), zap.String("san", out.SAN), zap.Int64("elapsed_ms", elapsed), zap.Int64("version", s.version))
	s.emit(Event{Kind: EventMoveApplied, Move: &applied, At: now})

	if out.Terminal {
		s.finishLocked(now, StatusCompleted, Result(out.Result), Reason(out.Reason), false)
	}
	return applied, nil
}

// Resign ends the game in favour of the other seat.
func (s *Session) Resign(role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return ErrSessionTerminal
	}
	if s.status == StatusWaiting {
		return ErrNotStarted
	}
	color, ok := role.Seat()
	if !ok {
		return ErrInvalidSeat
	}
	s.log.Info("match_resign", zap.String("seat", color.String()))
	s.finishLocked(s.ts.Now(), StatusCompleted, WinFor(color.Other()), ReasonResignation, true)
	return nil
}

// ClaimTimeout ends the game when target's clock has reached zero. The side that
// did not flag wins unless it lacks mating material, in which case it is a draw.
func (s *Session) ClaimTimeout(ctx context.Context, claimer Role, target Color) error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return ErrSessionTerminal
	}
	if s.status == StatusWaiting {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := claimer.Seat(); !ok {
		s.mu.Unlock()
		return ErrInvalidSeat
	}
	if s.remainingLocked(target, s.ts.Now()) > 0 {
		s.mu.Unlock()
		return ErrTimeoutClaimInvalid
	}
	pos := s.pos.Clone()
	version := s.version
	s.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	winner := target.Other()
	canMate, err := s.engine.CanMate(callCtx, pos, winner)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return ErrSessionTerminal
	}
	if err != nil {
		s.log.Error("match_rules_error", zap.String("op", "can_mate"), zap.Error(err))
		return fmt.Errorf("%w: rules engine: %v", ErrInternal, err)
	}
	if s.version != version {
		return ErrStaleVersion
	}
	result, reason := WinFor(winner), ReasonTimeout
	if !canMate {
		result, reason = ResultDraw, ReasonTimeoutVsMaterial
	}
	s.log.Info("match_timeout", zap.String("flagged", target.String()), zap.String("result", string(result)))
	s.finishLocked(s.ts.Now(), StatusCompleted, result, reason, true)
	return nil
}

// ReconnectSeat records a new connection for color. A seat returning from
// absence cancels its grace timer. Nothing else changes.
func (s *Session) ReconnectSeat(color Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[color]++
	if s.conns[color] > 1 {
		return
	}
	returning := s.seen[color]
	s.seen[color] = true
	s.expired[color] = false
	if t := s.timers[color]; t != nil {
		t.Stop()
		s.timers[color] = nil
	}
	if s.status.Terminal() || !returning {
		return
	}
	s.log.Info("match_seat_reconnect", zap.String("seat", color.String()))
	s.emit(Event{Kind: EventPeerReconnected, Seat: color})
	// The opponent may already be past its grace period while this seat was away.
	if s.status == StatusActive && s.expired[color.Other()] {
		s.abandonLocked(color.Other())
	}
}

// DisconnectSeat records a dropped connection for color. When the last one goes,
// a grace timer starts; the status itself does not change here.
func (s *Session) DisconnectSeat(color Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[color] == 0 {
		return
	}
	s.conns[color]--
	if s.conns[color] > 0 || s.status.Terminal() {
		return
	}
	now := s.ts.Now()
	s.log.Info("match_seat_disconnect", zap.String("seat", color.String()), zap.Duration("grace", s.grace))
	s.emit(Event{Kind: EventPeerDisconnected, Seat: color, At: now})
	if s.status != StatusActive {
		return
	}
	s.armGraceLocked(color)
}

func (s *Session) armGraceLocked(color Color) {
	if t := s.timers[color]; t != nil {
		t.Stop()
	}
	var timer Timer
	timer = s.ts.AfterFunc(s.grace, func() { s.graceExpired(color, timer) })
	s.timers[color] = timer
}

func (s *Session) graceExpired(color Color, timer Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers[color] != timer {
		return
	}
	s.timers[color] = nil
	if s.status != StatusActive || s.conns[color] > 0 {
		return
	}
	s.expired[color] = true
	other := color.Other()
	switch {
	case s.conns[other] > 0:
		s.abandonLocked(color)
	case s.expired[other]:
		s.log.Info("match_abandon", zap.String("absent", "both"))
		s.finishLocked(s.ts.Now(), StatusAbandoned, ResultAbandoned, ReasonAbandonment, true)
	}
}

// abandonLocked forfeits the absent seat.
func (s *Session) abandonLocked(absent Color) {
	s.log.Info("match_abandon", zap.String("absent", absent.String()))
	s.finishLocked(s.ts.Now(), StatusAbandoned, WinFor(absent.Other()), ReasonAbandonment, true)
}

// Expire abandons a session that never started. It reports whether it did.
func (s *Session) Expire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return false
	}
	now := s.ts.Now()
	s.log.Info("match_expire", zap.Duration("age", now.Sub(s.createdAt)))
	s.finishLocked(now, StatusAbandoned, ResultAbandoned, ReasonCreationTimeout, false)
	return true
}

// finishLocked makes the session terminal. When debit is set the side to move is
// charged for time used since the last move, so final clocks are exact, and the
// transition counts as its own version step.
func (s *Session) finishLocked(now time.Time, status Status, result Result, reason Reason, debit bool) {
	if debit && s.status == StatusActive {
		s.clk.Debit(s.pos.Turn(), s.elapsedLocked(now))
		s.version++
		s.lastMoveAt = now
	}
	s.status = status
	s.result = result
	s.reason = reason
	s.endedAt = now
	s.stopLocked()
	s.log.Info("match_over", zap.String("result", string(result)), zap.String("reason", string(reason)), zap.Int64("version", s.version), zap.Int("ply", s.pos.Ply))
	snap := s.snapshotLocked(now)
	s.emit(Event{Kind: EventGameOver, Over: &GameOver{Result: result, Reason: reason, Clocks: snap.Clocks}, Snapshot: &snap, At: now})
}

func (s *Session) stopLocked() {
	for i, t := range s.timers {
		if t != nil {
			t.Stop()
			s.timers[i] = nil
		}
	}
	s.cancel()
}

func (s *Session) remainingLocked(c Color, now time.Time) int64 {
	if s.status == StatusActive && s.pos.Turn() == c {
		return s.clk.Project(c, s.elapsedLocked(now))
	}
	return s.clk.Remaining(c)
}

func (s *Session) clocksLocked(now time.Time) Clocks {
	return Clocks{WhiteMs: s.remainingLocked(White, now), BlackMs: s.remainingLocked(Black, now)}
}

func (s *Session) viewLocked(c Color) *PlayerView {
	seat := s.seats[c]
	if seat == nil {
		return nil
	}
	return &PlayerView{Seat: c, Identity: seat.Identity, Connected: s.conns[c] > 0}
}

// Snapshot returns the current state with the side to move's clock projected to now.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.ts.Now())
}

// Observe runs fn with a snapshot while holding the session lock, so no event can
// be emitted between the snapshot and whatever fn registers.
func (s *Session) Observe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked(s.ts.Now()))
}

func (s *Session) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		Code:         s.code,
		Status:       s.status,
		TimeControl:  s.tc,
		CreatorColor: s.creatorColor,
		FEN:          s.pos.FEN,
		MovesUCI:     append([]string(nil), s.pos.MovesUCI...),
		MovesSAN:     append([]string(nil), s.pos.MovesSAN...),
		Ply:          s.pos.Ply,
		Turn:         s.pos.Turn(),
		Clocks:       s.clocksLocked(now),
		White:        s.viewLocked(White),
		Black:        s.viewLocked(Black),
		Result:       s.result,
		Reason:       s.reason,
		Version:      s.version,
		CreatedAt:    s.createdAt,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
		LastMoveAt:   s.lastMoveAt,
		ServerTime:   now,
	}
}

// EndedAt returns when the session became terminal, zero if it has not.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// CreatedAt is immutable and needs no lock.
func (s *Session) CreatedAt() time.Time { return s.createdAt }
