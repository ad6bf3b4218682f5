package match

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-arena/internal/clock"
)

// Color aliases the clock color so callers only import one package.
type Color = clock.Color

const (
	White = clock.White
	Black = clock.Black
)

// Status represents the lifecycle of a session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further game mutation is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWin  Result = "white_win"
	ResultBlackWin  Result = "black_win"
	ResultDraw      Result = "draw"
	ResultAbandoned Result = "abandoned"
)

// WinFor returns the result crediting color.
func WinFor(c Color) Result {
	if c == White {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

type Reason string

const (
	ReasonCheckmate            Reason = "checkmate"
	ReasonStalemate            Reason = "stalemate"
	ReasonInsufficientMaterial Reason = "insufficient_material"
	ReasonThreefoldRepetition  Reason = "threefold_repetition"
	ReasonFiftyMoveRule        Reason = "fifty_move_rule"
	ReasonResignation          Reason = "resignation"
	ReasonTimeout              Reason = "timeout"
	ReasonTimeoutVsMaterial    Reason = "timeout_vs_insufficient_material"
	ReasonAbandonment          Reason = "abandonment"
	ReasonCreationTimeout      Reason = "creation_timeout"
)

// Role is what a connection may do in a session.
type Role string

const (
	RoleWhite     Role = "white"
	RoleBlack     Role = "black"
	RoleSpectator Role = "spectator"
)

// RoleOf maps a seat color to its role.
func RoleOf(c Color) Role {
	if c == White {
		return RoleWhite
	}
	return RoleBlack
}

// Seat returns the color for a player role.
func (r Role) Seat() (Color, bool) {
	switch r {
	case RoleWhite:
		return White, true
	case RoleBlack:
		return Black, true
	}
	return White, false
}

// ColorChoice is the creator's seat preference.
type ColorChoice string

const (
	ChoiceWhite  ColorChoice = "white"
	ChoiceBlack  ColorChoice = "black"
	ChoiceRandom ColorChoice = "random"
)

func ParseColorChoice(s string) (ColorChoice, error) {
	switch c := ColorChoice(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return ChoiceRandom, nil
	case ChoiceWhite, ChoiceBlack, ChoiceRandom:
		return c, nil
	}
	return "", fmt.Errorf("%w: color %q", ErrMalformed, s)
}

// Identity is a resolved participant. Guests have no UserID.
type Identity struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Guest  bool   `json:"guest"`
}

// Key is a stable label for logs and metrics.
func (i Identity) Key() string {
	if i.Guest {
		return "guest:" + i.Name
	}
	return "user:" + i.UserID
}

// Seat is a filled player slot. Token is never exposed in snapshots.
type Seat struct {
	Color    Color
	Identity Identity
	Token    string
}

// TimeControl is immutable once the session exists.
type TimeControl struct {
	InitialSeconds   int    `json:"initial_seconds" yaml:"initial_seconds"`
	IncrementSeconds int    `json:"increment_seconds" yaml:"increment_seconds"`
	Preset           string `json:"preset,omitempty" yaml:"preset,omitempty"`
}

const (
	maxInitialSeconds   = 3 * 60 * 60
	maxIncrementSeconds = 180
)

func (tc TimeControl) Validate() error {
	if tc.InitialSeconds <= 0 || tc.InitialSeconds > maxInitialSeconds {
		return fmt.Errorf("%w: initial_seconds must be in 1..%d", ErrMalformed, maxInitialSeconds)
	}
	if tc.IncrementSeconds < 0 || tc.IncrementSeconds > maxIncrementSeconds {
		return fmt.Errorf("%w: increment_seconds must be in 0..%d", ErrMalformed, maxIncrementSeconds)
	}
	return nil
}

func (tc TimeControl) InitialMs() int64   { return int64(tc.InitialSeconds) * 1000 }
func (tc TimeControl) IncrementMs() int64 { return int64(tc.IncrementSeconds) * 1000 }

func (tc TimeControl) String() string {
	return fmt.Sprintf("%d+%d", tc.InitialSeconds/60, tc.IncrementSeconds)
}

const DefaultPreset = "blitz_5"

var presets = map[string]TimeControl{
	"bullet_1": {InitialSeconds: 60, IncrementSeconds: 0},
	"bullet_2": {InitialSeconds: 120, IncrementSeconds: 1},
	"blitz_3":  {InitialSeconds: 180, IncrementSeconds: 0},
	"blitz_5":  {InitialSeconds: 300, IncrementSeconds: 0},
	"rapid_10": {InitialSeconds: 600, IncrementSeconds: 0},
	"rapid_15": {InitialSeconds: 900, IncrementSeconds: 10},
}

// Preset looks up a named time control.
func Preset(name string) (TimeControl, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	tc, ok := presets[key]
	if !ok {
		return TimeControl{}, fmt.Errorf("%w: unknown time control preset %q", ErrMalformed, name)
	}
	tc.Preset = key
	return tc, nil
}

// PresetNames lists the available presets, fastest first.
func PresetNames() []string {
	return []string{"bullet_1", "bullet_2", "blitz_3", "blitz_5", "rapid_10", "rapid_15"}
}
