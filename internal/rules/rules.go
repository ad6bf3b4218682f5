// Package rules is the boundary between match sessions and chess semantics.
// Sessions never look at the board; they hand a Position and a move to an Engine
// and act on the Outcome.
package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/clock"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Terminal results reported by the engine.
const (
	ResultWhiteWin = "white_win"
	ResultBlackWin = "black_win"
	ResultDraw     = "draw"
)

// Position is the replayable state of a game.
type Position struct {
	FEN      string   `json:"fen"`
	MovesUCI []string `json:"moves_uci"`
	MovesSAN []string `json:"moves_san"`
	Ply      int      `json:"ply"`
}

// Turn derives the side to move from the ply counter.
func (p Position) Turn() clock.Color {
	if p.Ply%2 == 0 {
		return clock.White
	}
	return clock.Black
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	out := p
	out.MovesUCI = append([]string(nil), p.MovesUCI...)
	out.MovesSAN = append([]string(nil), p.MovesSAN...)
	return out
}

// Outcome is the result of applying one move.
type Outcome struct {
	Position Position
	Legal    bool
	UCI      string
	SAN      string
	Terminal bool
	Reason   string
	Result   string
}

// Engine validates and applies moves.
type Engine interface {
	Start() Position
	Apply(ctx context.Context, pos Position, move string) (Outcome, error)
	CanMate(ctx context.Context, pos Position, color clock.Color) (bool, error)
}

var ErrReplay = errors.New("rules: position replay failed")

// Chess implements Engine on corentings/chess.
type Chess struct{}

func NewChess() *Chess { return &Chess{} }

func (Chess) Start() Position {
	return Position{FEN: StartFEN, MovesUCI: []string{}, MovesSAN: []string{}}
}

// Apply replays pos from the initial position so repetition history is kept,
// then tries move as UCI and falls back to SAN.
func (c Chess) Apply(ctx context.Context, pos Position, move string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	game, err := replay(pos.MovesUCI)
	if err != nil {
		return Outcome{}, err
	}
	raw := strings.TrimSpace(move)
	if raw == "" {
		return Outcome{Position: pos}, nil
	}

	before := game.Position()
	uci := strings.ToLower(raw)
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			return Outcome{Position: pos}, nil
		}
	}
	last := lastMove(game)
	if last == nil {
		return Outcome{Position: pos}, nil
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Legal: true, UCI: last.String(), SAN: nchess.AlgebraicNotation{}.Encode(before, last)}
	next := pos.Clone()
	next.MovesUCI = append(next.MovesUCI, out.UCI)
	next.MovesSAN = append(next.MovesSAN, out.SAN)
	next.Ply = len(next.MovesUCI)
	next.FEN = game.FEN()
	out.Position = next

	// The library only records claimable draws when asked; the server ends the
	// game on them.
	if game.Outcome() == nchess.NoOutcome {
		for _, m := range game.EligibleDraws() {
			if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
				if err := game.Draw(m); err == nil {
					break
				}
			}
		}
	}

	switch game.Outcome() {
	case nchess.WhiteWon:
		out.Terminal, out.Result = true, ResultWhiteWin
	case nchess.BlackWon:
		out.Terminal, out.Result = true, ResultBlackWin
	case nchess.Draw:
		out.Terminal, out.Result = true, ResultDraw
	}
	if out.Terminal {
		out.Reason = methodReason(game.Method())
	}
	return out, nil
}

// CanMate reports whether color still has mating material.
// A lone king, or king with a single knight or bishop, cannot mate.
func (c Chess) CanMate(ctx context.Context, pos Position, color clock.Color) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	game, err := replay(pos.MovesUCI)
	if err != nil {
		return false, err
	}
	want := nchess.White
	if color == clock.Black {
		want = nchess.Black
	}
	board := game.Position().Board()
	minors, others := 0, 0
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece || piece.Color() != want {
				continue
			}
			switch piece.Type() {
			case nchess.King:
			case nchess.Knight, nchess.Bishop:
				minors++
			default:
				others++
			}
		}
	}
	return others > 0 || minors > 1, nil
}

func replay(moves []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d (%s): %v", ErrReplay, i+1, mv, err)
		}
	}
	return game, nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func methodReason(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	default:
		return strings.ToLower(m.String())
	}
}
