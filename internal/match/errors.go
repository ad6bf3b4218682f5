package match

import "errors"

// Code is the stable reason sent in rejected frames and HTTP error bodies.
type Code string

const (
	CodeInvalidSeat         Code = "invalid_seat"
	CodeNotYourTurn         Code = "not_your_turn"
	CodeIllegalMove         Code = "illegal_move"
	CodeStaleVersion        Code = "stale_version"
	CodeSessionNotFound     Code = "session_not_found"
	CodeSessionTerminal     Code = "session_terminal"
	CodeTimeoutClaimInvalid Code = "timeout_claim_invalid"
	CodeNotStarted          Code = "not_started"
	CodeClockFlagged        Code = "clock_flagged"
	CodeMalformed           Code = "malformed"
	CodeUnknownType         Code = "unknown_type"
	CodeInternal            Code = "internal"
)

// Errors. Compare with errors.Is; wrapped variants keep their code.
var (
	ErrInvalidSeat         = errf(CodeInvalidSeat, "seat is not available")
	ErrNotYourTurn         = errf(CodeNotYourTurn, "it is not your turn")
	ErrIllegalMove         = errf(CodeIllegalMove, "move is not legal in this position")
	ErrStaleVersion        = errf(CodeStaleVersion, "session has moved past this version")
	ErrSessionNotFound     = errf(CodeSessionNotFound, "session not found")
	ErrSessionTerminal     = errf(CodeSessionTerminal, "session is over")
	ErrTimeoutClaimInvalid = errf(CodeTimeoutClaimInvalid, "clock has not run out")
	ErrNotStarted          = errf(CodeNotStarted, "session has not started")
	ErrClockFlagged        = errf(CodeClockFlagged, "clock has run out")
	ErrMalformed           = errf(CodeMalformed, "malformed request")
	ErrInternal            = errf(CodeInternal, "internal error")
)

type codedErr struct {
	code Code
	msg  string
}

func (e codedErr) Error() string { return e.msg }

func errf(code Code, msg string) error { return codedErr{code: code, msg: msg} }

// CodeOf returns the reason code carried by err, or CodeInternal for anything
// that is not one of the session errors.
func CodeOf(err error) Code {
	var ce codedErr
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeInternal
}
