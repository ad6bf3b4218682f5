package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/match"
)

// PGNResult maps a session result to the PGN result token.
func PGNResult(r match.Result) string {
	switch r {
	case match.ResultWhiteWin:
		return "1-0"
	case match.ResultBlackWin:
		return "0-1"
	case match.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders rec's SAN list with a seven-tag roster plus time control
// and termination headers.
func BuildPGN(rec Record) string {
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := PGNResult(rec.Result)
	tag := func(name, value string) {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", name, sanitizePGN(value))
	}
	tag("Event", "Arena match "+rec.Code)
	tag("Site", "cheese-arena")
	tag("Date", date.UTC().Format("2006.01.02"))
	tag("Round", "-")
	tag("White", rec.WhiteName)
	tag("Black", rec.BlackName)
	tag("Result", result)
	if rec.TimeControl.InitialSeconds > 0 {
		tag("TimeControl", fmt.Sprintf("%d+%d", rec.TimeControl.InitialSeconds, rec.TimeControl.IncrementSeconds))
	}
	if rec.Reason != "" {
		tag("Termination", string(rec.Reason))
	}
	b.WriteString("\n")

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(rec.MovesSAN[i]))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
