// Package clock implements the per-color chess clock with increment-on-move semantics.
// It never reads wall time: callers measure elapsed time and pass it in.
package clock

import (
	"fmt"
	"strings"
)

// Color selects one of the two countdowns.
type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// ParseColor accepts "white"/"w" and "black"/"b", case-insensitive.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return White, fmt.Errorf("unknown color %q", s)
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Clock holds both countdowns in milliseconds.
type Clock struct {
	remaining   [2]int64
	incrementMs int64
	flagged     [2]bool
}

// New returns a clock with both sides at initialMs.
func New(initialMs, incrementMs int64) (*Clock, error) {
	if initialMs <= 0 {
		return nil, fmt.Errorf("initial time must be > 0: %d", initialMs)
	}
	if incrementMs < 0 {
		return nil, fmt.Errorf("increment must be >= 0: %d", incrementMs)
	}
	return &Clock{remaining: [2]int64{initialMs, initialMs}, incrementMs: incrementMs}, nil
}

// Remaining returns the stored remaining time for color.
func (c *Clock) Remaining(color Color) int64 { return c.remaining[color] }

// Flagged reports whether color's clock has reached zero.
func (c *Clock) Flagged(color Color) bool { return c.flagged[color] }

// Project returns what Remaining would be after elapsedMs without mutating the clock.
func (c *Clock) Project(color Color, elapsedMs int64) int64 {
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	return clamp(c.remaining[color] - elapsedMs)
}

// Debit subtracts elapsedMs from color and flags it when the result is not positive.
func (c *Clock) Debit(color Color, elapsedMs int64) (remaining int64, flagged bool) {
	c.remaining[color] = c.Project(color, elapsedMs)
	if c.remaining[color] == 0 {
		c.flagged[color] = true
	}
	return c.remaining[color], c.flagged[color]
}

// Credit adds the increment to color. Flagged clocks are not credited.
func (c *Clock) Credit(color Color) int64 {
	if !c.flagged[color] {
		c.remaining[color] += c.incrementMs
	}
	return c.remaining[color]
}

// OnMoveAccepted applies debit-then-increment for a confirmed legal move.
// A move that exhausts the clock is not credited and leaves color flagged.
func (c *Clock) OnMoveAccepted(color Color, elapsedMs int64) int64 {
	if _, flagged := c.Debit(color, elapsedMs); flagged {
		return 0
	}
	return c.Credit(color)
}

// OnTimeout reports whether color forfeits on time.
func (c *Clock) OnTimeout(color Color) bool { return c.flagged[color] }

func clamp(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}
