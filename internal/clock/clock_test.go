package clock

import "testing"

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatalf("expected error for zero initial time")
	}
	if _, err := New(1000, -1); err == nil {
		t.Fatalf("expected error for negative increment")
	}
}

func TestOnMoveAcceptedFormula(t *testing.T) {
	cases := []struct {
		name      string
		initial   int64
		increment int64
		elapsed   int64
		want      int64
	}{
		{"no increment", 300000, 0, 10000, 290000},
		{"with increment", 120000, 1000, 5000, 116000},
		{"negative elapsed treated as zero", 60000, 0, -50, 60000},
		{"exhausted clock is not credited", 1000, 2000, 1500, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.initial, tc.increment)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := c.OnMoveAccepted(White, tc.elapsed); got != tc.want {
				t.Fatalf("remaining = %d; want %d", got, tc.want)
			}
			if got := c.Remaining(Black); got != tc.initial {
				t.Fatalf("black clock moved: %d", got)
			}
		})
	}
}

func TestDebitFlagsAtZero(t *testing.T) {
	c, _ := New(5000, 0)
	rem, flagged := c.Debit(Black, 5000)
	if rem != 0 || !flagged {
		t.Fatalf("expected flagged at zero, got rem=%d flagged=%v", rem, flagged)
	}
	if !c.OnTimeout(Black) {
		t.Fatalf("expected black to forfeit")
	}
	if c.OnTimeout(White) {
		t.Fatalf("white must not forfeit")
	}
	if got := c.Credit(Black); got != 0 {
		t.Fatalf("flagged clock credited: %d", got)
	}
}

func TestProjectDoesNotMutate(t *testing.T) {
	c, _ := New(10000, 0)
	if got := c.Project(White, 12000); got != 0 {
		t.Fatalf("project = %d; want 0", got)
	}
	if c.Remaining(White) != 10000 || c.Flagged(White) {
		t.Fatalf("project mutated clock")
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	c, _ := New(3000, 0)
	for i := 0; i < 5; i++ {
		c.Debit(White, 1000)
		if c.Remaining(White) < 0 {
			t.Fatalf("negative remaining after %d debits", i+1)
		}
	}
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]Color{"white": White, "W": White, " black ": Black, "b": Black} {
		got, err := ParseColor(in)
		if err != nil || got != want {
			t.Fatalf("ParseColor(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseColor("red"); err == nil {
		t.Fatalf("expected error for unknown color")
	}
	if White.Other() != Black || Black.Other() != White {
		t.Fatalf("Other is not an involution")
	}
}
