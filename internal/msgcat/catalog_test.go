package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRejectUsesEmbeddedTexts(t *testing.T) {
	c := MustDefault()
	if got := c.Reject("not_your_turn", nil); got != "It is not your turn." {
		t.Fatalf("got %q", got)
	}
	if got := c.Reject("illegal_move", map[string]any{"move": "e2e5"}); got != "e2e5 is not a legal move here." {
		t.Fatalf("got %q", got)
	}
	if got := c.Reject("no_such_code", nil); got != "Request rejected." {
		t.Fatalf("fallback = %q", got)
	}
}

func TestRenderMissingKeyErrors(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("notice.game_over", map[string]any{"result": "draw"}); err == nil {
		t.Fatalf("expected error for missing template variable")
	}
	if _, err := c.Render("nope", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("reject:\n  not_your_turn: \"Wait for your opponent.\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.Reject("not_your_turn", nil); got != "Wait for your opponent." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Reject("session_terminal", nil); got != "The game is already over." {
		t.Fatalf("embedded text lost: %q", got)
	}
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("reject:\n  internal: \"x\"\n")
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestOverrideRejectsNonString(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("reject:\n  internal: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected error for non-string leaf")
	}
}
