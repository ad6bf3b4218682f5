package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/cheese-arena/internal/match"
)

func TestPlainResolve(t *testing.T) {
	cases := []struct {
		in   string
		want match.Identity
	}{
		{"guest:alice", match.Identity{Name: "alice", Guest: true}},
		{"user:u-42:bob", match.Identity{UserID: "u-42", Name: "bob"}},
		{"user:u-42", match.Identity{UserID: "u-42", Name: "u-42"}},
		{"  u-7 ", match.Identity{UserID: "u-7", Name: "u-7"}},
		{"user:u-1:Dr: Who", match.Identity{UserID: "u-1", Name: "Dr: Who"}},
	}
	for _, tc := range cases {
		got, err := Plain{}.Resolve(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.in, got, tc.want)
		}
	}
}

func TestPlainResolveRejects(t *testing.T) {
	for _, in := range []string{"", "guest:", "user:", "user::bob", "oauth:xyz", "guest:a\tb", "guest:" + strings.Repeat("x", 65)} {
		if _, err := (Plain{}).Resolve(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%q: err = %v", in, err)
		}
	}
}
