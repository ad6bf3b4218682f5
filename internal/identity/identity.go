// Package identity turns the opaque identity token a client presents into a
// match.Identity.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/park285/cheese-arena/internal/match"
)

// ErrInvalid is returned for tokens that cannot name a participant.
var ErrInvalid = errors.New("identity: invalid token")

const maxPart = 64

// Resolver maps a bearer token to an identity. Implementations must be safe
// for concurrent use.
type Resolver interface {
	Resolve(token string) (match.Identity, error)
}

// Plain implements the token grammar
//
//	guest:<name>            guest player
//	user:<id>[:<name>]      authenticated user
//	<id>                    authenticated user, name defaults to id
//
// Plain is for development and tests only. It verifies nothing: any caller can
// claim user:<id> and act for that user's seat. Production deployments put a
// Resolver in front that checks a signed credential. Guest seats stay safe
// because they bind only through the server-issued seat token.
type Plain struct{}

func (Plain) Resolve(token string) (match.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return match.Identity{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	if name, ok := strings.CutPrefix(token, "guest:"); ok {
		if err := checkPart(name); err != nil {
			return match.Identity{}, err
		}
		return match.Identity{Name: name, Guest: true}, nil
	}
	if rest, ok := strings.CutPrefix(token, "user:"); ok {
		id, name, _ := strings.Cut(rest, ":")
		if name == "" {
			name = id
		}
		if err := checkPart(id); err != nil {
			return match.Identity{}, err
		}
		if err := checkPart(name); err != nil {
			return match.Identity{}, err
		}
		return match.Identity{UserID: id, Name: name}, nil
	}
	if strings.Contains(token, ":") {
		return match.Identity{}, fmt.Errorf("%w: unknown scheme", ErrInvalid)
	}
	if err := checkPart(token); err != nil {
		return match.Identity{}, err
	}
	return match.Identity{UserID: token, Name: token}, nil
}

func checkPart(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty component", ErrInvalid)
	}
	if utf8.RuneCountInString(s) > maxPart {
		return fmt.Errorf("%w: component longer than %d", ErrInvalid, maxPart)
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character", ErrInvalid)
		}
	}
	return nil
}
