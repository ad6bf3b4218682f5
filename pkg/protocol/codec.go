package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Decode failure reasons, stable on the wire.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
)

// DecodeError reports why a frame was refused.
type DecodeError struct {
	Reason string
	Type   Type
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol: %s %q: %v", e.Reason, e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errMissingType = errors.New("missing type")
	errTrailing    = errors.New("trailing data after frame")
)

// MaxFrameBytes bounds a single client frame.
const MaxFrameBytes = 4 << 10

func malformed(t Type, err error) error {
	return &DecodeError{Reason: ReasonMalformed, Type: t, Err: err}
}

func peekType(b []byte) (Type, error) {
	var head struct {
		Type *Type `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "", malformed("", err)
	}
	if head.Type == nil || *head.Type == "" {
		return "", malformed("", errMissingType)
	}
	return *head.Type, nil
}

// strict decodes b into v refusing unknown fields and trailing tokens.
func strict(t Type, b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return malformed(t, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return malformed(t, errTrailing)
	}
	return nil
}

// DecodeClient parses one client frame.
func DecodeClient(b []byte) (ClientMessage, error) {
	if len(b) > MaxFrameBytes {
		return nil, malformed("", fmt.Errorf("frame of %d bytes exceeds %d", len(b), MaxFrameBytes))
	}
	t, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeMove:
		var w struct {
			Type Type `json:"type"`
			Move
		}
		if err := strict(t, b, &w); err != nil {
			return nil, err
		}
		if strings.TrimSpace(w.UCI) == "" {
			return nil, malformed(t, errors.New("uci is required"))
		}
		if w.ElapsedMs != nil && *w.ElapsedMs < 0 {
			return nil, malformed(t, errors.New("elapsed_ms must be >= 0"))
		}
		return w.Move, nil
	case TypeResign:
		var w struct {
			Type Type `json:"type"`
		}
		if err := strict(t, b, &w); err != nil {
			return nil, err
		}
		return Resign{}, nil
	case TypeTimeoutClaim:
		var w struct {
			Type Type `json:"type"`
			TimeoutClaim
		}
		if err := strict(t, b, &w); err != nil {
			return nil, err
		}
		switch w.Color {
		case "white", "black":
		default:
			return nil, malformed(t, fmt.Errorf("color must be white or black, got %q", w.Color))
		}
		return w.TimeoutClaim, nil
	}
	return nil, &DecodeError{Reason: ReasonUnknownType, Type: t, Err: errors.New("unsupported client message")}
}

// EncodeClient renders a client frame.
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch v := m.(type) {
	case Move:
		return json.Marshal(struct {
			Type Type `json:"type"`
			Move
		}{TypeMove, v})
	case Resign:
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{TypeResign})
	case TimeoutClaim:
		return json.Marshal(struct {
			Type Type `json:"type"`
			TimeoutClaim
		}{TypeTimeoutClaim, v})
	}
	return nil, fmt.Errorf("protocol: cannot encode client message %T", m)
}

// EncodeServer renders a server frame.
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch v := m.(type) {
	case Snapshot:
		return json.Marshal(struct {
			Type Type `json:"type"`
			Snapshot
		}{TypeSnapshot, v})
	case MoveApplied:
		return json.Marshal(struct {
			Type Type `json:"type"`
			MoveApplied
		}{TypeMoveApplied, v})
	case GameOver:
		return json.Marshal(struct {
			Type Type `json:"type"`
			GameOver
		}{TypeGameOver, v})
	case PlayerJoined:
		return json.Marshal(struct {
			Type Type `json:"type"`
			PlayerJoined
		}{TypePlayerJoined, v})
	case PeerDisconnected:
		return json.Marshal(struct {
			Type Type `json:"type"`
			PeerDisconnected
		}{TypePeerDisconnected, v})
	case PeerReconnected:
		return json.Marshal(struct {
			Type Type `json:"type"`
			PeerReconnected
		}{TypePeerReconnected, v})
	case Rejected:
		return json.Marshal(struct {
			Type Type `json:"type"`
			Rejected
		}{TypeRejected, v})
	}
	return nil, fmt.Errorf("protocol: cannot encode server message %T", m)
}

// DecodeServer parses one server frame. Unknown fields are tolerated here so
// older clients keep working against newer servers.
func DecodeServer(b []byte) (ServerMessage, error) {
	t, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeSnapshot:
		return decodeAs[Snapshot](t, b)
	case TypeMoveApplied:
		return decodeAs[MoveApplied](t, b)
	case TypeGameOver:
		return decodeAs[GameOver](t, b)
	case TypePlayerJoined:
		return decodeAs[PlayerJoined](t, b)
	case TypePeerDisconnected:
		return decodeAs[PeerDisconnected](t, b)
	case TypePeerReconnected:
		return decodeAs[PeerReconnected](t, b)
	case TypeRejected:
		return decodeAs[Rejected](t, b)
	}
	return nil, &DecodeError{Reason: ReasonUnknownType, Type: t, Err: errors.New("unsupported server message")}
}

func decodeAs[T ServerMessage](t Type, b []byte) (ServerMessage, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, malformed(t, err)
	}
	return v, nil
}
