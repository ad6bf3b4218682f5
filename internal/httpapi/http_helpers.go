package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/match"
)

const maxBodyBytes = 16 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a rejection code onto an HTTP status.
func statusFor(code match.Code) int {
	switch code {
	case match.CodeSessionNotFound:
		return http.StatusNotFound
	case match.CodeInvalidSeat, match.CodeSessionTerminal, match.CodeNotStarted,
		match.CodeStaleVersion, match.CodeNotYourTurn, match.CodeClockFlagged:
		return http.StatusConflict
	case match.CodeMalformed, match.CodeUnknownType, match.CodeIllegalMove, match.CodeTimeoutClaimInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, identity.ErrInvalid) {
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_identity", Message: err.Error()})
		return
	}
	code := match.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		a.log.Error("http_internal_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	a.metrics.Rejected(code)
	respondJSON(w, status, errorBody{Error: string(code), Message: a.messages.Reject(string(code), nil)})
}

// malformed wraps a request-shape problem so it maps to 400.
func malformed(err error) error {
	return errors.Join(match.ErrMalformed, err)
}
