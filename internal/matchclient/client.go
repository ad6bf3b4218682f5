// Package matchclient is a small Go client for the match server's REST API and
// its websocket stream.
package matchclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-arena/pkg/protocol"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("match api: status %d", e.Status)
	}
	return fmt.Sprintf("match api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Code extracts the server reason code from err, if any.
func Code(err error) string {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

type TimeControl = protocol.TimeControl

type CreateRequest struct {
	TimeControl *TimeControl `json:"time_control,omitempty"`
	Preset      string       `json:"preset,omitempty"`
	Color       string       `json:"color,omitempty"`
	Identity    string       `json:"identity,omitempty"`
}

// Seat is returned by create and join.
type Seat struct {
	Code      string            `json:"code"`
	Seat      string            `json:"seat"`
	SeatToken string            `json:"seat_token"`
	Rejoined  bool              `json:"rejoined,omitempty"`
	Session   protocol.Snapshot `json:"session"`
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	retries int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithRetry sets how many attempts idempotent GETs get on 5xx or transport errors.
func WithRetry(n int) Option { return func(c *Client) { c.retries = n } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		timeout: 10 * time.Second,
		retries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (*Seat, error) {
	var out Seat
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, code string) (*protocol.Snapshot, error) {
	var out protocol.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(code), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Join seats identity, or returns its existing seat when seatToken matches.
func (c *Client) Join(ctx context.Context, code, identity, seatToken string) (*Seat, error) {
	var out Seat
	body := map[string]string{"identity": identity}
	if seatToken != "" {
		body["seat_token"] = seatToken
	}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+url.PathEscape(code)+"/join", body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveRequest is the body of POST /games/{code}/move.
type MoveRequest struct {
	Identity  string `json:"identity,omitempty"`
	SeatToken string `json:"seat_token,omitempty"`
	UCI       string `json:"uci"`
	Version   *int64 `json:"version,omitempty"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

func (c *Client) Move(ctx context.Context, code string, req MoveRequest) (*protocol.Snapshot, error) {
	var out protocol.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+url.PathEscape(code)+"/move", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resign(ctx context.Context, code, identity, seatToken string) (*protocol.Snapshot, error) {
	var out protocol.Snapshot
	body := map[string]string{"identity": identity, "seat_token": seatToken}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+url.PathEscape(code)+"/resign", body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports whether /healthz answers 200.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil, true)
}

// StreamURL builds the websocket URL for code.
func (c *Client) StreamURL(code, identity, seatToken string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	if identity != "" {
		q.Set("identity", identity)
	}
	if seatToken != "" {
		q.Set("seat_token", seatToken)
	}
	u := base + "/games/" + url.PathEscape(code) + "/stream"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retries > 1 {
		attempts = c.retries
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, backoff(attempt-1)); err != nil {
				return lastErr
			}
		}
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status}
			_ = json.Unmarshal(resp.Body(), apiErr)
			lastErr = apiErr
			if status >= 500 {
				continue
			}
			return apiErr
		}
		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff doubles from 100ms, capped at 3.2s.
func backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
