// Package httpapi is the REST and websocket entry point for matches.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/hub"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/telemetry"
	"github.com/park285/cheese-arena/pkg/protocol"
)

const defaultRequestTimeout = 10 * time.Second

// Config wires the API's collaborators.
type Config struct {
	Registry           *registry.Registry
	Hub                *hub.Hub
	Identities         identity.Resolver
	Messages           *msgcat.Catalog
	Metrics            *metrics.Metrics
	Logger             *zap.Logger
	DefaultTimeControl string
	Stream             hub.StreamOptions
	RequestTimeout     time.Duration
	// Middleware wraps the whole router, typically telemetry.Middleware.
	Middleware func(http.Handler) http.Handler
}

type API struct {
	reg        *registry.Registry
	hub        *hub.Hub
	ids        identity.Resolver
	messages   *msgcat.Catalog
	metrics    *metrics.Metrics
	log        *zap.Logger
	defaultTC  match.TimeControl
	stream     hub.StreamOptions
	timeout    time.Duration
	middleware func(http.Handler) http.Handler
}

func New(cfg Config) (*API, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.Identities == nil {
		cfg.Identities = identity.Plain{}
	}
	if cfg.Messages == nil {
		cfg.Messages = msgcat.MustDefault()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DefaultTimeControl == "" {
		cfg.DefaultTimeControl = match.DefaultPreset
	}
	tc, err := match.Preset(cfg.DefaultTimeControl)
	if err != nil {
		return nil, err
	}
	return &API{
		reg:        cfg.Registry,
		hub:        cfg.Hub,
		ids:        cfg.Identities,
		messages:   cfg.Messages,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		defaultTC:  tc,
		stream:     cfg.Stream,
		timeout:    cfg.RequestTimeout,
		middleware: cfg.Middleware,
	}, nil
}

// Routes builds the chi router. The timeout middleware only covers the REST
// group since streams are long-lived.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if a.middleware != nil {
		r.Use(a.middleware)
	}

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}
	r.Get("/games/{code}/stream", a.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.timeout))
		r.Get("/time-controls", a.handleTimeControls)
		r.Post("/games", a.handleCreate)
		r.Get("/games/{code}", a.handleGet)
		r.Post("/games/{code}/join", a.handleJoin)
		r.Post("/games/{code}/move", a.handleMove)
		r.Post("/games/{code}/resign", a.handleResign)
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for status, n := range a.reg.Counts() {
		counts[string(status)] = n
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.reg.Len(), "by_status": counts})
}

func (a *API) handleTimeControls(w http.ResponseWriter, r *http.Request) {
	out := make([]match.TimeControl, 0, len(match.PresetNames()))
	for _, name := range match.PresetNames() {
		tc, err := match.Preset(name)
		if err == nil {
			out = append(out, tc)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"default": a.defaultTC.Preset, "presets": out})
}

type createRequest struct {
	TimeControl *match.TimeControl `json:"time_control,omitempty"`
	Preset      string             `json:"preset,omitempty"`
	Color       string             `json:"color,omitempty"`
	Identity    string             `json:"identity,omitempty"`
}

type identityRequest struct {
	Identity  string `json:"identity,omitempty"`
	SeatToken string `json:"seat_token,omitempty"`
}

type moveRequest struct {
	Identity  string `json:"identity,omitempty"`
	SeatToken string `json:"seat_token,omitempty"`
	UCI       string `json:"uci"`
	Version   *int64 `json:"version,omitempty"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

// SeatResponse answers create and join.
type SeatResponse struct {
	Code      string            `json:"code"`
	Seat      string            `json:"seat"`
	SeatToken string            `json:"seat_token"`
	Rejoined  bool              `json:"rejoined,omitempty"`
	Session   protocol.Snapshot `json:"session"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "arena.create")
	defer span.End()

	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.respondError(w, r, malformed(err))
		return
	}
	id, err := a.resolve(r, req.Identity)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	tc, err := a.timeControl(req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	color, err := match.ParseColorChoice(req.Color)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	s, res, err := a.reg.Create(ctx, registry.CreateRequest{TimeControl: tc, Color: color, Creator: id})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("arena.code", s.Code()), attribute.String("arena.time_control", tc.String()))
	respondJSON(w, http.StatusCreated, SeatResponse{
		Code:      s.Code(),
		Seat:      res.Seat.String(),
		SeatToken: res.Token,
		Session:   s.Snapshot().Wire(),
	})
}

func (a *API) timeControl(req createRequest) (match.TimeControl, error) {
	switch {
	case req.TimeControl != nil && req.Preset != "":
		return match.TimeControl{}, malformed(errors.New("give either time_control or preset"))
	case req.TimeControl != nil:
		tc := *req.TimeControl
		tc.Preset = ""
		return tc, tc.Validate()
	case req.Preset != "":
		return match.Preset(req.Preset)
	default:
		return a.defaultTC, nil
	}
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := a.reg.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	_, span := telemetry.Tracer().Start(r.Context(), "arena.join")
	span.SetAttributes(attribute.String("arena.code", code))
	defer span.End()

	var req identityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.respondError(w, r, malformed(err))
		return
	}
	id, err := a.resolve(r, req.Identity)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	s, err := a.reg.Get(code)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	res, err := s.Join(id, req.SeatToken)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SeatResponse{
		Code:      s.Code(),
		Seat:      res.Seat.String(),
		SeatToken: res.Token,
		Rejoined:  res.Rejoined,
		Session:   s.Snapshot().Wire(),
	})
}

// handleMove is the REST twin of the stream's move frame. Attached streams see
// the result as a regular move_applied event.
func (a *API) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.respondError(w, r, malformed(err))
		return
	}
	if strings.TrimSpace(req.UCI) == "" {
		a.respondError(w, r, malformed(errors.New("uci is required")))
		return
	}
	id, err := a.resolve(r, req.Identity)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	s, err := a.reg.Get(chi.URLParam(r, "code"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	start := time.Now()
	_, err = s.SubmitMove(r.Context(), match.MoveRequest{
		Role:            s.Bind(id, req.SeatToken),
		Move:            req.UCI,
		ExpectedVersion: req.Version,
		ClientElapsedMs: req.ElapsedMs,
	})
	a.metrics.ObserveApply(time.Since(start))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot().Wire())
}

func (a *API) handleResign(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.respondError(w, r, malformed(err))
		return
	}
	id, err := a.resolve(r, req.Identity)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	s, err := a.reg.Get(chi.URLParam(r, "code"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := s.Resign(s.Bind(id, req.SeatToken)); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot().Wire())
}

// handleStream upgrades to a websocket. Callers without a seat watch as
// spectators; an identity is optional for them.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	s, err := a.reg.Get(chi.URLParam(r, "code"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	id := match.Identity{Name: "spectator", Guest: true}
	if tok := strings.TrimSpace(q.Get("identity")); tok != "" || bearer(r) != "" {
		if id, err = a.resolve(r, tok); err != nil {
			a.respondError(w, r, err)
			return
		}
	}
	role := s.Bind(id, q.Get("seat_token"))
	a.hub.ServeStream(w, r, s.Code(), role, id, a.stream)
}

// resolve prefers the explicit token, then an Authorization bearer token.
func (a *API) resolve(r *http.Request, token string) (match.Identity, error) {
	if strings.TrimSpace(token) == "" {
		token = bearer(r)
	}
	return a.ids.Resolve(token)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
