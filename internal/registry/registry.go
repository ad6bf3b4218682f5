// Package registry owns the code → session map and session lifecycle:
// creation, lookup, creation timeout and eviction after the retention window.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/pkg/protocol"
)

const (
	DefaultCreationTimeout = 10 * time.Minute
	DefaultRetention       = 15 * time.Minute
	DefaultSweepInterval   = 30 * time.Second
	mirrorTimeout          = 2 * time.Second
)

// Config wires a Registry. Only Engine is required.
type Config struct {
	Engine          rules.Engine
	Time            match.TimeSource
	CreationTimeout time.Duration
	Retention       time.Duration
	DisconnectGrace time.Duration
	HintTolerance   time.Duration
	Mirror          Mirror
	Logger          *zap.Logger
}

// Hooks lets other components attach to session lifecycle.
type Hooks struct {
	// OnCreate runs once per new session before the creator is seated, so
	// subscribers see the creator's player_joined event.
	OnCreate func(*match.Session)
	// OnEvict runs after a session leaves the map.
	OnEvict func(code string)
}

// Registry is safe for concurrent use. Its lock never nests inside a session lock.
type Registry struct {
	cfg   Config
	log   *zap.Logger
	hooks Hooks

	mu       sync.RWMutex
	sessions map[string]*match.Session
	timers   map[string]match.Timer

	mirrorQ *match.AsyncListener
}

func New(cfg Config, hooks Hooks) (*Registry, error) {
	if cfg.Engine == nil {
		return nil, errors.New("registry: rules engine is required")
	}
	if cfg.Time == nil {
		cfg.Time = match.SystemTime{}
	}
	if cfg.CreationTimeout <= 0 {
		cfg.CreationTimeout = DefaultCreationTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Registry{
		cfg:      cfg,
		log:      cfg.Logger,
		hooks:    hooks,
		sessions: map[string]*match.Session{},
		timers:   map[string]match.Timer{},
	}
	if cfg.Mirror != nil {
		r.mirrorQ = match.NewAsyncListener(256, cfg.Logger, r.mirror)
	}
	return r, nil
}

// CreateRequest describes a new session.
type CreateRequest struct {
	TimeControl match.TimeControl
	Color       match.ColorChoice
	Creator     match.Identity
}

// Create allocates a unique code, builds the session and seats the creator.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*match.Session, match.JoinResult, error) {
	if err := req.TimeControl.Validate(); err != nil {
		return nil, match.JoinResult{}, err
	}
	code, err := r.allocate(ctx)
	if err != nil {
		return nil, match.JoinResult{}, err
	}
	s, err := match.New(match.Options{
		Code:            code,
		TimeControl:     req.TimeControl,
		CreatorColor:    req.Color,
		Engine:          r.cfg.Engine,
		Time:            r.cfg.Time,
		DisconnectGrace: r.cfg.DisconnectGrace,
		HintTolerance:   r.cfg.HintTolerance,
		Logger:          r.log,
	})
	if err != nil {
		return nil, match.JoinResult{}, err
	}
	if r.mirrorQ != nil {
		s.Subscribe(r.mirrorQ.Listen)
	}
	if r.hooks.OnCreate != nil {
		r.hooks.OnCreate(s)
	}
	r.mu.Lock()
	r.sessions[code] = s
	r.mu.Unlock()

	res, err := s.Join(req.Creator, "")
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, code)
		r.mu.Unlock()
		return nil, match.JoinResult{}, err
	}

	r.mu.Lock()
	r.timers[code] = r.cfg.Time.AfterFunc(r.cfg.CreationTimeout, func() { r.expire(code) })
	r.mu.Unlock()

	r.log.Info("match_create", zap.String("code", code), zap.String("creator", req.Creator.Key()), zap.String("seat", res.Seat.String()), zap.String("time_control", req.TimeControl.String()))
	return s, res, nil
}

// allocate picks a code free both locally and in the mirror.
func (r *Registry) allocate(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := codeGen()
		if err != nil {
			return "", err
		}
		r.mu.RLock()
		_, taken := r.sessions[code]
		r.mu.RUnlock()
		if taken {
			continue
		}
		if r.cfg.Mirror == nil {
			return code, nil
		}
		ok, err := r.cfg.Mirror.Reserve(ctx, code, r.cfg.CreationTimeout+r.cfg.Retention)
		if err != nil {
			return "", fmt.Errorf("%w: %v", match.ErrInternal, err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: failed to allocate session code", match.ErrInternal)
}

// Get returns the live session for code.
func (r *Registry) Get(code string) (*match.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[strings.TrimSpace(code)]
	r.mu.RUnlock()
	if !ok {
		return nil, match.ErrSessionNotFound
	}
	return s, nil
}

// Lookup returns a snapshot for code, falling back to the mirror for sessions
// that were evicted here or live on another instance.
func (r *Registry) Lookup(ctx context.Context, code string) (protocol.Snapshot, error) {
	if s, err := r.Get(code); err == nil {
		return s.Snapshot().Wire(), nil
	}
	if r.cfg.Mirror == nil || !ValidCode(code) {
		return protocol.Snapshot{}, match.ErrSessionNotFound
	}
	snap, err := r.cfg.Mirror.Load(ctx, code)
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("%w: %v", match.ErrInternal, err)
	}
	if snap == nil {
		return protocol.Snapshot{}, match.ErrSessionNotFound
	}
	return *snap, nil
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Counts groups live sessions by status.
func (r *Registry) Counts() map[match.Status]int {
	out := map[match.Status]int{}
	for _, s := range r.list() {
		out[s.Status()]++
	}
	return out
}

func (r *Registry) list() []*match.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*match.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) expire(code string) {
	s, err := r.Get(code)
	if err != nil {
		return
	}
	if s.Expire() {
		r.evict(code, "creation_timeout")
	}
}

// SweepStats reports what one sweep did.
type SweepStats struct {
	Expired int
	Evicted int
}

// Sweep expires sessions waiting longer than the creation timeout and evicts
// terminal sessions older than the retention window. Session locks are taken
// one at a time with the registry lock released.
func (r *Registry) Sweep(now time.Time) SweepStats {
	var st SweepStats
	for _, s := range r.list() {
		switch status := s.Status(); {
		case status == match.StatusWaiting && now.Sub(s.CreatedAt()) >= r.cfg.CreationTimeout:
			if s.Expire() {
				st.Expired++
				r.evict(s.Code(), "creation_timeout")
				st.Evicted++
			}
		case status.Terminal():
			if ended := s.EndedAt(); !ended.IsZero() && now.Sub(ended) >= r.cfg.Retention {
				r.evict(s.Code(), "retention")
				st.Evicted++
			}
		}
	}
	if st.Expired > 0 || st.Evicted > 0 {
		r.log.Info("registry_sweep", zap.Int("expired", st.Expired), zap.Int("evicted", st.Evicted), zap.Int("live", r.Len()))
	}
	return st
}

func (r *Registry) evict(code, why string) {
	r.mu.Lock()
	_, ok := r.sessions[code]
	delete(r.sessions, code)
	if t := r.timers[code]; t != nil {
		t.Stop()
	}
	delete(r.timers, code)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.log.Info("match_evict", zap.String("code", code), zap.String("why", why))
	if r.hooks.OnEvict != nil {
		r.hooks.OnEvict(code)
	}
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.cfg.Time.Now())
		}
	}
}

// Close stops pending creation timers and flushes mirror writes.
func (r *Registry) Close() {
	r.mu.Lock()
	for code, t := range r.timers {
		t.Stop()
		delete(r.timers, code)
	}
	r.mu.Unlock()
	if r.mirrorQ != nil {
		r.mirrorQ.Close()
	}
}

// mirror runs on the async listener goroutine, never under a session lock.
func (r *Registry) mirror(ev match.Event) {
	var snap protocol.Snapshot
	switch {
	case ev.Snapshot != nil:
		snap = ev.Snapshot.Wire()
	default:
		s, err := r.Get(ev.Code)
		if err != nil {
			return
		}
		snap = s.Snapshot().Wire()
	}
	ttl := r.cfg.Retention
	if !match.Status(snap.Status).Terminal() {
		ttl += r.cfg.CreationTimeout + time.Duration(snap.TimeControl.InitialSeconds)*2*time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.cfg.Mirror.Save(ctx, snap, ttl); err != nil {
		r.log.Warn("registry_mirror_error", zap.String("code", ev.Code), zap.Error(err))
	}
}
