package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-arena/pkg/protocol"
)

// Mirror shares session codes and snapshots across server instances.
type Mirror interface {
	// Reserve claims code; false means another instance already holds it.
	Reserve(ctx context.Context, code string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, snap protocol.Snapshot, ttl time.Duration) error
	// Load returns nil without error when nothing is stored.
	Load(ctx context.Context, code string) (*protocol.Snapshot, error)
}

// RedisMirror stores match:<code> as JSON.
type RedisMirror struct{ rdb *redis.Client }

func NewRedisMirror(rdb *redis.Client) *RedisMirror { return &RedisMirror{rdb: rdb} }

func (m *RedisMirror) keySnapshot(code string) string { return "match:" + strings.TrimSpace(code) }

func (m *RedisMirror) Reserve(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.keySnapshot(code), []byte("{}"), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry: reserve %s: %w", code, err)
	}
	return ok, nil
}

func (m *RedisMirror) Save(ctx context.Context, snap protocol.Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := m.rdb.Set(ctx, m.keySnapshot(snap.Code), raw, ttl).Err(); err != nil {
		return fmt.Errorf("registry: save %s: %w", snap.Code, err)
	}
	return nil
}

func (m *RedisMirror) Load(ctx context.Context, code string) (*protocol.Snapshot, error) {
	raw, err := m.rdb.Get(ctx, m.keySnapshot(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: load %s: %w", code, err)
	}
	var snap protocol.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	// A bare reservation has no code yet.
	if snap.Code == "" {
		return nil, nil
	}
	return &snap, nil
}

// ParseRedisURL converts redis://[:password@]host:port[/db] into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
