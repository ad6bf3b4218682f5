// Package archive persists finished matches to Postgres.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/match"
)

// Record is one finished match as stored.
type Record struct {
	Code        string
	WhiteID     string
	WhiteName   string
	BlackID     string
	BlackName   string
	TimeControl match.TimeControl
	Result      match.Result
	Reason      match.Reason
	MovesUCI    []string
	MovesSAN    []string
	Version     int64
	StartedAt   time.Time
	EndedAt     time.Time
}

// DurationMs is the wall time between start and end, never negative.
func (r Record) DurationMs() int64 {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt).Milliseconds()
}

// RecordFrom extracts the archivable part of a terminal snapshot.
func RecordFrom(snap match.Snapshot) Record {
	rec := Record{
		Code:        snap.Code,
		TimeControl: snap.TimeControl,
		Result:      snap.Result,
		Reason:      snap.Reason,
		MovesUCI:    append([]string(nil), snap.MovesUCI...),
		MovesSAN:    append([]string(nil), snap.MovesSAN...),
		Version:     snap.Version,
		StartedAt:   snap.StartedAt,
		EndedAt:     snap.EndedAt,
	}
	if p := snap.White; p != nil {
		rec.WhiteID, rec.WhiteName = playerID(p.Identity), p.Identity.Name
	}
	if p := snap.Black; p != nil {
		rec.BlackID, rec.BlackName = playerID(p.Identity), p.Identity.Name
	}
	return rec
}

func playerID(id match.Identity) string {
	if id.Guest {
		return ""
	}
	return id.UserID
}

// Store saves finished matches.
type Store interface {
	SaveResult(ctx context.Context, rec Record) error
}

type Repository struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS match_results (
	code          TEXT PRIMARY KEY,
	white_id      TEXT,
	white_name    TEXT NOT NULL,
	black_id      TEXT,
	black_name    TEXT NOT NULL,
	time_control  TEXT NOT NULL,
	result        TEXT NOT NULL,
	reason        TEXT NOT NULL,
	moves_uci     TEXT[] NOT NULL,
	moves_san     TEXT[] NOT NULL,
	pgn           TEXT NOT NULL,
	version       BIGINT NOT NULL,
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

// Open connects to databaseURL and makes sure the table exists.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("archive: DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if _, err := db.ExecContext(pctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts rec keyed by session code.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	var started any
	if !rec.StartedAt.IsZero() {
		started = rec.StartedAt
	}
	const q = `INSERT INTO match_results (
		code, white_id, white_name, black_id, black_name, time_control,
		result, reason, moves_uci, moves_san, pgn, version,
		started_at, ended_at, duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (code) DO UPDATE SET
		result=EXCLUDED.result,
		reason=EXCLUDED.reason,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		version=EXCLUDED.version,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms
	WHERE match_results.version < EXCLUDED.version`

	_, err := r.db.ExecContext(ctx, q,
		rec.Code,
		nullable(rec.WhiteID), rec.WhiteName,
		nullable(rec.BlackID), rec.BlackName,
		rec.TimeControl.String(),
		string(rec.Result), string(rec.Reason),
		pq.Array(rec.MovesUCI), pq.Array(rec.MovesSAN),
		BuildPGN(rec), rec.Version,
		started, rec.EndedAt, rec.DurationMs(),
	)
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", rec.Code, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
