package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/match"
)

const saveTimeout = 5 * time.Second

// Archiver writes every finished, started match to a Store off the session lock.
type Archiver struct {
	store Store
	log   *zap.Logger
	q     *match.AsyncListener
}

func NewArchiver(store Store, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Archiver{store: store, log: log}
	a.q = match.NewAsyncListener(256, log, a.handle)
	return a
}

// Track subscribes the archiver to s. Use it from the registry's OnCreate hook.
func (a *Archiver) Track(s *match.Session) {
	s.Subscribe(a.q.Listen)
}

// Close flushes pending saves.
func (a *Archiver) Close() { a.q.Close() }

func (a *Archiver) handle(ev match.Event) {
	if ev.Kind != match.EventGameOver || ev.Snapshot == nil {
		return
	}
	// Sessions that never started have no game worth keeping.
	if ev.Snapshot.StartedAt.IsZero() {
		return
	}
	rec := RecordFrom(*ev.Snapshot)
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := a.store.SaveResult(ctx, rec); err != nil {
		a.log.Error("archive_save_error", zap.String("code", rec.Code), zap.Error(err))
		return
	}
	a.log.Info("archive_saved", zap.String("code", rec.Code), zap.String("result", string(rec.Result)), zap.Int("plies", len(rec.MovesSAN)))
}
