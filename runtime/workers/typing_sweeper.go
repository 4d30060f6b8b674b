package workers

import (
	"context"
	"log/slog"
	"time"

	"chatwire/contract"
	"chatwire/presence"
)

var _ contract.Worker = (*TypingSweeper)(nil)

// TypingSweeper reverts stale typing indicators. A user who stops
// typing without sending never emits an explicit stop, so the tracker
// is swept at a fraction of the idle timeout to keep the revert latency
// well under one timeout window.
type TypingSweeper struct {
	tracker *presence.Tracker
	log     *slog.Logger
}

func NewTypingSweeper(tracker *presence.Tracker, log *slog.Logger) *TypingSweeper {
	return &TypingSweeper{tracker: tracker, log: log}
}

func (w *TypingSweeper) Run(ctx context.Context) error {
	interval := w.tracker.IdleTimeout() / 4
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping typing sweeper")
			return ctx.Err()
		case now := <-ticker.C:
			w.tracker.SweepIdle(now.UTC())
		}
	}
}
