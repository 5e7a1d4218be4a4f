package mover

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filemover/internal/scheduler"
)

// Intervals are the periods of the engine's recurring tasks. A zero Sweep or Heartbeat
// disables that task.
type Intervals struct {
	Transfer  time.Duration
	Sweep     time.Duration
	Heartbeat time.Duration
}

// Schedule registers the transfer cycle, archive sweep and heartbeat on s.
// The first transfer runs immediately, the first sweep right after it and the first
// heartbeat one interval in.
func (e *Engine) Schedule(s *scheduler.Scheduler, iv Intervals) error {
	err := s.Every("transfer", iv.Transfer, 0, func(ctx context.Context) {
		e.RunCycle(ctx)
		slog.Debug("transfer sleeping", "interval", iv.Transfer)
	})
	if err != nil {
		return err
	}

	if e.opts.Archive != nil && e.opts.ArchiveMaxAge > 0 && iv.Sweep > 0 {
		err := s.Every("archive-sweep", iv.Sweep, 0, func(ctx context.Context) {
			e.SweepArchive(ctx)
		})
		if err != nil {
			return err
		}
	}

	if iv.Heartbeat > 0 {
		err := s.Every("heartbeat", iv.Heartbeat, iv.Heartbeat, func(ctx context.Context) {
			e.Heartbeat()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Heartbeat logs the running totals.
func (e *Engine) Heartbeat() {
	slog.Info("still alive",
		"transferred", humanize.Comma(int64(e.transferred)),
		"cycles", humanize.Comma(int64(e.cycles)),
		"tracked", e.ledger.Len(),
	)
}
