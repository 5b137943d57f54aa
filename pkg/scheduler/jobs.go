package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

// TurnSweeper drops resumable turns past their TTL. *gateway.TurnRouter
// satisfies it.
type TurnSweeper interface {
	Sweep(ctx context.Context) int
}

// TaskPruner deletes finished tasks. *store.Store satisfies it.
type TaskPruner interface {
	PruneTasks(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepTurns expires finished gateway turns on every run.
func SweepTurns(schedule string, sw TurnSweeper) Job {
	return Job{
		Name:     "sweep_turns",
		Schedule: schedule,
		Func: func(ctx context.Context) error {
			if n := sw.Sweep(ctx); n > 0 {
				telemetry.FromContext(ctx).Debug("expired gateway turns", slog.Int("count", n))
			}
			return nil
		},
	}
}

// PruneTasks removes ledger entries that finished more than retention ago.
func PruneTasks(schedule string, p TaskPruner, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     "prune_tasks",
		Schedule: schedule,
		Func: func(ctx context.Context) error {
			n, err := p.PruneTasks(ctx, now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				telemetry.FromContext(ctx).Info("pruned finished tasks",
					slog.Int64("count", n),
					slog.Duration("retention", retention),
				)
			}
			return nil
		},
	}
}
