// Package retention prunes viewed in-app messages on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Pruner interface {
	PruneViewedMessages(ctx context.Context, olderThan time.Time) (int64, error)
}

type Job struct {
	store   Pruner
	maxAge  time.Duration
	now     func() time.Time
	timeout time.Duration
	cron    *cron.Cron
}

// New schedules pruning of viewed messages older than days. The schedule uses the
// six-field form with seconds.
func New(store Pruner, days int, schedule string) (*Job, error) {
	if days <= 0 {
		return nil, errors.New("retention days must be positive")
	}
	j := &Job{
		store:   store,
		maxAge:  time.Duration(days) * 24 * time.Hour,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 5 * time.Minute,
		cron:    cron.New(cron.WithSeconds()),
	}
	if _, err := j.cron.AddFunc(schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce deletes viewed messages past the retention age.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	cutoff := j.now().Add(-j.maxAge)
	n, err := j.store.PruneViewedMessages(ctx, cutoff)
	if err != nil {
		slog.Error("message prune failed", "cutoff", cutoff, "error", err)
		return 0, err
	}
	slog.Info("viewed messages pruned", "deleted", n, "cutoff", cutoff)
	return n, nil
}

func (j *Job) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running prune.
func (j *Job) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
