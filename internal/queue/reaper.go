package queue

import (
	"context"
	"log/slog"
	"time"
)

// JobSweeper is the slice of the store the reaper needs.
type JobSweeper interface {
	FailExpiredJobs(ctx context.Context, now time.Time) (int, error)
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type ReaperConfig struct {
	Interval          time.Duration
	VisibilityTimeout time.Duration
	Retention         time.Duration
}

// Reaper enforces job deadlines from the queue side, so a job whose worker
// hangs or dies still reaches a terminal state. It also returns stale
// claims to the queue and purges old terminal jobs.
type Reaper struct {
	jobs  JobSweeper
	queue Queue
	cfg   ReaperConfig
	now   func() time.Time
}

func NewReaper(jobs JobSweeper, q Queue, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &Reaper{jobs: jobs, queue: q, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Run sweeps every interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	slog.Info("reaper started", "interval", r.cfg.Interval.String())
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// SweepResult counts what one pass changed.
type SweepResult struct {
	Expired  int
	Requeued int
	Purged   int
}

// Sweep runs one pass. Each step is independent; a failing step is logged
// and the rest still run.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := r.now().UTC()

	n, err := r.jobs.FailExpiredJobs(ctx, now)
	if err != nil {
		slog.Error("fail expired jobs", "error", err)
	}
	res.Expired = n

	if r.cfg.VisibilityTimeout > 0 {
		n, err = r.queue.RequeueStale(ctx, r.cfg.VisibilityTimeout)
		if err != nil {
			slog.Error("requeue stale claims", "error", err)
		}
		res.Requeued = n
	}

	if r.cfg.Retention > 0 {
		n, err = r.jobs.DeleteJobsBefore(ctx, now.Add(-r.cfg.Retention))
		if err != nil {
			slog.Error("purge old jobs", "error", err)
		}
		res.Purged = n
	}

	if res != (SweepResult{}) {
		slog.Info("reaper sweep",
			"expired", res.Expired,
			"requeued", res.Requeued,
			"purged", res.Purged,
		)
	}
	return res
}
