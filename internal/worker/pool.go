package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/captioner/internal/queue"
)

// JobProcessor handles one delivered job id.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue     queue.Queue
	processor JobProcessor
	workers   int
	claimWait time.Duration
	backoff   time.Duration
}

func NewPool(q queue.Queue, processor JobProcessor, workers int, claimWait time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if claimWait <= 0 {
		claimWait = 5 * time.Second
	}
	return &Pool{
		queue:     q,
		processor: processor,
		workers:   workers,
		claimWait: claimWait,
		backoff:   time.Second,
	}
}

// Run claims ids and fans them out to the workers until ctx is canceled.
// An id is acked once its processing is recorded; ids whose processing
// returned an error stay claimed and are redelivered after the visibility
// timeout.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool started", "workers", p.workers)
	jobs := make(chan string)

	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		n := i + 1
		g.Go(func() error {
			for id := range jobs {
				if err := p.processor.Process(ctx, id); err != nil {
					slog.Error("process job", "worker", n, "job_id", id, "error", err)
					continue
				}
				ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := p.queue.Ack(ackCtx, id); err != nil {
					slog.Error("ack job", "worker", n, "job_id", id, "error", err)
				}
				cancel()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for {
			id, err := p.queue.Claim(ctx, p.claimWait)
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, queue.ErrEmpty):
				continue
			case err != nil:
				slog.Error("claim job", "error", err)
				select {
				case <-time.After(p.backoff):
				case <-ctx.Done():
					return nil
				}
				continue
			}

			select {
			case jobs <- id:
			case <-ctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	slog.Info("worker pool stopped")
	return err
}
