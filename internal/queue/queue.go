// Package queue carries job ids from the web process to workers with
// at-least-once delivery. Job state itself lives in the store.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Claim when nothing arrived within the wait.
var ErrEmpty = errors.New("queue empty")

// Queue is a reliable work queue. A claimed id stays in a processing set
// until it is acked; ids claimed longer than the visibility timeout are
// handed out again by RequeueStale.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Claim(ctx context.Context, wait time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	// Depth reports how many ids are pending and how many are claimed.
	Depth(ctx context.Context) (pending, processing int64, err error)
}
