package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for single-process mode and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []string
	claimed map[string]time.Time
	signal  chan struct{}
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		claimed: make(map[string]time.Time),
		signal:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	q.pending = append(q.pending, jobID)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if id, ok := q.take(); ok {
			return id, nil
		}
		select {
		case <-q.signal:
		case <-timer.C:
			return "", ErrEmpty
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	delete(q.claimed, jobID)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) RequeueStale(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	cutoff := q.now().Add(-olderThan)
	moved := 0
	for id, at := range q.claimed {
		if at.Before(cutoff) {
			delete(q.claimed, id)
			q.pending = append([]string{id}, q.pending...)
			moved++
		}
	}
	q.mu.Unlock()
	if moved > 0 {
		q.notify()
	}
	return moved, nil
}

// Len reports pending and claimed counts.
func (q *MemoryQueue) Len() (pending, claimed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.claimed)
}

func (q *MemoryQueue) Depth(context.Context) (pending, processing int64, err error) {
	p, c := q.Len()
	return int64(p), int64(c), nil
}

func (q *MemoryQueue) take() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.claimed[id] = q.now()
	if len(q.pending) > 0 {
		q.notify()
	}
	return id, true
}

func (q *MemoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

var _ Queue = (*MemoryQueue)(nil)
