package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// requeueScript moves one id from processing back to pending, but only if
// it is still in processing, so a concurrent Ack wins.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) > 0 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
  redis.call('HDEL', KEYS[3], ARGV[1])
  return 1
end
redis.call('HDEL', KEYS[3], ARGV[1])
return 0
`)

// RedisQueue is a reliable queue on Redis lists.
//
//	Enqueue: LPUSH pending
//	Claim:   BRPOPLPUSH pending -> processing, claim time in a hash
//	Ack:     LREM processing, HDEL claims
type RedisQueue struct {
	rdb        *redis.Client
	pending    string
	processing string
	claims     string
	now        func() time.Time
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		pending:    key + ":pending",
		processing: key + ":processing",
		claims:     key + ":claims",
		now:        time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, q.pending, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, wait time.Duration) (string, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.pending, q.processing, wait).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("claim: %w", err)
	}
	if err := q.rdb.HSet(ctx, q.claims, id, q.now().UnixMilli()).Err(); err != nil {
		// Left in processing without a claim time; RequeueStale adopts it.
		return "", fmt.Errorf("record claim %s: %w", id, err)
	}
	return id, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, jobID)
	pipe.HDel(ctx, q.claims, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", jobID, err)
	}
	return nil
}

// RequeueStale returns ids claimed more than olderThan ago to pending.
// Ids found in processing with no claim time are stamped now and picked up
// on a later pass.
func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	inFlight, err := q.rdb.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}
	claims, err := q.rdb.HGetAll(ctx, q.claims).Result()
	if err != nil {
		return 0, fmt.Errorf("list claims: %w", err)
	}

	now := q.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	moved := 0
	for _, id := range inFlight {
		raw, ok := claims[id]
		if !ok {
			if err := q.rdb.HSetNX(ctx, q.claims, id, now.UnixMilli()).Err(); err != nil {
				return moved, fmt.Errorf("stamp orphan %s: %w", id, err)
			}
			continue
		}
		claimedAt, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && claimedAt > cutoff {
			continue
		}
		n, err := requeueScript.Run(ctx, q.rdb, []string{q.processing, q.pending, q.claims}, id).Int()
		if err != nil {
			return moved, fmt.Errorf("requeue %s: %w", id, err)
		}
		moved += n
	}
	return moved, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (pending, processing int64, err error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.pending)
	r := pipe.LLen(ctx, q.processing)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return p.Val(), r.Val(), nil
}

var _ Queue = (*RedisQueue)(nil)
