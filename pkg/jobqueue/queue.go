// Package jobqueue hands job identifiers to background workers over a
// Redis list. Delivery is at-least-once; the job state store resolves
// duplicates when a worker tries to claim an already-claimed job.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty indicates no job was available within the poll timeout.
var ErrEmpty = errors.New("job queue is empty")

// DefaultKey is the Redis list the daemon uses for pipeline jobs.
const DefaultKey = "recapd:jobs"

// defaultPollTimeout bounds how long a Dequeue blocks before returning
// ErrEmpty, so workers can check for shutdown.
const defaultPollTimeout = 5 * time.Second

// Queue is a Redis-list job queue. Enqueue pushes to the head, Dequeue
// pops from the tail, so deliveries are FIFO.
type Queue struct {
	rdb         *redis.Client
	key         string
	pollTimeout time.Duration
}

// Option customizes a Queue.
type Option func(*Queue)

// WithKey overrides the Redis list key.
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithPollTimeout overrides how long Dequeue blocks.
func WithPollTimeout(d time.Duration) Option {
	return func(q *Queue) { q.pollTimeout = d }
}

// New creates a queue on an existing Redis client.
func New(rdb *redis.Client, opts ...Option) *Queue {
	q := &Queue{
		rdb:         rdb,
		key:         DefaultKey,
		pollTimeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ping verifies Redis connectivity. Useful for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue pushes a job id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if err := q.rdb.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue blocks up to the poll timeout and returns the oldest queued job
// id, or ErrEmpty when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("dequeue job: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("dequeue job: unexpected reply of %d elements", len(res))
	}
	return res[1], nil
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
