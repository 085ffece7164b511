package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, WithPollTimeout(100*time.Millisecond))
}

func TestEnqueueDequeue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", first)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-2", second)
}

func TestDequeue_EmptyTimesOut(t *testing.T) {
	q := newTestQueue(t)

	start := time.Now()
	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnqueue_RejectsEmptyID(t *testing.T) {
	q := newTestQueue(t)
	assert.Error(t, q.Enqueue(context.Background(), ""))
}

func TestWithKey(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := New(rdb, WithKey("recapd:test"), WithPollTimeout(100*time.Millisecond))
	require.NoError(t, q.Enqueue(ctx, "job-1"))

	n, err := rdb.LLen(ctx, "recapd:test").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
