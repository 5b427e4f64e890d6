package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/job"
)

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := New(rdb, "test:jobs", "test-workers", 50*time.Millisecond, 100*time.Millisecond, logger.NewTestLogger(t))
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q, mr
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	j := job.New("acme", "T-42", "vpn drops every hour", job.PriorityHigh, time.Now().UTC().Truncate(time.Second))
	id, err := q.Enqueue(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, j.ID, id)

	d, err := q.Dequeue(ctx, "consumer-a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, j.ID, d.Job.ID)
	assert.Equal(t, "acme", d.Job.TenantID)
	assert.Equal(t, "T-42", d.Job.TicketID)
	assert.Equal(t, job.PriorityHigh, d.Job.Priority)
	assert.False(t, d.Redelivered)
	assert.True(t, j.CreatedAt.Equal(d.Job.CreatedAt))

	require.NoError(t, q.Ack(ctx, d.MessageID))
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	q, _ := setupQueue(t)
	assert.NoError(t, q.EnsureGroup(context.Background()))
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = q.Enqueue(ctx, &job.EnhancementJob{TenantID: "acme"})
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = q.Enqueue(ctx, &job.EnhancementJob{ID: "x", TenantID: "acme", TicketID: "T-1"})
	assert.ErrorIs(t, err, ErrInvalidJob) // zero created_at
}

func TestDepth(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	n, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = q.Enqueue(ctx, job.New("acme", "T-1", "a", job.PriorityLow, time.Now()))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, job.New("acme", "T-2", "b", job.PriorityLow, time.Now()))
	require.NoError(t, err)

	n, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q, _ := setupQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx, "consumer-a")
	assert.Error(t, err)
}

func TestReclaimRedeliversStalledMessage(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	j := job.New("acme", "T-7", "stuck job", job.PriorityMedium, time.Now().UTC())
	_, err := q.Enqueue(ctx, j)
	require.NoError(t, err)

	// First consumer reads but never acks.
	d, err := q.Dequeue(ctx, "consumer-dead")
	require.NoError(t, err)
	require.NotNil(t, d)

	// Past the visibility timeout the message becomes claimable.
	mr.FastForward(200 * time.Millisecond)

	d2, err := q.Dequeue(ctx, "consumer-alive")
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, j.ID, d2.Job.ID)
	assert.True(t, d2.Redelivered)
}

func TestDequeueDropsPoisonMessages(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	// Message without required fields goes straight into the stream.
	_, err := mr.XAdd("test:jobs", "*", []string{"garbage", "true"})
	require.NoError(t, err)

	good := job.New("acme", "T-9", "real job", job.PriorityLow, time.Now().UTC())
	_, err = q.Enqueue(ctx, good)
	require.NoError(t, err)

	d, err := q.Dequeue(ctx, "consumer-a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, good.ID, d.Job.ID)
}

func TestEnqueueUnavailableBackend(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.Regexp().ExpectXAdd(&redis.XAddArgs{Stream: "test:jobs"}).SetErr(redis.ErrClosed)

	q := New(rdb, "test:jobs", "test-workers", 50*time.Millisecond, time.Second, logger.NewNoOpLogger())
	_, err := q.Enqueue(context.Background(), job.New("acme", "T-1", "x", job.PriorityLow, time.Now()))
	assert.ErrorIs(t, err, ErrUnavailable)
}
