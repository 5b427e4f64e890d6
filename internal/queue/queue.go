// Package queue is the durable, at-least-once job channel between the
// ingress boundary and the worker pool, built on Redis Streams consumer
// groups.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/job"
)

var (
	// ErrUnavailable means the backing store could not accept or deliver a
	// message. Retryable for the caller; the ingress boundary maps it to a
	// service-unavailable response.
	ErrUnavailable = errors.New("job queue unavailable")
	// ErrInvalidJob means the job failed validation before enqueue.
	ErrInvalidJob = errors.New("invalid job")
)

// Delivery is one dequeued job plus the stream id needed to ack it.
type Delivery struct {
	Job       *job.EnhancementJob
	MessageID string
	// Redelivered is set when the message was reclaimed from a consumer
	// that died; downstream idempotency is mandatory either way.
	Redelivered bool
}

// Queue wraps one stream and one consumer group.
type Queue struct {
	rdb        redis.Cmdable
	stream     string
	group      string
	block      time.Duration
	visibility time.Duration
	log        logger.Logger
}

func New(rdb redis.Cmdable, stream, group string, block, visibility time.Duration, log logger.Logger) *Queue {
	return &Queue{
		rdb:        rdb,
		stream:     stream,
		group:      group,
		block:      block,
		visibility: visibility,
		log:        log.WithFields(map[string]interface{}{"component": "queue", "stream": stream}),
	}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Enqueue appends the job as a flat message and returns its job id.
// Backing-store failure surfaces as ErrUnavailable, distinct from
// validation failure, so the ingress boundary can answer retryable vs fatal.
func (q *Queue) Enqueue(ctx context.Context, j *job.EnhancementJob) (string, error) {
	if err := validate(j); err != nil {
		return "", err
	}

	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"job_id":      j.ID,
			"tenant_id":   j.TenantID,
			"ticket_id":   j.TicketID,
			"description": j.Description,
			"priority":    string(j.Priority),
			"created_at":  j.CreatedAt.Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return j.ID, nil
}

// Dequeue blocks until a job is available or ctx is done. Reclaimed
// messages from dead consumers are drained before new ones. The delivery
// stays pending until Ack; a worker crash hands it to another consumer
// after the visibility timeout.
func (q *Queue) Dequeue(ctx context.Context, consumer string) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if d, err := q.reclaim(ctx, consumer); err != nil {
			return nil, err
		} else if d != nil {
			return d, nil
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue // idle block expired
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				d, err := parseDelivery(msg, false)
				if err != nil {
					// Poison message: ack it away and keep consuming.
					q.log.Error("dropping malformed queue message", map[string]interface{}{
						"messageId": msg.ID,
						"error":     err.Error(),
					})
					_ = q.rdb.XAck(ctx, q.stream, q.group, msg.ID).Err()
					continue
				}
				return d, nil
			}
		}
	}
}

// Ack removes a delivered message. Callers ack only after the terminal
// outcome is durably recorded.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	if err := q.rdb.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Depth returns the stream length for the backpressure gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// reclaim picks up one message whose consumer went silent past the
// visibility timeout.
func (q *Queue) reclaim(ctx context.Context, consumer string) (*Delivery, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, msg := range msgs {
		d, err := parseDelivery(msg, true)
		if err != nil {
			q.log.Error("dropping malformed reclaimed message", map[string]interface{}{
				"messageId": msg.ID,
				"error":     err.Error(),
			})
			_ = q.rdb.XAck(ctx, q.stream, q.group, msg.ID).Err()
			continue
		}
		return d, nil
	}
	return nil, nil
}

func validate(j *job.EnhancementJob) error {
	switch {
	case j == nil:
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	case j.ID == "":
		return fmt.Errorf("%w: missing job id", ErrInvalidJob)
	case j.TenantID == "":
		return fmt.Errorf("%w: missing tenant id", ErrInvalidJob)
	case j.TicketID == "":
		return fmt.Errorf("%w: missing ticket id", ErrInvalidJob)
	case j.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing creation timestamp", ErrInvalidJob)
	}
	return nil
}

func parseDelivery(msg redis.XMessage, redelivered bool) (*Delivery, error) {
	get := func(key string) string {
		if v, ok := msg.Values[key].(string); ok {
			return v
		}
		return ""
	}

	created, err := time.Parse(time.RFC3339, get("created_at"))
	if err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	j := &job.EnhancementJob{
		ID:          get("job_id"),
		TenantID:    get("tenant_id"),
		TicketID:    get("ticket_id"),
		Description: get("description"),
		Priority:    job.Priority(get("priority")),
		CreatedAt:   created,
		State:       job.StatePending,
	}
	if j.ID == "" || j.TenantID == "" || j.TicketID == "" {
		return nil, fmt.Errorf("message %s missing required fields", msg.ID)
	}
	return &Delivery{Job: j, MessageID: msg.ID, Redelivered: redelivered}, nil
}
