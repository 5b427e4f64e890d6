package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "enhancement-pipeline/internal/common/errors"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/common/metrics"
	"enhancement-pipeline/internal/common/observability"
	"enhancement-pipeline/internal/dispatch"
	"enhancement-pipeline/internal/enrichment"
	"enhancement-pipeline/internal/job"
	"enhancement-pipeline/internal/notify"
	"enhancement-pipeline/internal/plugin"
	"enhancement-pipeline/internal/queue"
	"enhancement-pipeline/internal/synthesis"
	"enhancement-pipeline/internal/tenant"
)

const (
	retryBackoffBase = 500 * time.Millisecond
	finalizeTimeout  = 10 * time.Second
)

// Pool runs N consumers against the job stream. Each consumer claims a
// job record before doing any work and acknowledges the stream message
// only after the record reached a terminal state.
type Pool struct {
	queue        *queue.Queue
	store        *job.RecordStore
	directory    *tenant.Directory
	registry     *plugin.Registry
	orchestrator *enrichment.Orchestrator
	gateway      *synthesis.Gateway
	dispatcher   *dispatch.Dispatcher
	notifier     *notify.Notifier
	obs          *observability.Observability
	workers      int
	jobTimeout   time.Duration
	log          logger.Logger
}

type PoolOptions struct {
	Queue         *queue.Queue
	Store         *job.RecordStore
	Directory     *tenant.Directory
	Registry      *plugin.Registry
	Orchestrator  *enrichment.Orchestrator
	Gateway       *synthesis.Gateway
	Dispatcher    *dispatch.Dispatcher
	Notifier      *notify.Notifier
	Observability *observability.Observability
	Workers       int
	JobTimeout    time.Duration
	Logger        logger.Logger
}

func NewPool(opts PoolOptions) *Pool {
	return &Pool{
		queue:        opts.Queue,
		store:        opts.Store,
		directory:    opts.Directory,
		registry:     opts.Registry,
		orchestrator: opts.Orchestrator,
		gateway:      opts.Gateway,
		dispatcher:   opts.Dispatcher,
		notifier:     opts.Notifier,
		obs:          opts.Observability,
		workers:      opts.Workers,
		jobTimeout:   opts.JobTimeout,
		log:          opts.Logger.WithFields(map[string]interface{}{"component": "worker"}),
	}
}

// Run blocks until ctx is cancelled and every consumer has drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		consumer := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			p.consume(ctx, consumer)
		}()
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, consumer string) {
	log := p.log.WithFields(map[string]interface{}{"consumer": consumer})
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := p.queue.Dequeue(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed", nil)
			time.Sleep(retryBackoffBase)
			continue
		}
		if delivery == nil {
			continue
		}

		p.handle(ctx, delivery, log)
	}
}

func (p *Pool) handle(ctx context.Context, delivery *queue.Delivery, log logger.Logger) {
	j := delivery.Job
	jobLog := log.WithFields(map[string]interface{}{
		"job_id":    j.ID,
		"tenant_id": j.TenantID,
		"ticket_id": j.TicketID,
	})

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	if err := p.claim(jobCtx, delivery, jobLog); err != nil {
		return
	}

	_ = j.SetState(job.StateInProgress)
	start := time.Now()

	output, snapshot, procErr := p.processWithRetry(jobCtx, j, jobLog)
	duration := time.Since(start)

	// The terminal write runs on its own deadline: an expired jobCtx must
	// not cut off the record that makes the outcome durable.
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finCancel()

	var finErr error
	if procErr != nil {
		finErr = p.finishFailed(finCtx, j, procErr, snapshot, duration, jobLog)
	} else {
		finErr = p.finishCompleted(finCtx, j, output, snapshot, duration, jobLog)
	}
	if finErr != nil {
		// Leave the delivery pending. The record is still in_progress, so
		// the reclaim path redelivers the job after the visibility timeout
		// and the new consumer resumes it.
		return
	}
	p.ack(finCtx, delivery.MessageID, jobLog)
}

// claim inserts the job record. A duplicate fresh delivery is dropped;
// a redelivered message whose record is still in progress is taken over.
func (p *Pool) claim(ctx context.Context, delivery *queue.Delivery, log logger.Logger) error {
	err := p.store.Begin(ctx, delivery.Job)
	if err == nil {
		return nil
	}
	if !errors.Is(err, job.ErrAlreadyClaimed) {
		log.WithError(err).Error("record claim failed", nil)
		return err
	}

	record, getErr := p.store.Get(ctx, delivery.Job.ID)
	if getErr != nil {
		// Without the record we cannot tell a duplicate from a takeover.
		// Leave the delivery pending rather than ack blind.
		log.WithError(getErr).Error("record inspection failed", nil)
		return getErr
	}
	if delivery.Redelivered && record.Status == job.RecordInProgress {
		log.Warn("resuming redelivered job", map[string]interface{}{
			"message_id": delivery.MessageID,
		})
		return nil
	}

	log.Info("duplicate delivery dropped", map[string]interface{}{
		"message_id": delivery.MessageID,
	})
	p.ack(ctx, delivery.MessageID, log)
	return job.ErrAlreadyClaimed
}

// processWithRetry retries transient failures inline, bounded by the
// per-code retry policy and the job deadline.
func (p *Pool) processWithRetry(ctx context.Context, j *job.EnhancementJob, log logger.Logger) (string, []byte, *apperrors.StandardError) {
	var lastErr *apperrors.StandardError
	var snapshot []byte

	for attempt := 0; ; attempt++ {
		j.Attempt = attempt + 1

		output, snap, err := p.process(ctx, j, log)
		if snap != nil {
			snapshot = snap
		}
		if err == nil {
			return output, snapshot, nil
		}

		lastErr = err
		j.LastError = string(err.Code)
		if !err.Retryable || attempt >= apperrors.GetRetryCount(err.Code) {
			return "", snapshot, lastErr
		}

		backoff := apperrors.Backoff(retryBackoffBase, attempt+1)
		log.Warn("retrying job", map[string]interface{}{
			"error_code": err.Code,
			"attempt":    attempt + 1,
			"backoff_ms": backoff.Milliseconds(),
		})
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", snapshot, lastErr
		}
	}
}

func (p *Pool) process(ctx context.Context, j *job.EnhancementJob, log logger.Logger) (string, []byte, *apperrors.StandardError) {
	cfg, err := p.directory.Lookup(ctx, j.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return "", nil, apperrors.NewTenantNotFoundError(j.TenantID)
		}
		return "", nil, apperrors.NewTenantLookupFailedError(err)
	}

	impl, err := p.registry.Resolve(cfg.ToolType)
	if err != nil {
		var nf *plugin.NotFoundError
		if errors.As(err, &nf) {
			return "", nil, apperrors.NewPluginNotFoundError(nf.ToolType, nf.Registered)
		}
		return "", nil, apperrors.AsStandard(err)
	}

	payload, _ := json.Marshal(j)
	meta, err := impl.ExtractMetadata(payload)
	if err != nil {
		var ee *plugin.ExtractionError
		if errors.As(err, &ee) {
			return "", nil, apperrors.NewMetadataInvalidError(ee.Field, ee.Reason)
		}
		return "", nil, apperrors.NewMetadataInvalidError("payload", err.Error())
	}

	ticket, err := impl.GetTicket(ctx, j.TenantID, meta.TicketID)
	if err != nil {
		if errors.Is(err, plugin.ErrToolAuthRejected) {
			return "", nil, apperrors.NewToolAuthRejectedError(cfg.ToolType)
		}
		return "", nil, apperrors.NewToolUnavailableError(cfg.ToolType, err)
	}
	if ticket == nil {
		return "", nil, apperrors.NewTicketNotFoundError(meta.TicketID)
	}
	if ticket.Description != "" {
		meta.Description = ticket.Description
	}

	bundle := p.orchestrator.Gather(ctx, *meta)
	snapshot, _ := json.Marshal(bundle)

	result, err := p.gateway.Synthesize(ctx, &synthesis.Request{
		TenantID:    j.TenantID,
		TicketID:    meta.TicketID,
		Description: meta.Description,
		Bundle:      bundle,
	})
	if err != nil {
		if errors.Is(err, synthesis.ErrTimeout) {
			return "", snapshot, apperrors.NewSynthesisTimeoutError()
		}
		return "", snapshot, apperrors.NewSynthesisUnavailableError(err)
	}

	if err := p.dispatcher.Dispatch(ctx, cfg.ToolType, j.TenantID, meta.TicketID, result.Text); err != nil {
		return "", snapshot, apperrors.AsStandard(err)
	}

	return result.Text, snapshot, nil
}

func (p *Pool) finishCompleted(ctx context.Context, j *job.EnhancementJob, output string, snapshot []byte, duration time.Duration, log logger.Logger) error {
	if err := p.store.Complete(ctx, j.ID, output, snapshot, duration); err != nil {
		if errors.Is(err, job.ErrTerminal) {
			// Another consumer finalized the record first; its outcome
			// stands and this delivery can be acked.
			log.Warn("record already terminal", nil)
			return nil
		}
		log.WithError(err).Error("record completion failed", nil)
		return err
	}
	_ = j.SetState(job.StateCompleted)

	metrics.JobsCompleted.Inc()
	metrics.JobDuration.Observe(duration.Seconds())
	p.obs.RecordJobProcessed(ctx, "completed")
	p.obs.RecordJobDuration(ctx, duration, "completed")

	log.Info("job completed", map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"attempts":    j.Attempt,
	})
	return nil
}

func (p *Pool) finishFailed(ctx context.Context, j *job.EnhancementJob, procErr *apperrors.StandardError, snapshot []byte, duration time.Duration, log logger.Logger) error {
	if err := p.store.Fail(ctx, j.ID, string(procErr.Code), procErr.Details, snapshot, duration); err != nil {
		if errors.Is(err, job.ErrTerminal) {
			log.Warn("record already terminal", nil)
			return nil
		}
		log.WithError(err).Error("record failure write failed", nil)
		return err
	}
	_ = j.SetState(job.StateFailed)

	metrics.JobsFailed.WithLabelValues(string(procErr.Code)).Inc()
	metrics.JobDuration.Observe(duration.Seconds())
	p.obs.RecordJobProcessed(ctx, "failed")
	p.obs.RecordJobDuration(ctx, duration, "failed")

	log.Error("job failed", map[string]interface{}{
		"error_code":  procErr.Code,
		"duration_ms": duration.Milliseconds(),
		"attempts":    j.Attempt,
	})

	if p.notifier != nil {
		go p.notifier.JobFailed(j.ID, j.TenantID, j.TicketID, string(procErr.Code), procErr.Message)
	}
	return nil
}

func (p *Pool) ack(ctx context.Context, messageID string, log logger.Logger) {
	if err := p.queue.Ack(ctx, messageID); err != nil {
		log.WithError(err).Error("ack failed", map[string]interface{}{
			"message_id": messageID,
		})
	}
}
