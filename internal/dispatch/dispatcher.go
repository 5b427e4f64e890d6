package dispatch

import (
	"context"
	"errors"
	"time"

	apperrors "enhancement-pipeline/internal/common/errors"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/common/metrics"
	"enhancement-pipeline/internal/plugin"
)

const baseBackoff = 500 * time.Millisecond

// Dispatcher writes the synthesized note back to the tenant's tool.
// Only transient tool outages are retried; vendor rejections and auth
// failures are terminal on the first attempt.
type Dispatcher struct {
	registry   *plugin.Registry
	maxRetries int
	log        logger.Logger
}

func NewDispatcher(registry *plugin.Registry, maxRetries int, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		maxRetries: maxRetries,
		log:        log.WithFields(map[string]interface{}{"component": "dispatch"}),
	}
}

// Dispatch appends content to the ticket via the tool plugin.
func (d *Dispatcher) Dispatch(ctx context.Context, toolType, tenantID, ticketID, content string) error {
	p, err := d.registry.Resolve(toolType)
	if err != nil {
		var nf *plugin.NotFoundError
		if errors.As(err, &nf) {
			return apperrors.NewPluginNotFoundError(nf.ToolType, nf.Registered)
		}
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.DispatchRetries.Inc()
			select {
			case <-time.After(apperrors.Backoff(baseBackoff, attempt)):
			case <-ctx.Done():
				return apperrors.NewDispatchExhaustedError(ticketID, attempt, ctx.Err())
			}
		}

		accepted, err := p.UpdateTicket(ctx, tenantID, ticketID, content)
		if err == nil {
			if !accepted {
				return apperrors.NewDispatchFailedError(ticketID)
			}
			if attempt > 0 {
				d.log.Info("dispatch succeeded after retry", map[string]interface{}{
					"tenant_id": tenantID,
					"ticket_id": ticketID,
					"attempt":   attempt + 1,
				})
			}
			return nil
		}

		if errors.Is(err, plugin.ErrToolAuthRejected) {
			return apperrors.NewToolAuthRejectedError(toolType)
		}
		if !errors.Is(err, plugin.ErrToolUnavailable) {
			d.log.WithError(err).Error("dispatch failed", map[string]interface{}{
				"tenant_id": tenantID,
				"ticket_id": ticketID,
			})
			return apperrors.NewDispatchFailedError(ticketID)
		}

		lastErr = err
		d.log.Warn("tool unavailable, will retry", map[string]interface{}{
			"tenant_id": tenantID,
			"ticket_id": ticketID,
			"attempt":   attempt + 1,
		})
	}

	return apperrors.NewDispatchExhaustedError(ticketID, d.maxRetries+1, lastErr)
}
