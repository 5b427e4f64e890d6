package enrichment

import (
	"context"
	"errors"
	"time"

	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/common/metrics"
	"enhancement-pipeline/internal/plugin"
)

// Provider is one independent context source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, meta plugin.TicketMetadata) ([]Fact, error)
}

// Orchestrator fans out to all providers concurrently. Each call is bounded
// by the per-provider timeout; the aggregate deadline additionally caps the
// whole gather. A provider that errors or times out contributes an empty,
// flagged section instead of failing the job.
type Orchestrator struct {
	providers       []Provider
	providerTimeout time.Duration
	deadline        time.Duration
	log             logger.Logger
}

func NewOrchestrator(providers []Provider, providerTimeout, deadline time.Duration, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		providers:       providers,
		providerTimeout: providerTimeout,
		deadline:        deadline,
		log:             log.WithFields(map[string]interface{}{"component": "context-orchestrator"}),
	}
}

type fetchResult struct {
	index int
	facts []Fact
	err   error
}

// Gather never returns an error: degradation is the policy, not the
// exception. Once the aggregate deadline passes, outstanding provider calls
// are abandoned and their slots are marked as timed out.
func (o *Orchestrator) Gather(ctx context.Context, meta plugin.TicketMetadata) *Bundle {
	aggCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	results := make(chan fetchResult, len(o.providers))
	for i, p := range o.providers {
		go func(i int, p Provider) {
			pCtx, pCancel := context.WithTimeout(aggCtx, o.providerTimeout)
			defer pCancel()
			facts, err := p.Fetch(pCtx, meta)
			results <- fetchResult{index: i, facts: facts, err: err}
		}(i, p)
	}

	bundle := &Bundle{Sections: make([]Section, len(o.providers))}
	for i, p := range o.providers {
		bundle.Sections[i] = Section{Source: p.Name(), Status: StatusTimeout, Facts: []Fact{}}
	}

	received := make([]bool, len(o.providers))
	pending := len(o.providers)
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			received[res.index] = true
			section := &bundle.Sections[res.index]
			switch {
			case res.err != nil:
				if errors.Is(res.err, context.DeadlineExceeded) {
					section.Status = StatusTimeout
				} else {
					section.Status = StatusDegraded
				}
				metrics.ContextSourceDegraded.WithLabelValues(section.Source).Inc()
				o.log.Warn("context source degraded", map[string]interface{}{
					"tenantId": meta.TenantID,
					"ticketId": meta.TicketID,
					"source":   section.Source,
					"error":    res.err.Error(),
				})
			case len(res.facts) == 0:
				section.Status = StatusEmpty
			default:
				section.Status = StatusOK
				section.Facts = res.facts
			}
		case <-aggCtx.Done():
			// Abandon whatever is still outstanding; the timeout status
			// preset above stands for those slots.
			for i := range bundle.Sections {
				if !received[i] {
					metrics.ContextSourceDegraded.WithLabelValues(bundle.Sections[i].Source).Inc()
				}
			}
			pending = 0
		}
	}

	if bundle.AllDegraded() {
		o.log.Warn("all context sources degraded, proceeding with empty bundle", map[string]interface{}{
			"tenantId": meta.TenantID,
			"ticketId": meta.TicketID,
		})
	}
	return bundle
}
