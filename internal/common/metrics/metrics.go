package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_accepted_total",
			Help: "Total number of jobs accepted at the ingress boundary",
		},
	)

	JobsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_rejected_total",
			Help: "Total number of inbound events rejected before enqueue",
		},
		[]string{"reason"},
	)

	JobsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_completed_total",
			Help: "Total number of jobs that reached the completed state",
		},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_failed_total",
			Help: "Total number of jobs that reached the failed state",
		},
		[]string{"error_code"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Number of messages currently in the job stream",
		},
	)

	ContextSourceDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_context_source_degraded_total",
			Help: "Context providers that timed out or errored per source",
		},
		[]string{"source"},
	)

	DispatchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_dispatch_retries_total",
			Help: "Ticket update attempts beyond the first",
		},
	)

	SynthesisTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_synthesis_tokens_total",
			Help: "Token usage reported by the synthesis gateway",
		},
		[]string{"kind"},
	)
)
