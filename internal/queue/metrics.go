package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_jobs_enqueued_total",
			Help: "Total number of jobs accepted by the queue adapter",
		},
		[]string{"broker"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_jobs_processed_total",
			Help: "Total number of processing attempts by outcome",
		},
		[]string{"status"}, // sent, retry, dead_letter, dropped
	)

	JobProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifier_job_processing_duration_seconds",
			Help:    "Duration of a single processing attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_dead_letters_total",
			Help: "Total number of jobs moved to the dead-letter channel",
		},
	)

	QueueDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_queue_degraded",
			Help: "1 when the queue runs in degraded inline mode",
		},
	)
)

const (
	statusSent       = "sent"
	statusRetry      = "retry"
	statusDeadLetter = "dead_letter"
	statusDropped    = "dropped"
)
