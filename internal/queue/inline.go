package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// InlineAdapter is the degraded adapter. Enqueue runs the handler on the
// caller's goroutine exactly once; failures are logged and dropped. There
// is no retry and no dead-letter channel.
type InlineAdapter struct {
	handler JobHandler
	timeout time.Duration
	log     zerolog.Logger
}

// NewInlineAdapter creates an InlineAdapter. A non-positive timeout leaves
// the caller's context as the only bound on each attempt.
func NewInlineAdapter(handler JobHandler, timeout time.Duration, log zerolog.Logger) *InlineAdapter {
	return &InlineAdapter{handler: handler, timeout: timeout, log: log}
}

// Enqueue attempts delivery immediately and always returns the job ID.
func (a *InlineAdapter) Enqueue(ctx context.Context, job *Job) (string, error) {
	JobsEnqueuedTotal.WithLabelValues(a.Broker()).Inc()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	err := a.handler.HandleJob(ctx, job)
	JobProcessingDuration.Observe(time.Since(start).Seconds())
	job.AttemptsMade++

	if err != nil {
		JobsProcessedTotal.WithLabelValues(statusDropped).Inc()
		a.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("to", job.Message.Recipients()).
			Str("subject", job.Message.Subject).
			Msg("inline delivery failed, message dropped")
		return job.ID, nil
	}

	JobsProcessedTotal.WithLabelValues(statusSent).Inc()
	a.log.Info().
		Str("job_id", job.ID).
		Str("to", job.Message.Recipients()).
		Msg("job completed inline")
	return job.ID, nil
}

// EnqueueBatch attempts every job in order, whatever the earlier outcomes.
func (a *InlineAdapter) EnqueueBatch(ctx context.Context, jobs []*Job) error {
	return enqueueSequential(ctx, a, jobs)
}

func (a *InlineAdapter) Start(context.Context) error { return nil }

func (a *InlineAdapter) Stop(context.Context) error { return nil }

func (a *InlineAdapter) Close() error { return nil }

func (a *InlineAdapter) Mode() Mode { return ModeDegraded }

func (a *InlineAdapter) Broker() string { return "inline" }

func (a *InlineAdapter) DeadLetters() DeadLetterQueue { return nil }
