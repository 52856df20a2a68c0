package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// outcome is the state a job moves to after one processing attempt.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// processor runs single attempts for the durable adapters. Recording the
// outcome in the broker is left to the adapter.
type processor struct {
	handler JobHandler
	retry   RetryPolicy
	timeout time.Duration
	log     zerolog.Logger
}

// attempt invokes the handler once, increments job.AttemptsMade and
// decides what happens next. For a retry it also returns the backoff.
func (p *processor) attempt(ctx context.Context, job *Job) (outcome, time.Duration, error) {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.handler.HandleJob(attemptCtx, job)
	JobProcessingDuration.Observe(time.Since(start).Seconds())
	job.AttemptsMade++

	if err == nil {
		JobsProcessedTotal.WithLabelValues(statusSent).Inc()
		p.log.Info().
			Str("job_id", job.ID).
			Int("attempts_made", job.AttemptsMade).
			Str("to", job.Message.Recipients()).
			Msg("job completed")
		return outcomeSent, 0, nil
	}

	job.LastError = err.Error()

	if job.Exhausted() {
		JobsProcessedTotal.WithLabelValues(statusDeadLetter).Inc()
		p.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Int("attempts_made", job.AttemptsMade).
			Int("max_attempts", job.MaxAttempts).
			Str("to", job.Message.Recipients()).
			Msg("job failed, attempts exhausted")
		return outcomeDeadLetter, 0, err
	}

	backoff := p.retry.Backoff(job.AttemptsMade)
	JobsProcessedTotal.WithLabelValues(statusRetry).Inc()
	p.log.Warn().
		Err(err).
		Str("job_id", job.ID).
		Int("attempts_made", job.AttemptsMade).
		Int("max_attempts", job.MaxAttempts).
		Dur("backoff", backoff).
		Msg("job failed, scheduling retry")
	return outcomeRetry, backoff, err
}

// waitGroupDone waits for done or the earlier of ctx and timeout.
func waitGroupDone(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job *Job) (string, error)
}

// enqueueSequential enqueues jobs in order and stops at the first error.
func enqueueSequential(ctx context.Context, q jobEnqueuer, jobs []*Job) error {
	for _, job := range jobs {
		if _, err := q.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
