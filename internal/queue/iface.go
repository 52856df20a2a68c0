package queue

import (
	"context"
	"errors"
)

// Mode reports whether jobs survive a process restart.
type Mode string

const (
	// ModeDurable persists jobs in a broker with retries and a dead-letter channel.
	ModeDurable Mode = "durable"
	// ModeDegraded delivers inline on the caller's goroutine, once.
	ModeDegraded Mode = "degraded"
)

// ErrShutdownTimeout is returned by Stop when workers do not drain in time.
var ErrShutdownTimeout = errors.New("queue: shutdown timed out")

// Adapter accepts jobs and drives them to a terminal outcome through a
// JobHandler. The variant is chosen once at startup by New.
type Adapter interface {
	// Enqueue accepts one job and returns its ID. Durable adapters return
	// once the broker stored it; the degraded adapter returns after the
	// inline attempt, whatever its outcome.
	Enqueue(ctx context.Context, job *Job) (string, error)

	// EnqueueBatch enqueues jobs in order and stops at the first broker
	// write error. Earlier jobs stay enqueued.
	EnqueueBatch(ctx context.Context, jobs []*Job) error

	// Start launches the workers. It is a no-op in degraded mode.
	Start(ctx context.Context) error

	// Stop signals workers to finish their current job and waits for them.
	Stop(ctx context.Context) error

	// Close releases the broker connection.
	Close() error

	Mode() Mode
	Broker() string

	// DeadLetters returns the dead-letter channel, or nil in degraded mode.
	DeadLetters() DeadLetterQueue
}

// JobHandler performs one processing attempt: render if needed, then send.
type JobHandler interface {
	HandleJob(ctx context.Context, job *Job) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job *Job) error

// HandleJob calls f.
func (f JobHandlerFunc) HandleJob(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// DeadLetterQueue stores jobs that exhausted their attempts. Nothing is
// retried from it automatically.
type DeadLetterQueue interface {
	// MoveToDLQ records job with the last failure reason.
	MoveToDLQ(ctx context.Context, job *Job, reason string) error

	// Reprocess puts the named dead letters back on the main queue with a
	// fresh attempt budget and returns how many were moved.
	Reprocess(ctx context.Context, ids []string) (int, error)
}

// DeadLetterLister is implemented by dead-letter channels that can be
// browsed, newest first.
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}
