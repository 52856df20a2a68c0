package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cermont/notifier/internal/email"
)

// Job is the unit of work stored in the broker. Its JSON encoding is the
// wire format for every broker.
type Job struct {
	ID           string        `json:"id"`
	Message      email.Message `json:"message"`
	AttemptsMade int           `json:"attempts_made"`
	MaxAttempts  int           `json:"max_attempts"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	LastError    string        `json:"last_error,omitempty"`
}

// NewJob wraps a copy of msg in a new job. MaxAttempts comes from the
// message when positive, otherwise from defaultAttempts, and is never
// below one.
func NewJob(msg email.Message, defaultAttempts int) *Job {
	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Job{
		ID:          uuid.NewString(),
		Message:     msg.Clone(),
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Exhausted reports whether no attempts remain.
func (j *Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

func (j *Job) encode() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	return string(data), nil
}

func decodeJob(data string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 1
	}
	return &j, nil
}

// DeadLetter is the record kept for a job that exhausted its attempts.
// ID is the broker's entry ID, filled in when listing.
type DeadLetter struct {
	ID              string        `json:"id,omitempty"`
	OriginalMessage email.Message `json:"original_message"`
	JobID           string        `json:"job_id"`
	FailureReason   string        `json:"failure_reason"`
	AttemptsMade    int           `json:"attempts_made"`
	MaxAttempts     int           `json:"max_attempts"`
	EnqueuedAt      time.Time     `json:"enqueued_at"`
	MovedAt         time.Time     `json:"moved_at"`
}

func newDeadLetter(job *Job, reason string) DeadLetter {
	return DeadLetter{
		OriginalMessage: job.Message,
		JobID:           job.ID,
		FailureReason:   reason,
		AttemptsMade:    job.AttemptsMade,
		MaxAttempts:     job.MaxAttempts,
		EnqueuedAt:      job.EnqueuedAt,
		MovedAt:         time.Now().UTC(),
	}
}

// requeue builds the job that Reprocess puts back on the main queue. The
// job ID is kept so logs can be correlated across the dead-letter hop.
func (d DeadLetter) requeue() *Job {
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Job{
		ID:          d.JobID,
		Message:     d.OriginalMessage,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
}

func encodeDeadLetter(d DeadLetter) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal dead letter %s: %w", d.JobID, err)
	}
	return string(data), nil
}

func decodeDeadLetter(data string) (DeadLetter, error) {
	var d DeadLetter
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return d, fmt.Errorf("unmarshal dead letter: %w", err)
	}
	return d, nil
}
