package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/provider"
	"github.com/cermont/notifier/internal/queue"
	"github.com/cermont/notifier/internal/templates"
)

// SendEmail validates msg, renders it when it carries only a template and
// sends it synchronously. Transport failures are returned as
// *provider.TransportError; nothing is retried.
func (s *Service) SendEmail(ctx context.Context, msg email.Message) (*provider.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	out, err := s.handler.Prepare(uuid.NewString(), msg)
	if err != nil {
		return nil, err
	}
	return s.handler.Deliver(ctx, out)
}

// EnqueueEmail validates msg and hands it to the queue. Delivery failures
// are never returned; only validation and broker write errors are.
func (s *Service) EnqueueEmail(ctx context.Context, msg email.Message) error {
	_, err := s.Enqueue(ctx, msg)
	return err
}

// Enqueue is EnqueueEmail that also returns the job ID.
func (s *Service) Enqueue(ctx context.Context, msg email.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	id, err := s.queue.Enqueue(ctx, queue.NewJob(msg, s.opts.DefaultMaxAttempts))
	if err != nil {
		return "", fmt.Errorf("enqueue email: %w", err)
	}
	return id, nil
}

// EnqueueEmailBatch validates every message, then enqueues them in order.
// It is not atomic: a broker write error stops the batch and earlier
// messages stay enqueued.
func (s *Service) EnqueueEmailBatch(ctx context.Context, msgs []email.Message) error {
	_, err := s.EnqueueBatch(ctx, msgs)
	return err
}

// EnqueueBatch is EnqueueEmailBatch that also returns the job IDs.
func (s *Service) EnqueueBatch(ctx context.Context, msgs []email.Message) ([]string, error) {
	jobs := make([]*queue.Job, 0, len(msgs))
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		jobs = append(jobs, queue.NewJob(msgs[i], s.opts.DefaultMaxAttempts))
	}

	if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}

	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	return ids, nil
}

// RenderTemplate renders key without sending, for previews.
func (s *Service) RenderTemplate(key templates.Key, data map[string]any) (templates.Rendered, error) {
	return s.renderer.Render(key, data)
}
