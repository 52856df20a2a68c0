package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// SQSAdapter is the durable adapter backed by an SQS queue. Retries are
// re-sent with DelaySeconds; the received message is deleted only after the
// retry or dead letter was written, so a failed write leads to redelivery
// once the visibility timeout expires.
type SQSAdapter struct {
	client sqsAPI
	cfg    Config
	proc   *processor
	dlq    *SQSDLQ
	log    zerolog.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newSQSAdapter(client sqsAPI, cfg Config, handler JobHandler, log zerolog.Logger) *SQSAdapter {
	cfg = cfg.withDefaults()
	a := &SQSAdapter{
		client: client,
		cfg:    cfg,
		proc: &processor{
			handler: handler,
			retry:   cfg.retryPolicy(),
			timeout: cfg.ProcessTimeout,
			log:     log,
		},
		log: log,
	}
	a.dlq = NewSQSDLQ(client, cfg.SQSDLQueueURL, a, log)
	return a
}

// Enqueue sends the job to the main queue.
func (a *SQSAdapter) Enqueue(ctx context.Context, job *Job) (string, error) {
	if err := a.send(ctx, job, 0); err != nil {
		return "", err
	}
	JobsEnqueuedTotal.WithLabelValues(a.Broker()).Inc()
	return job.ID, nil
}

// EnqueueBatch enqueues jobs in order and stops at the first error.
func (a *SQSAdapter) EnqueueBatch(ctx context.Context, jobs []*Job) error {
	return enqueueSequential(ctx, a, jobs)
}

func (a *SQSAdapter) send(ctx context.Context, job *Job, delaySeconds int32) error {
	body, err := job.encode()
	if err != nil {
		return err
	}
	out, err := a.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:     a.cfg.SQSQueueURL,
		MessageBody:  body,
		DelaySeconds: delaySeconds,
		Attributes:   jobAttributes(job),
	})
	if err != nil {
		return fmt.Errorf("sqs send job %s: %w", job.ID, err)
	}

	a.log.Debug().
		Str("job_id", job.ID).
		Str("sqs_message_id", out.MessageID).
		Int32("delay_seconds", delaySeconds).
		Msg("job sent to sqs")
	return nil
}

// Start launches Concurrency long-polling workers.
func (a *SQSAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	for i := range a.cfg.Concurrency {
		a.wg.Add(1)
		go a.runWorker(ctx, fmt.Sprintf("sqs-worker-%d", i))
	}

	a.log.Info().
		Int("concurrency", a.cfg.Concurrency).
		Str("queue_url", a.cfg.SQSQueueURL).
		Msg("sqs queue started")
	return nil
}

// Stop cancels the workers and waits for in-flight jobs, bounded by
// ShutdownTimeout and ctx.
func (a *SQSAdapter) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	if err := waitGroupDone(ctx, done, a.cfg.ShutdownTimeout); err != nil {
		a.log.Warn().Dur("timeout", a.cfg.ShutdownTimeout).Msg("sqs queue shutdown timed out")
		return err
	}
	a.log.Info().Msg("sqs queue stopped gracefully")
	return nil
}

// Close is a no-op; the SDK client holds no connection to release.
func (a *SQSAdapter) Close() error { return nil }

func (a *SQSAdapter) Mode() Mode { return ModeDurable }

func (a *SQSAdapter) Broker() string { return "sqs" }

func (a *SQSAdapter) DeadLetters() DeadLetterQueue { return a.dlq }

func (a *SQSAdapter) runWorker(ctx context.Context, name string) {
	defer a.wg.Done()

	a.log.Debug().Str("worker", name).Msg("sqs worker started")

	for {
		select {
		case <-ctx.Done():
			a.log.Debug().Str("worker", name).Msg("sqs worker stopping")
			return
		default:
		}

		out, err := a.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            a.cfg.SQSQueueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     a.cfg.SQSWaitTime,
			VisibilityTimeout:   a.cfg.SQSVisTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Error().Err(err).Str("worker", name).Msg("sqs receive error")
			sleepCtx(ctx, a.cfg.PollInterval)
			continue
		}

		for _, msg := range out.Messages {
			a.processMessage(ctx, msg)
		}
	}
}

func (a *SQSAdapter) processMessage(ctx context.Context, msg sqsReceivedMessage) {
	ctx = context.WithoutCancel(ctx)

	job, err := decodeJob(msg.Body)
	if err != nil {
		a.log.Error().Err(err).
			Str("sqs_message_id", msg.MessageID).
			Msg("undecodable job, discarding")
		a.deleteMessage(ctx, msg)
		return
	}

	if msg.ReceiveCount > 1 {
		a.log.Warn().
			Str("job_id", job.ID).
			Str("sqs_message_id", msg.MessageID).
			Int("receive_count", msg.ReceiveCount).
			Msg("job redelivered after visibility timeout")
	}

	result, backoff, jobErr := a.proc.attempt(ctx, job)

	switch result {
	case outcomeRetry:
		err = a.send(ctx, job, sqsDelaySeconds(backoff))
	case outcomeDeadLetter:
		err = a.dlq.MoveToDLQ(ctx, job, jobErr.Error())
	}
	if err != nil {
		a.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("sqs_message_id", msg.MessageID).
			Msg("failed to record job outcome, leaving message for redelivery")
		return
	}

	a.deleteMessage(ctx, msg)
}

func (a *SQSAdapter) deleteMessage(ctx context.Context, msg sqsReceivedMessage) {
	if err := a.client.DeleteMessage(ctx, &sqsDeleteInput{
		QueueURL:      a.cfg.SQSQueueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		a.log.Error().Err(err).
			Str("sqs_message_id", msg.MessageID).
			Msg("failed to delete sqs message")
	}
}

// jobAttributes are the SQS message attributes written with every job.
func jobAttributes(job *Job) map[string]string {
	return map[string]string{
		"job_id":        job.ID,
		"attempts_made": strconv.Itoa(job.AttemptsMade),
		"template":      string(job.Message.Template),
	}
}
