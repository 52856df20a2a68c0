package queue

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// ErrNoDeadLetterQueue is returned when the SQS dead-letter URL is unset.
var ErrNoDeadLetterQueue = errors.New("queue: sqs dead-letter queue url not configured")

// SQSDLQ is the dead-letter channel backed by a second SQS queue.
type SQSDLQ struct {
	client sqsAPI
	dlqURL string
	queue  jobEnqueuer
	log    zerolog.Logger
}

// NewSQSDLQ creates an SQSDLQ targeting dlqURL. Reprocess re-enqueues
// through queue.
func NewSQSDLQ(client sqsAPI, dlqURL string, queue jobEnqueuer, log zerolog.Logger) *SQSDLQ {
	return &SQSDLQ{client: client, dlqURL: dlqURL, queue: queue, log: log}
}

// MoveToDLQ sends a dead-letter record for job to the DLQ.
func (d *SQSDLQ) MoveToDLQ(ctx context.Context, job *Job, reason string) error {
	if d.dlqURL == "" {
		return ErrNoDeadLetterQueue
	}

	record, err := encodeDeadLetter(newDeadLetter(job, reason))
	if err != nil {
		return err
	}

	if _, err := d.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    d.dlqURL,
		MessageBody: record,
		Attributes:  map[string]string{"job_id": job.ID, "reason": truncate(reason, 256)},
	}); err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}

	DeadLettersTotal.Inc()
	d.log.Warn().
		Str("job_id", job.ID).
		Int("attempts_made", job.AttemptsMade).
		Str("reason", reason).
		Msg("job moved to dead-letter queue")
	return nil
}

// dlqScanRounds bounds how many receive batches one Reprocess call reads.
const dlqScanRounds = 10

// Reprocess moves the named dead letters back to the main queue with a
// fresh attempt budget. SQS cannot fetch by ID, so the queue is scanned in
// batches and each id is matched against the dead letter's job ID or the
// SQS message ID. Messages that do not match are released untouched.
// Unknown IDs are skipped. It returns how many were moved.
func (d *SQSDLQ) Reprocess(ctx context.Context, ids []string) (int, error) {
	if d.dlqURL == "" {
		return 0, ErrNoDeadLetterQueue
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			wanted[id] = true
		}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	var held []sqsReceivedMessage
	defer func() { d.release(context.WithoutCancel(ctx), held) }()

	reprocessed := 0
	for round := 0; round < dlqScanRounds && len(wanted) > 0; round++ {
		out, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            d.dlqURL,
			MaxNumberOfMessages: 10,
			VisibilityTimeout:   30,
		})
		if err != nil {
			return reprocessed, fmt.Errorf("sqs receive from dlq: %w", err)
		}
		if len(out.Messages) == 0 {
			break
		}

		for _, msg := range out.Messages {
			dl, err := decodeDeadLetter(msg.Body)
			if err != nil {
				d.log.Warn().Err(err).Str("sqs_message_id", msg.MessageID).Msg("skipping malformed dead letter")
				held = append(held, msg)
				continue
			}
			key := dl.JobID
			if !wanted[key] {
				key = msg.MessageID
			}
			if !wanted[key] {
				held = append(held, msg)
				continue
			}

			job := dl.requeue()
			if _, err := d.queue.Enqueue(ctx, job); err != nil {
				held = append(held, msg)
				return reprocessed, fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
			}
			if err := d.client.DeleteMessage(ctx, &sqsDeleteInput{
				QueueURL:      d.dlqURL,
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				return reprocessed, fmt.Errorf("delete dlq message: %w", err)
			}
			delete(wanted, key)
			reprocessed++
		}
	}

	for id := range wanted {
		d.log.Warn().Str("entry_id", id).Msg("dead letter not found")
	}
	return reprocessed, nil
}

// release makes skipped messages visible again instead of waiting out the
// receive visibility timeout.
func (d *SQSDLQ) release(ctx context.Context, msgs []sqsReceivedMessage) {
	for _, msg := range msgs {
		if err := d.client.ChangeMessageVisibility(ctx, &sqsVisibilityInput{
			QueueURL:      d.dlqURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			d.log.Warn().Err(err).Str("sqs_message_id", msg.MessageID).Msg("failed to release dead letter")
		}
	}
}

// truncate shortens s to at most n bytes without splitting a UTF-8
// sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
