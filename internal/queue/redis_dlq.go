package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// RedisDLQ is the dead-letter channel backed by a Redis stream.
type RedisDLQ struct {
	client redis.UniversalClient
	stream string
	queue  jobEnqueuer
	log    zerolog.Logger
}

// NewRedisDLQ creates a RedisDLQ on the given stream. Reprocess re-enqueues
// through queue.
func NewRedisDLQ(client redis.UniversalClient, stream string, queue jobEnqueuer, log zerolog.Logger) *RedisDLQ {
	return &RedisDLQ{client: client, stream: stream, queue: queue, log: log}
}

func (d *RedisDLQ) xaddArgs(record string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{entryField: record},
	}
}

// MoveToDLQ appends a dead-letter record for job.
func (d *RedisDLQ) MoveToDLQ(ctx context.Context, job *Job, reason string) error {
	record, err := encodeDeadLetter(newDeadLetter(job, reason))
	if err != nil {
		return err
	}
	if err := d.client.XAdd(ctx, d.xaddArgs(record)).Err(); err != nil {
		return fmt.Errorf("xadd to dlq stream %s: %w", d.stream, err)
	}
	DeadLettersTotal.Inc()
	return nil
}

// List returns up to limit dead letters, newest first. Malformed entries
// are skipped.
func (d *RedisDLQ) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	entries, err := d.client.XRevRangeN(ctx, d.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange dlq stream %s: %w", d.stream, err)
	}

	out := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		dl, ok := d.decodeEntry(entry)
		if !ok {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Reprocess moves the named entries back to the main queue with a fresh
// attempt budget. Unknown IDs are skipped. It returns how many were moved.
func (d *RedisDLQ) Reprocess(ctx context.Context, ids []string) (int, error) {
	reprocessed := 0

	for _, id := range ids {
		entries, err := d.client.XRange(ctx, d.stream, id, id).Result()
		if err != nil {
			return reprocessed, fmt.Errorf("xrange dlq entry %s: %w", id, err)
		}
		if len(entries) == 0 {
			d.log.Warn().Str("entry_id", id).Msg("dead letter not found")
			continue
		}

		dl, ok := d.decodeEntry(entries[0])
		if !ok {
			continue
		}

		job := dl.requeue()
		if _, err := d.queue.Enqueue(ctx, job); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
		}
		if err := d.client.XDel(ctx, d.stream, id).Err(); err != nil {
			return reprocessed, fmt.Errorf("xdel dlq entry %s: %w", id, err)
		}

		d.log.Info().Str("entry_id", id).Str("job_id", job.ID).Msg("dead letter reprocessed")
		reprocessed++
	}

	return reprocessed, nil
}

func (d *RedisDLQ) decodeEntry(entry redis.XMessage) (DeadLetter, bool) {
	data, ok := entry.Values[entryField].(string)
	if !ok {
		d.log.Warn().Str("entry_id", entry.ID).Msg("skipping dead letter without data")
		return DeadLetter{}, false
	}
	dl, err := decodeDeadLetter(data)
	if err != nil {
		d.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("skipping malformed dead letter")
		return DeadLetter{}, false
	}
	dl.ID = entry.ID
	return dl, true
}
