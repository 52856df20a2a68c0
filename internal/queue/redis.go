package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// entryField is the stream field holding the JSON-encoded job.
const entryField = "data"

const (
	promoteBatch = 100
	reclaimBatch = 10
)

// promoteScript moves due jobs from the delayed set back into the stream.
// KEYS[1] delayed set, KEYS[2] stream, ARGV[1] now in ms, ARGV[2] limit.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('XADD', KEYS[2], '*', 'data', member)
	redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// RedisAdapter is the durable adapter backed by Redis Streams. Jobs are
// consumed through a consumer group; retries wait in a sorted set keyed by
// due time until the scheduler promotes them.
type RedisAdapter struct {
	client   redis.UniversalClient
	cfg      Config
	proc     *processor
	dlq      *RedisDLQ
	log      zerolog.Logger
	consumer string
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewRedisAdapter creates a RedisAdapter. The client is owned by the
// adapter and closed by Close.
func NewRedisAdapter(client redis.UniversalClient, cfg Config, handler JobHandler, log zerolog.Logger) *RedisAdapter {
	cfg = cfg.withDefaults()
	a := &RedisAdapter{
		client: client,
		cfg:    cfg,
		proc: &processor{
			handler: handler,
			retry:   cfg.retryPolicy(),
			timeout: cfg.ProcessTimeout,
			log:     log,
		},
		log:      log,
		consumer: consumerPrefix(),
	}
	a.dlq = NewRedisDLQ(client, cfg.DeadLetterName, a, log)
	return a
}

// Enqueue appends the job to the stream.
func (a *RedisAdapter) Enqueue(ctx context.Context, job *Job) (string, error) {
	data, err := job.encode()
	if err != nil {
		return "", err
	}

	err = a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.cfg.Name,
		Values: map[string]any{entryField: data},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("xadd job %s to stream %s: %w", job.ID, a.cfg.Name, err)
	}

	JobsEnqueuedTotal.WithLabelValues(a.Broker()).Inc()
	a.log.Debug().
		Str("job_id", job.ID).
		Str("to", job.Message.Recipients()).
		Str("subject", job.Message.Subject).
		Msg("job enqueued")
	return job.ID, nil
}

// EnqueueBatch enqueues jobs in order and stops at the first error.
func (a *RedisAdapter) EnqueueBatch(ctx context.Context, jobs []*Job) error {
	return enqueueSequential(ctx, a, jobs)
}

// Start creates the consumer group if needed, then launches the workers
// and the scheduler.
func (a *RedisAdapter) Start(ctx context.Context) error {
	if err := a.createConsumerGroup(ctx); err != nil {
		return err
	}

	ctx, a.cancel = context.WithCancel(ctx)

	for i := range a.cfg.Concurrency {
		a.wg.Add(1)
		go a.runWorker(ctx, fmt.Sprintf("%s-worker-%d", a.consumer, i))
	}
	a.wg.Add(1)
	go a.runScheduler(ctx, a.consumer+"-scheduler")

	a.log.Info().
		Int("concurrency", a.cfg.Concurrency).
		Str("stream", a.cfg.Name).
		Str("group", a.cfg.Group).
		Msg("redis queue started")
	return nil
}

// Stop cancels the workers and waits for in-flight jobs, bounded by
// ShutdownTimeout and ctx.
func (a *RedisAdapter) Stop(ctx context.Context) error {
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
		a.log.Warn().Dur("timeout", a.cfg.ShutdownTimeout).Msg("redis queue shutdown timed out")
		return err
	}
	a.log.Info().Msg("redis queue stopped gracefully")
	return nil
}

// Close closes the Redis client.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}

func (a *RedisAdapter) Mode() Mode { return ModeDurable }

func (a *RedisAdapter) Broker() string { return "redis" }

func (a *RedisAdapter) DeadLetters() DeadLetterQueue { return a.dlq }

// Ping checks the broker connection.
func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// createConsumerGroup creates the group at the start of the stream so jobs
// enqueued before the first worker ran are consumed too.
func (a *RedisAdapter) createConsumerGroup(ctx context.Context) error {
	err := a.client.XGroupCreateMkStream(ctx, a.cfg.Name, a.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on stream %s: %w", a.cfg.Group, a.cfg.Name, err)
	}
	return nil
}

func (a *RedisAdapter) runWorker(ctx context.Context, consumer string) {
	defer a.wg.Done()

	a.log.Debug().Str("consumer", consumer).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			a.log.Debug().Str("consumer", consumer).Msg("worker stopping")
			return
		default:
		}

		streams, err := a.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    a.cfg.Group,
			Consumer: consumer,
			Streams:  []string{a.cfg.Name, ">"},
			Count:    1,
			Block:    a.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			a.log.Error().Err(err).Str("consumer", consumer).Msg("xreadgroup error")
			sleepCtx(ctx, a.cfg.PollInterval)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				a.processEntry(ctx, entry)
			}
		}
	}
}

// processEntry runs one attempt and records its outcome. The entry is
// acked in the same transaction that records the outcome; if that fails
// it stays pending and the scheduler reclaims it later.
func (a *RedisAdapter) processEntry(ctx context.Context, entry redis.XMessage) {
	// In-flight work finishes even when Stop cancels the worker.
	ctx = context.WithoutCancel(ctx)

	data, ok := entry.Values[entryField].(string)
	if !ok {
		a.log.Error().Str("entry_id", entry.ID).Msg("stream entry has no job data, discarding")
		a.logRecordErr(entry.ID, "", a.ack(ctx, entry.ID))
		return
	}
	job, err := decodeJob(data)
	if err != nil {
		a.log.Error().Err(err).Str("entry_id", entry.ID).Msg("undecodable job, discarding")
		a.logRecordErr(entry.ID, "", a.ack(ctx, entry.ID))
		return
	}

	result, backoff, jobErr := a.proc.attempt(ctx, job)

	switch result {
	case outcomeSent:
		err = a.ack(ctx, entry.ID)
	case outcomeRetry:
		err = a.parkForRetry(ctx, entry.ID, job, backoff)
	case outcomeDeadLetter:
		err = a.deadLetter(ctx, entry.ID, job, jobErr.Error())
	}
	a.logRecordErr(entry.ID, job.ID, err)
}

func (a *RedisAdapter) logRecordErr(entryID, jobID string, err error) {
	if err == nil {
		return
	}
	a.log.Error().
		Err(err).
		Str("entry_id", entryID).
		Str("job_id", jobID).
		Msg("failed to record job outcome, entry left pending")
}

func (a *RedisAdapter) ack(ctx context.Context, entryID string) error {
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, a.cfg.Name, a.cfg.Group, entryID)
		pipe.XDel(ctx, a.cfg.Name, entryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack entry %s on stream %s: %w", entryID, a.cfg.Name, err)
	}
	return nil
}

// parkForRetry stores the job in the delayed set, scored by its due time
// in milliseconds, and acks the entry atomically.
func (a *RedisAdapter) parkForRetry(ctx context.Context, entryID string, job *Job, backoff time.Duration) error {
	data, err := job.encode()
	if err != nil {
		return err
	}
	due := time.Now().Add(backoff).UnixMilli()

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, a.cfg.DelayedName, redis.Z{Score: float64(due), Member: data})
		pipe.XAck(ctx, a.cfg.Name, a.cfg.Group, entryID)
		pipe.XDel(ctx, a.cfg.Name, entryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("park job %s in %s: %w", job.ID, a.cfg.DelayedName, err)
	}
	return nil
}

// deadLetter appends the dead-letter record and acks the entry atomically.
func (a *RedisAdapter) deadLetter(ctx context.Context, entryID string, job *Job, reason string) error {
	record, err := encodeDeadLetter(newDeadLetter(job, reason))
	if err != nil {
		return err
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, a.dlq.xaddArgs(record))
		pipe.XAck(ctx, a.cfg.Name, a.cfg.Group, entryID)
		pipe.XDel(ctx, a.cfg.Name, entryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}

	DeadLettersTotal.Inc()
	a.log.Warn().
		Str("job_id", job.ID).
		Int("attempts_made", job.AttemptsMade).
		Str("reason", reason).
		Msg("job moved to dead-letter stream")
	return nil
}

// runScheduler promotes due retries on every poll and reclaims entries
// that stayed pending longer than ReclaimIdle.
func (a *RedisAdapter) runScheduler(ctx context.Context, consumer string) {
	defer a.wg.Done()

	promote := time.NewTicker(a.cfg.PollInterval)
	defer promote.Stop()

	reclaimEvery := max(a.cfg.ReclaimIdle/2, a.cfg.PollInterval)
	reclaim := time.NewTicker(reclaimEvery)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			n, err := a.promoteDue(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Error().Err(err).Msg("failed to promote delayed jobs")
				}
				continue
			}
			if n > 0 {
				a.log.Debug().Int("count", n).Msg("promoted delayed jobs")
			}
		case <-reclaim.C:
			a.reclaimStale(ctx, consumer)
		}
	}
}

func (a *RedisAdapter) promoteDue(ctx context.Context) (int, error) {
	keys := []string{a.cfg.DelayedName, a.cfg.Name}
	return promoteScript.Run(ctx, a.client, keys, time.Now().UnixMilli(), promoteBatch).Int()
}

// reclaimStale claims entries whose consumer went away and processes them
// on the scheduler goroutine.
func (a *RedisAdapter) reclaimStale(ctx context.Context, consumer string) {
	start := "0-0"
	for {
		entries, next, err := a.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   a.cfg.Name,
			Group:    a.cfg.Group,
			Consumer: consumer,
			MinIdle:  a.cfg.ReclaimIdle,
			Start:    start,
			Count:    reclaimBatch,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				a.log.Error().Err(err).Msg("xautoclaim error")
			}
			return
		}

		for _, entry := range entries {
			a.log.Warn().Str("entry_id", entry.ID).Msg("reclaimed stale entry")
			a.processEntry(ctx, entry)
		}

		if next == "0-0" || len(entries) == 0 || ctx.Err() != nil {
			return
		}
		start = next
	}
}

// consumerPrefix names this process inside the consumer group.
func consumerPrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "notifier"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
