package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// New resolves the adapter variant once. "none" selects degraded mode. For
// "redis" and "sqs" the broker is probed within ConnectTimeout; when the
// probe fails New logs a warning and returns the degraded adapter, so
// startup never fails on an unreachable broker. Only an unknown broker
// name is an error.
func New(ctx context.Context, cfg Config, handler JobHandler, log zerolog.Logger) (Adapter, error) {
	cfg = cfg.withDefaults()

	var (
		adapter Adapter
		reason  error
	)

	switch cfg.Broker {
	case "none", "inline":
		adapter = degraded(cfg, handler, log)
		log.Info().Msg("queue broker disabled, delivering inline")
		return adapter, nil

	case "redis":
		adapter, reason = newRedisFromConfig(ctx, cfg, handler, log)

	case "sqs":
		adapter, reason = newSQSFromConfig(ctx, cfg, handler, log)

	default:
		return nil, fmt.Errorf("unknown queue broker: %s", cfg.Broker)
	}

	if reason != nil {
		log.Warn().
			Err(reason).
			Str("broker", cfg.Broker).
			Msg("queue broker unavailable, running in degraded mode: no retries, failed sends are dropped")
		return degraded(cfg, handler, log), nil
	}

	QueueDegraded.Set(0)
	log.Info().Str("broker", cfg.Broker).Msg("queue running in durable mode")
	return adapter, nil
}

var errSQSNotConfigured = errors.New("sqs queue and dead-letter urls must both be configured")

func degraded(cfg Config, handler JobHandler, log zerolog.Logger) Adapter {
	QueueDegraded.Set(1)
	return NewInlineAdapter(handler, cfg.ProcessTimeout, log)
}

func newRedisFromConfig(ctx context.Context, cfg Config, handler JobHandler, log zerolog.Logger) (Adapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.ConnectTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisAdapter(client, cfg, handler, log), nil
}

func newSQSFromConfig(ctx context.Context, cfg Config, handler JobHandler, log zerolog.Logger) (Adapter, error) {
	if cfg.SQSQueueURL == "" || cfg.SQSDLQueueURL == "" {
		return nil, errSQSNotConfigured
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := newAWSSQSClient(pingCtx, cfg.SQSRegion)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(pingCtx, cfg.SQSQueueURL); err != nil {
		return nil, fmt.Errorf("probe sqs queue: %w", err)
	}
	return newSQSAdapter(client, cfg, handler, log), nil
}
