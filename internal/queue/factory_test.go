package queue

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BrokerNone(t *testing.T) {
	a, err := New(context.Background(), Config{Broker: "none"}, &recordingHandler{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, ModeDegraded, a.Mode())
	assert.Equal(t, "inline", a.Broker())
	assert.Nil(t, a.DeadLetters())
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueDegraded))
}

func TestNew_UnknownBroker(t *testing.T) {
	_, err := New(context.Background(), Config{Broker: "kafka"}, &recordingHandler{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_UnreachableRedisFallsBack(t *testing.T) {
	cfg := Config{
		Broker:         "redis",
		RedisAddr:      "127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
	}

	a, err := New(context.Background(), cfg, &recordingHandler{}, zerolog.Nop())
	require.NoError(t, err, "boot never fails on an unreachable broker")
	assert.Equal(t, ModeDegraded, a.Mode())
}

func TestNew_UnconfiguredSQSFallsBack(t *testing.T) {
	a, err := New(context.Background(), Config{Broker: "sqs"}, &recordingHandler{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ModeDegraded, a.Mode())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{RetryDelay: 0, ProcessTimeout: 90 * time.Second}.withDefaults()

	assert.Equal(t, "redis", cfg.Broker)
	assert.Equal(t, "emails", cfg.Name)
	assert.Equal(t, "emails-dead-letter", cfg.DeadLetterName)
	assert.Equal(t, "emails:delayed", cfg.DelayedName)
	assert.Equal(t, "email-workers", cfg.Group)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Zero(t, cfg.RetryDelay, "zero base delay is kept")
	assert.Equal(t, 180*time.Second, cfg.ReclaimIdle, "reclaim idle exceeds process timeout")
}
