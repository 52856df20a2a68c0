package queue

import "time"

// Config holds configuration for the queue adapter.
type Config struct {
	// Broker selects the backend: "redis" (default), "sqs" or "none".
	Broker         string
	Name           string
	DeadLetterName string
	DelayedName    string
	Group          string
	Concurrency    int

	MaxAttempts int
	RetryDelay  time.Duration
	MaxBackoff  time.Duration

	BlockTimeout    time.Duration
	ProcessTimeout  time.Duration
	ShutdownTimeout time.Duration
	ConnectTimeout  time.Duration
	ReclaimIdle     time.Duration
	PollInterval    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQSQueueURL   string
	SQSDLQueueURL string
	SQSRegion     string
	SQSWaitTime   int32 // long poll seconds
	SQSVisTimeout int32 // seconds
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		Broker:          "redis",
		Name:            "emails",
		DeadLetterName:  "emails-dead-letter",
		DelayedName:     "emails:delayed",
		Group:           "email-workers",
		Concurrency:     5,
		MaxAttempts:     3,
		RetryDelay:      500 * time.Millisecond,
		MaxBackoff:      10 * time.Minute,
		BlockTimeout:    5 * time.Second,
		ProcessTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ConnectTimeout:  2 * time.Second,
		ReclaimIdle:     time.Minute,
		PollInterval:    250 * time.Millisecond,
		RedisAddr:       "localhost:6379",
		SQSRegion:       "us-east-1",
		SQSWaitTime:     20,
		SQSVisTimeout:   30,
	}
}

// withDefaults fills zero fields from DefaultConfig. RetryDelay is left
// alone because zero is a valid base delay.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Broker == "" {
		c.Broker = d.Broker
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.DeadLetterName == "" {
		c.DeadLetterName = d.DeadLetterName
	}
	if c.DelayedName == "" {
		c.DelayedName = d.DelayedName
	}
	if c.Group == "" {
		c.Group = d.Group
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = d.BlockTimeout
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = d.ReclaimIdle
	}
	// A job still being processed must not look abandoned.
	if c.ReclaimIdle <= c.ProcessTimeout {
		c.ReclaimIdle = 2 * c.ProcessTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RedisAddr == "" {
		c.RedisAddr = d.RedisAddr
	}
	if c.SQSRegion == "" {
		c.SQSRegion = d.SQSRegion
	}
	if c.SQSWaitTime <= 0 {
		c.SQSWaitTime = d.SQSWaitTime
	}
	if c.SQSVisTimeout <= 0 {
		c.SQSVisTimeout = d.SQSVisTimeout
	}
	return c
}

func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: c.RetryDelay, MaxBackoff: c.MaxBackoff}
}
