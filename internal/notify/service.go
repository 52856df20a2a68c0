// Package notify is the entry point other services use to send e-mail. A
// Service owns the transport, the template renderer and the queue adapter
// for the life of the process.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/config"
	"github.com/cermont/notifier/internal/dkim"
	"github.com/cermont/notifier/internal/msgstore"
	"github.com/cermont/notifier/internal/provider"
	"github.com/cermont/notifier/internal/queue"
	"github.com/cermont/notifier/internal/templates"
	"github.com/cermont/notifier/internal/worker"
)

// Options tune the facade.
type Options struct {
	// DefaultMaxAttempts applies to messages that do not set MaxAttempts.
	DefaultMaxAttempts int
	// FrontendURL is the base for links in domain-event e-mails.
	FrontendURL string
}

// Service is the notification facade.
type Service struct {
	renderer worker.Renderer
	handler  *worker.Handler
	queue    queue.Adapter
	health   *provider.HealthChecker
	outbox   msgstore.MessageStore
	opts     Options
	log      zerolog.Logger
}

// New assembles a Service from already built parts. Open is the usual
// constructor; New exists for tests and custom wiring.
func New(r worker.Renderer, h *worker.Handler, q queue.Adapter, opts Options, log zerolog.Logger) *Service {
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = config.DefaultMaxAttempts
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "http://localhost:3000"
	}
	return &Service{
		renderer: r,
		handler:  h,
		queue:    q,
		opts:     opts,
		log:      log,
	}
}

// Open builds every component from cfg and starts the queue workers and the
// transport health checker. An unreachable broker does not fail Open; the
// queue runs degraded instead.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Service, error) {
	signer, err := dkim.New(dkim.Config{
		Selector:   cfg.DKIM.Selector,
		Domain:     cfg.DKIM.Domain,
		KeyPath:    cfg.DKIM.KeyPath,
		PrivateKey: cfg.DKIM.PrivateKey,
	})
	if err != nil {
		return nil, fmt.Errorf("dkim: %w", err)
	}

	var outbox msgstore.MessageStore
	if cfg.Email.TransportType() == "file" {
		outbox, err = msgstore.New(ctx, msgstore.Config{
			Type:       cfg.Output.Type,
			Path:       cfg.Output.Path,
			S3Bucket:   cfg.Output.S3Bucket,
			S3Prefix:   cfg.Output.S3Prefix,
			S3Endpoint: cfg.Output.S3Endpoint,
			S3Region:   cfg.Output.S3Region,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("message store: %w", err)
		}
	}

	transport, err := provider.NewProvider(transportConfig(cfg.Email), provider.Deps{
		Store:  outbox,
		Signer: signer,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	renderer := templates.NewRenderer(cfg.Templates.Dirs)
	if err := renderer.Preload(); err != nil {
		log.Warn().Err(err).Strs("roots", renderer.Roots()).Msg("some templates could not be loaded")
	}

	handler := worker.NewHandler(renderer, transport, worker.Defaults{
		From:    cfg.Email.From,
		ReplyTo: cfg.Email.ReplyTo,
	}, log.With().Str("component", "worker").Logger())

	q, err := queue.New(ctx, queueConfig(cfg), handler, log.With().Str("component", "queue").Logger())
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	if err := q.Start(ctx); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("start queue: %w", err)
	}

	registry := provider.NewRegistry()
	registry.Register(transport)
	health := provider.NewHealthChecker(registry, provider.WithHealthLogger(log))
	health.Start()

	svc := New(renderer, handler, q, Options{
		DefaultMaxAttempts: cfg.Queue.MaxAttempts,
		FrontendURL:        cfg.FrontendURL,
	}, log)
	svc.health = health
	svc.outbox = outbox

	log.Info().
		Str("transport", transport.GetName()).
		Str("dkim_selector", signer.Selector()).
		Str("queue_mode", string(q.Mode())).
		Str("broker", q.Broker()).
		Msg("notification service ready")
	return svc, nil
}

// Close stops the workers within ShutdownTimeout and ctx, releases the
// broker connection and stops the health checker. Every step runs; the
// returned error joins the failures.
func (s *Service) Close(ctx context.Context) error {
	var errs []error

	if err := s.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop queue: %w", err))
	}
	if err := s.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	if s.health != nil {
		s.health.Stop()
	}

	return errors.Join(errs...)
}

// Mode reports whether queued jobs are durable.
func (s *Service) Mode() queue.Mode { return s.queue.Mode() }

// Broker names the queue backend.
func (s *Service) Broker() string { return s.queue.Broker() }

// DeadLetters returns the dead-letter channel, nil in degraded mode.
func (s *Service) DeadLetters() queue.DeadLetterQueue { return s.queue.DeadLetters() }

// Outbox returns the message store behind the file transport, or nil.
func (s *Service) Outbox() msgstore.MessageStore { return s.outbox }

// TransportStatuses returns the last health probe of each transport.
func (s *Service) TransportStatuses() map[string]provider.HealthStatus {
	if s.health == nil {
		return nil
	}
	return s.health.GetAllStatuses()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the transport is healthy and, in durable mode,
// the broker answers.
func (s *Service) Ready(ctx context.Context) error {
	if s.health != nil && !s.health.Ready() {
		return errors.New("transport unhealthy")
	}
	if p, ok := s.queue.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}
	return nil
}

func transportConfig(c config.EmailConfig) provider.ProviderConfig {
	return provider.ProviderConfig{
		Type:         c.TransportType(),
		APIKey:       c.APIKey,
		AccountToken: c.AccountToken,
		Endpoint:     c.Endpoint,
		Timeout:      c.Timeout,
		Domain:       c.Domain,
		Host:         c.Host,
		Port:         c.Port,
		Username:     c.User,
		Password:     c.Password,
		Secure:       c.Secure,
		StartTLS:     c.StartTLS,
	}
}

func queueConfig(cfg *config.Config) queue.Config {
	q := cfg.Queue
	return queue.Config{
		Broker:          q.Broker,
		Name:            q.Name,
		DeadLetterName:  q.DeadLetterName,
		DelayedName:     q.DelayedName,
		Group:           q.Group,
		Concurrency:     q.Concurrency,
		MaxAttempts:     q.MaxAttempts,
		RetryDelay:      q.RetryDelay,
		MaxBackoff:      q.MaxBackoff,
		BlockTimeout:    q.BlockTimeout,
		ProcessTimeout:  q.ProcessTimeout,
		ShutdownTimeout: q.ShutdownTimeout,
		ConnectTimeout:  q.ConnectTimeout,
		ReclaimIdle:     q.ReclaimIdle,
		PollInterval:    q.PollInterval,
		RedisAddr:       cfg.Redis.Addr(),
		RedisPassword:   cfg.Redis.Password,
		RedisDB:         cfg.Redis.DB,
		SQSQueueURL:     cfg.SQS.QueueURL,
		SQSDLQueueURL:   cfg.SQS.DLQueueURL,
		SQSRegion:       cfg.SQS.Region,
		SQSWaitTime:     cfg.SQS.WaitTime,
		SQSVisTimeout:   cfg.SQS.VisibilityTimeout,
	}
}
