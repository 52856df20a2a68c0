// Command queue-worker consumes durable e-mail jobs without serving the
// HTTP API, so workers can scale separately from the notifier.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cermont/notifier/internal/config"
	"github.com/cermont/notifier/internal/logger"
	"github.com/cermont/notifier/internal/notify"
	"github.com/cermont/notifier/internal/queue"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Service:   "queue-worker",
	})
	log.Info().Msg("starting queue worker")

	ctx := context.Background()
	svc, err := notify.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open notification service")
	}

	// Degraded mode has no broker to consume from.
	if svc.Mode() != queue.ModeDurable {
		_ = svc.Close(ctx)
		log.Fatal().
			Str("broker", cfg.Queue.Broker).
			Msg("queue is degraded; a worker needs a reachable durable broker")
	}

	log.Info().
		Int("workers", cfg.Queue.Concurrency).
		Str("broker", svc.Broker()).
		Str("queue", cfg.Queue.Name).
		Str("group", cfg.Queue.Group).
		Msg("queue worker pool started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down queue worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := svc.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("queue worker did not stop cleanly")
	}

	log.Info().Msg("queue worker stopped")
}
