// Command notifier runs the e-mail notification service: queue workers,
// the transport health checker and the operator HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/api"
	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/config"
	"github.com/cermont/notifier/internal/logger"
	"github.com/cermont/notifier/internal/notify"
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
		Service:   "notifier",
	})
	log.Info().Msg("starting notifier")

	ctx := context.Background()
	svc, err := notify.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open notification service")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is not set; every /api/v1 request will be rejected")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		TokenTTL:   cfg.Auth.TokenTTL,
	})

	rateLimiter, closeLimiter := newRateLimiter(ctx, cfg, log)
	defer closeLimiter()

	router := api.NewRouter(api.Deps{
		Notifier:    svc,
		JWT:         jwtService,
		RateLimiter: rateLimiter,
		Log:         log,
	})

	addr := cfg.API.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("notification service did not close cleanly")
	}

	log.Info().Msg("notifier stopped")
}

// newRateLimiter connects the per-tenant API quota to Redis when a limit
// is configured. An unreachable Redis disables the quota with a warning.
func newRateLimiter(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*auth.RateLimiter, func()) {
	noop := func() {}
	if cfg.Auth.RateLimitHourly <= 0 {
		return nil, noop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Queue.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr()).Msg("rate limiter disabled, redis unreachable")
		_ = client.Close()
		return nil, noop
	}

	log.Info().Int("hourly_limit", cfg.Auth.RateLimitHourly).Msg("API rate limiter enabled")
	return auth.NewRateLimiter(client, cfg.Auth.RateLimitHourly), func() { _ = client.Close() }
}
