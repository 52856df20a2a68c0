// Package api serves the operator HTTP surface of the notifier: health,
// metrics, send/enqueue, template preview, dead-letter inspection and the
// file-transport outbox.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/msgstore"
	"github.com/cermont/notifier/internal/provider"
	"github.com/cermont/notifier/internal/queue"
	"github.com/cermont/notifier/internal/templates"
)

// Notifier is the part of notify.Service the API drives.
type Notifier interface {
	SendEmail(ctx context.Context, msg email.Message) (*provider.DeliveryResult, error)
	Enqueue(ctx context.Context, msg email.Message) (string, error)
	EnqueueBatch(ctx context.Context, msgs []email.Message) ([]string, error)
	RenderTemplate(key templates.Key, data map[string]any) (templates.Rendered, error)

	Mode() queue.Mode
	Broker() string
	DeadLetters() queue.DeadLetterQueue
	Outbox() msgstore.MessageStore
	TransportStatuses() map[string]provider.HealthStatus
	Ready(ctx context.Context) error
}

// Deps are the collaborators of the router. RateLimiter may be nil.
type Deps struct {
	Notifier    Notifier
	JWT         *auth.JWTService
	RateLimiter *auth.RateLimiter
	Log         zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	audit := auth.NewAuditLogger(d.Log)

	// Global middleware
	r.Use(CorrelationIDMiddleware(d.Log))
	r.Use(LoggingMiddleware(d.Log))
	r.Use(RecoverMiddleware(d.Log))
	r.Use(MetricsMiddleware)

	// Health endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(d.Notifier))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.JWTAuth(d.JWT))

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(d.RateLimiter))
			r.Post("/emails", EnqueueEmailHandler(d.Notifier))
			r.Post("/emails/batch", EnqueueBatchHandler(d.Notifier))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleOperator))
			r.Post("/emails/send", SendEmailHandler(d.Notifier, audit))
			r.Get("/templates", ListTemplatesHandler())
			r.Post("/templates/{key}/preview", PreviewTemplateHandler(d.Notifier))
			r.Get("/outbox", OutboxListHandler(d.Notifier))
			r.Get("/outbox/{name}", OutboxGetHandler(d.Notifier, audit))
			r.Get("/dlq", DLQListHandler(d.Notifier, audit))
		})

		r.With(auth.RequireRole(auth.RoleAdmin)).
			Post("/dlq/reprocess", DLQReprocessHandler(d.Notifier, audit))
	})

	return r
}
