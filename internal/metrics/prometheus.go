package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport metrics
var (
	TransportSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_transport_sends_total",
			Help: "Total number of transport send calls",
		},
		[]string{"provider", "result"}, // sent, partial, error
	)

	TransportSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_transport_send_duration_seconds",
			Help:    "Duration of transport send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	TransportHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifier_transport_healthy",
			Help: "1 when the last health probes of a transport succeeded",
		},
		[]string{"provider"},
	)
)

// Template metrics
var (
	TemplateRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_template_renders_total",
			Help: "Total number of template renders by outcome",
		},
		[]string{"template", "result"}, // ok, error
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of API authentication failures",
		},
	)

	APIRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Total number of API requests rejected by the rate limiter",
		},
	)
)

// BoolGauge converts a health flag into a gauge value.
func BoolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
