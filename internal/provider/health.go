package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/metrics"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultCheckTimeout  = 10 * time.Second
	unhealthyThreshold   = 3
)

// HealthStatus is the last known state of one transport.
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthChecker probes every registered transport in the background. A
// transport turns unhealthy after three consecutive failed probes and
// recovers on the first success. /readyz reads the snapshot.
type HealthChecker struct {
	mu            sync.RWMutex
	registry      *Registry
	statuses      map[string]*HealthStatus
	checkInterval time.Duration
	checkTimeout  time.Duration
	log           zerolog.Logger
	stopCh        chan struct{}
	stopped       chan struct{}
	stopOnce      sync.Once
}

// HealthOption customizes a HealthChecker.
type HealthOption func(*HealthChecker)

// WithCheckInterval sets the probe period.
func WithCheckInterval(d time.Duration) HealthOption {
	return func(hc *HealthChecker) {
		if d > 0 {
			hc.checkInterval = d
		}
	}
}

// WithHealthLogger logs health transitions.
func WithHealthLogger(log zerolog.Logger) HealthOption {
	return func(hc *HealthChecker) { hc.log = log }
}

// NewHealthChecker creates a checker over the transports in registry.
func NewHealthChecker(registry *Registry, opts ...HealthOption) *HealthChecker {
	hc := &HealthChecker{
		registry:      registry,
		statuses:      make(map[string]*HealthStatus),
		checkInterval: defaultCheckInterval,
		checkTimeout:  defaultCheckTimeout,
		log:           zerolog.Nop(),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(hc)
	}
	return hc
}

// Start begins the background probe loop.
func (hc *HealthChecker) Start() {
	go hc.run()
}

// Stop terminates the loop and waits for it. Safe to call more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stopCh)
		<-hc.stopped
	})
}

// IsHealthy returns whether a transport is currently healthy. Unknown
// transports are unhealthy.
func (hc *HealthChecker) IsHealthy(name string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	return ok && status.Healthy
}

// GetStatus returns the full health status for a transport.
func (hc *HealthChecker) GetStatus(name string) (HealthStatus, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	if !ok {
		return HealthStatus{}, false
	}
	return *status, true
}

// GetAllStatuses returns a snapshot of all statuses.
func (hc *HealthChecker) GetAllStatuses() map[string]HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	result := make(map[string]HealthStatus, len(hc.statuses))
	for name, status := range hc.statuses {
		result[name] = *status
	}
	return result
}

// Ready reports whether every registered transport has been probed and is
// healthy.
func (hc *HealthChecker) Ready() bool {
	for _, name := range hc.registry.List() {
		if !hc.IsHealthy(name) {
			return false
		}
	}
	return true
}

// CheckNow runs one probe cycle synchronously.
func (hc *HealthChecker) CheckNow() {
	for _, p := range hc.registry.All() {
		hc.checkProvider(p)
	}
}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	hc.CheckNow()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.CheckNow()
		}
	}
}

func (hc *HealthChecker) checkProvider(p Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	defer cancel()

	err := p.HealthCheck(ctx)
	name := p.GetName()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	status, ok := hc.statuses[name]
	if !ok {
		status = &HealthStatus{Healthy: true}
		hc.statuses[name] = status
	}
	wasHealthy := status.Healthy
	status.LastCheck = time.Now()

	if err != nil {
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures >= unhealthyThreshold {
			status.Healthy = false
		}
	} else {
		status.ConsecutiveFailures = 0
		status.Healthy = true
		status.LastError = ""
	}
	metrics.TransportHealthy.WithLabelValues(name).Set(metrics.BoolGauge(status.Healthy))

	switch {
	case wasHealthy && !status.Healthy:
		hc.log.Warn().Str("provider", name).Str("error", status.LastError).Msg("transport marked unhealthy")
	case !wasHealthy && status.Healthy:
		hc.log.Info().Str("provider", name).Msg("transport recovered")
	}
}
