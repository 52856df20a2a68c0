package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/logger"
)

// Audited operator actions.
const (
	AuditActionSend       = "email.send"
	AuditActionDLQList    = "dlq.list"
	AuditActionReprocess  = "dlq.reprocess"
	AuditActionOutboxRead = "outbox.read"
)

// AuditResult defines the result of an audited action.
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
)

// AuditEntry is one operator action.
type AuditEntry struct {
	TenantID     string
	Subject      string
	Action       string
	ResourceType string
	ResourceID   string
	Result       string
	Metadata     map[string]interface{}
	IPAddress    string
}

// AuditLogger writes operator actions as structured log lines.
type AuditLogger struct {
	logger zerolog.Logger
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With().Str("component", "audit").Logger()}
}

// LogAdminAction records a successful or failed operator action taken by
// the caller identified in ctx.
func (al *AuditLogger) LogAdminAction(ctx context.Context, r *http.Request, action, resourceType, resourceID, result string, metadata map[string]interface{}) {
	al.log(ctx, AuditEntry{
		TenantID:     TenantFromContext(ctx),
		Subject:      SubjectFromContext(ctx),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Result:       result,
		Metadata:     metadata,
		IPAddress:    extractIP(r),
	})
}

func (al *AuditLogger) log(ctx context.Context, entry AuditEntry) {
	if al == nil {
		return
	}

	event := al.logger.Info().
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("result", entry.Result).
		Str("ip_address", entry.IPAddress)

	if entry.TenantID != "" {
		event = event.Str("tenant_id", entry.TenantID)
	}
	if entry.Subject != "" {
		event = event.Str("subject", entry.Subject)
	}
	if entry.ResourceID != "" {
		event = event.Str("resource_id", entry.ResourceID)
	}
	if len(entry.Metadata) > 0 {
		event = event.Fields(entry.Metadata)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event = event.Str("correlation_id", id)
	}

	event.Msg("audit log")
}

// extractIP extracts the client IP address from the request, checking
// X-Forwarded-For and X-Real-IP headers first.
func extractIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
