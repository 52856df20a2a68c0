// Package provider contains the outbound mail transports. A transport sends
// one fully rendered message per call and never retries on its own.
package provider

import (
	"context"
	"time"
)

// Provider sends rendered messages through one transport.
type Provider interface {
	// Send delivers msg. Failures are returned as *TransportError.
	Send(ctx context.Context, msg *Message) (*DeliveryResult, error)
	// GetName returns the transport identifier (e.g., "smtp", "postmark").
	GetName() string
	// HealthCheck verifies the transport is reachable and functional.
	HealthCheck(ctx context.Context) error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPRequest represents an outgoing HTTP request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse represents an HTTP response from a provider API.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Message is a fully rendered e-mail ready for a transport.
type Message struct {
	ID          string
	From        string
	ReplyTo     string
	To          []string
	Subject     string
	Headers     map[string]string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	Tag         string
}

// Attachment is a file carried with the message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string // for inline images (cid:xxx)
	IsInline    bool
}

// DeliveryResult is returned to the caller and never persisted.
type DeliveryResult struct {
	ProviderMessageID string
	Accepted          []string
	Rejected          []string
	Status            DeliveryStatus
	Timestamp         time.Time
	Metadata          map[string]string
}

// DeliveryStatus represents the outcome of a delivery.
type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusPartial DeliveryStatus = "partial"
	StatusFailed  DeliveryStatus = "failed"
)

// sentResult builds the result for a transport that accepts all recipients
// or none, as the HTTP APIs do.
func sentResult(id string, to []string, meta map[string]string) *DeliveryResult {
	return &DeliveryResult{
		ProviderMessageID: id,
		Accepted:          append([]string(nil), to...),
		Status:            StatusSent,
		Timestamp:         time.Now(),
		Metadata:          meta,
	}
}
