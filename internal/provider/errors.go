package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-smtp"
)

// TransportError is the single failure type returned by Send. Permanent is
// a hint for operators; the queue retries regardless of it.
type TransportError struct {
	// Provider is the transport that failed.
	Provider string
	// StatusCode is the HTTP status or SMTP reply code, 0 for network errors.
	StatusCode int
	// Message is the provider's response detail.
	Message string
	// Permanent reports that a retry is not expected to succeed.
	Permanent bool
	// Err is the underlying cause, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, e.Message)
	}
	return e.Provider + ": " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a TransportError marked permanent.
func IsPermanent(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// NetworkError wraps a failure that happened before the provider answered.
func NetworkError(providerName, op string, err error) *TransportError {
	return &TransportError{
		Provider: providerName,
		Message:  op + ": " + err.Error(),
		Err:      err,
	}
}

// ClassifyHTTPError creates a TransportError from an HTTP status code and
// response body. 2xx returns nil.
func ClassifyHTTPError(providerName string, statusCode int, body string) *TransportError {
	te := &TransportError{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 400, statusCode == 422:
		te.Permanent = containsAny(body, permanentRequestPatterns)
	case statusCode == 401, statusCode == 403, statusCode == 404:
		te.Permanent = true
	case statusCode == 408, statusCode == 429:
		te.Permanent = false
	case statusCode >= 500:
		te.Permanent = containsAny(body, permanentServerPatterns)
	default:
		te.Permanent = statusCode >= 400 && statusCode < 500
	}

	return te
}

// ClassifySMTPError converts an SMTP client error. 5xx replies are
// permanent, 4xx are transient, anything else is a network failure.
func ClassifySMTPError(providerName, op string, err error) *TransportError {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &TransportError{
			Provider:   providerName,
			StatusCode: se.Code,
			Message:    op + ": " + se.Message,
			Permanent:  se.Code >= 500 && se.Code < 600,
			Err:        err,
		}
	}
	return NetworkError(providerName, op, err)
}

var permanentRequestPatterns = []string{
	"invalid recipient",
	"invalid email",
	"does not exist",
	"mailbox not found",
	"recipient rejected",
	"bad request",
	"validation error",
	"invalid address",
	"inactive recipient",
}

var permanentServerPatterns = []string{
	"invalid api key",
	"authentication failed",
	"account suspended",
	"account disabled",
	"unauthorized",
}

func containsAny(body string, patterns []string) bool {
	lower := strings.ToLower(body)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
