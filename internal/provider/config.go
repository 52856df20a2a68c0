package provider

import (
	"errors"
	"time"
)

// ProviderConfig holds configuration for one transport.
type ProviderConfig struct {
	// Type identifies the transport: "smtp", "sendgrid", "mailgun", "postmark", "stdout", "file".
	Type string

	// APIKey is the HTTP ESP credential (Postmark server token).
	APIKey string

	// AccountToken is the Postmark account token, used by health checks.
	AccountToken string

	// Endpoint overrides the default API URL (useful for testing).
	Endpoint string

	// Timeout bounds one outbound call.
	Timeout time.Duration

	// Domain is the Mailgun sending domain.
	Domain string

	// SMTP relay settings.
	Host      string
	Port      int
	Username  string
	Password  string
	Secure    bool   // implicit TLS
	StartTLS  string // upgrade policy for plain connections; see StartTLS*
	LocalName string // EHLO name
}

// STARTTLS policies for a relay reached over plain TCP.
const (
	// StartTLSOpportunistic upgrades when the relay advertises STARTTLS and
	// stays in plaintext otherwise.
	StartTLSOpportunistic = "opportunistic"
	// StartTLSRequired refuses to talk to a relay that cannot upgrade.
	StartTLSRequired = "required"
	StartTLSNone     = "none"
)

const defaultTimeout = 30 * time.Second

// Validate checks that required fields are set based on the transport type.
func (c *ProviderConfig) Validate() error {
	if c.Type == "" {
		return errors.New("provider type is required")
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "smtp":
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
		if c.Port == 0 {
			c.Port = 587
		}
		if c.Password != "" && c.Username == "" {
			return errors.New("smtp: user is required when a password is set")
		}
		switch c.StartTLS {
		case "":
			c.StartTLS = StartTLSOpportunistic
		case StartTLSOpportunistic, StartTLSRequired, StartTLSNone:
		default:
			return errors.New("smtp: unknown starttls policy: " + c.StartTLS)
		}
	case "sendgrid":
		if c.APIKey == "" {
			return errors.New("sendgrid: api_key is required")
		}
	case "mailgun":
		if c.APIKey == "" {
			return errors.New("mailgun: api_key is required")
		}
		if c.Domain == "" {
			return errors.New("mailgun: domain is required")
		}
	case "postmark":
		if c.APIKey == "" {
			return errors.New("postmark: api_key (server token) is required")
		}
	case "stdout":
		// No configuration required.
	case "file":
		// The message store is passed separately.
	default:
		return errors.New("unknown provider type: " + c.Type)
	}

	return nil
}
