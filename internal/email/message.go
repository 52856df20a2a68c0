// Package email defines the notification message carried through the
// pipeline, from the facade to the queue payload to the transport.
package email

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/cermont/notifier/internal/templates"
)

var (
	// ErrNoRecipients is returned when a message has no To addresses.
	ErrNoRecipients = errors.New("email: at least one recipient is required")
	// ErrNoContent is returned when a message has neither a body nor a template.
	ErrNoContent = errors.New("email: html, text or template is required")
	// ErrInvalidAddress wraps a malformed recipient, sender or reply-to.
	ErrInvalidAddress = errors.New("email: invalid address")
)

// Message is an outbound notification. It is immutable once handed to the
// queue; the queue stores its JSON encoding.
type Message struct {
	To           []string       `json:"to"`
	Subject      string         `json:"subject"`
	HTML         string         `json:"html,omitempty"`
	Text         string         `json:"text,omitempty"`
	From         string         `json:"from,omitempty"`
	ReplyTo      string         `json:"reply_to,omitempty"`
	Template     templates.Key  `json:"template,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	MaxAttempts  int            `json:"max_attempts,omitempty"`
	Attachments  []Attachment   `json:"attachments,omitempty"`
	Tag          string         `json:"tag,omitempty"`
}

// Attachment is a file carried with the message. Content is base64 in JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

// HasBody reports whether the message already carries rendered content.
func (m *Message) HasBody() bool {
	return m.HTML != "" || m.Text != ""
}

// NeedsRender reports whether processing must render the template first.
// A message that carries a body is sent as-is even when a template is set.
func (m *Message) NeedsRender() bool {
	return m.Template != "" && !m.HasBody()
}

// Validate checks the message invariants. Template keys are not checked
// here; an unknown key fails when the message is processed.
func (m *Message) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	if !m.HasBody() && m.Template == "" {
		return ErrNoContent
	}
	for _, addr := range m.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: recipient %q", ErrInvalidAddress, addr)
		}
	}
	for field, addr := range map[string]string{"from": m.From, "reply_to": m.ReplyTo} {
		if addr == "" {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: %s %q", ErrInvalidAddress, field, addr)
		}
	}
	return nil
}

// Clone returns a deep copy so the caller's slices and maps are not shared
// with a queued job.
func (m Message) Clone() Message {
	out := m
	out.To = append([]string(nil), m.To...)
	if m.TemplateData != nil {
		out.TemplateData = make(map[string]any, len(m.TemplateData))
		for k, v := range m.TemplateData {
			out.TemplateData[k] = v
		}
	}
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Content = append([]byte(nil), a.Content...)
			out.Attachments[i] = a
		}
	}
	return out
}

// Recipients returns the To list as a single comma-separated string,
// used in log fields.
func (m *Message) Recipients() string {
	return strings.Join(m.To, ", ")
}
