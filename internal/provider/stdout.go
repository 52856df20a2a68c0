package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Stdout prints messages instead of delivering them. It is the transport
// used when sending is disabled.
type Stdout struct {
	writer io.Writer
}

// NewStdout creates a Stdout transport that prints to os.Stdout.
func NewStdout(_ ProviderConfig) *Stdout {
	return &Stdout{writer: os.Stdout}
}

func (s *Stdout) GetName() string { return "stdout" }

// Send prints a summary followed by the text body.
func (s *Stdout) Send(_ context.Context, msg *Message) (*DeliveryResult, error) {
	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "ID:          %s\n", msg.ID)
	fmt.Fprintf(&b, "From:        %s\n", msg.From)
	fmt.Fprintf(&b, "To:          %s\n", strings.Join(msg.To, ", "))
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To:    %s\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject:     %s\n", msg.Subject)

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "Header:      %s: %s\n", k, msg.Headers[k])
	}
	fmt.Fprintf(&b, "HTML:        (%d bytes)\n", len(msg.HTMLBody))
	fmt.Fprintf(&b, "Attachments: %d\n", len(msg.Attachments))
	if msg.TextBody != "" {
		b.WriteString("\n")
		b.WriteString(msg.TextBody)
		b.WriteString("\n")
	}
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return nil, NetworkError(s.GetName(), "write", err)
	}

	return sentResult("stdout-"+msg.ID, msg.To, nil), nil
}

// HealthCheck always returns nil since stdout is always available.
func (s *Stdout) HealthCheck(_ context.Context) error {
	return nil
}
