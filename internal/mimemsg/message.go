// Package mimemsg composes and parses RFC 5322 messages. Compose builds the
// wire form handed to SMTP servers and the file outbox; Parse reads it back
// for inspection.
package mimemsg

import "time"

// Message is the structured form of a MIME message.
type Message struct {
	MessageID   string
	Date        time.Time
	From        string
	To          []string
	ReplyTo     string
	Subject     string
	Headers     map[string]string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	DKIMSigned  bool // set by Parse when a DKIM-Signature header is present
}

// Attachment represents a single MIME attachment or inline part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string // for inline images (cid:xxx)
	IsInline    bool
}
