package mimemsg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-message/mail"
)

// ErrNoRecipients is returned by Compose when To is empty.
var ErrNoRecipients = errors.New("mimemsg: no recipients")

// Compose renders m as a multipart/mixed message with a multipart/alternative
// body (text first, then HTML) followed by any attachments. Lines end in CRLF.
func Compose(m *Message) ([]byte, error) {
	if len(m.To) == 0 {
		return nil, ErrNoRecipients
	}

	h, err := buildHeader(m)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mimemsg: create writer: %w", err)
	}

	if err := writeBody(mw, m); err != nil {
		return nil, err
	}

	for _, att := range m.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mimemsg: close message: %w", err)
	}
	return buf.Bytes(), nil
}

func buildHeader(m *Message) (mail.Header, error) {
	var h mail.Header

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)

	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return h, fmt.Errorf("mimemsg: from %q: %w", m.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	to := make([]*mail.Address, 0, len(m.To))
	for _, addr := range m.To {
		a, err := mail.ParseAddress(addr)
		if err != nil {
			return h, fmt.Errorf("mimemsg: to %q: %w", addr, err)
		}
		to = append(to, a)
	}
	h.SetAddressList("To", to)

	if m.ReplyTo != "" {
		rt, err := mail.ParseAddress(m.ReplyTo)
		if err != nil {
			return h, fmt.Errorf("mimemsg: reply-to %q: %w", m.ReplyTo, err)
		}
		h.SetAddressList("Reply-To", []*mail.Address{rt})
	}

	h.SetSubject(m.Subject)
	if m.MessageID != "" {
		h.SetMessageID(m.MessageID)
	}

	// Sorted so the output is stable for signing and tests.
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Set(k, m.Headers[k])
	}
	return h, nil
}

func writeBody(mw *mail.Writer, m *Message) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("mimemsg: create inline: %w", err)
	}

	text := m.TextBody
	if text == "" && m.HTMLBody == "" {
		text = " "
	}
	if text != "" {
		if err := writeInlinePart(tw, "text/plain", text); err != nil {
			return err
		}
	}
	if m.HTMLBody != "" {
		if err := writeInlinePart(tw, "text/html", m.HTMLBody); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("mimemsg: close inline: %w", err)
	}
	return nil
}

func writeInlinePart(tw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("mimemsg: create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("mimemsg: write %s part: %w", contentType, err)
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var h mail.AttachmentHeader
	h.SetContentType(contentType, map[string]string{"name": att.Filename})
	h.SetFilename(att.Filename)
	h.Set("Content-Transfer-Encoding", "base64")
	if att.IsInline {
		h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", att.Filename))
	}
	if att.ContentID != "" {
		h.Set("Content-Id", "<"+att.ContentID+">")
	}

	w, err := mw.CreateAttachment(h)
	if err != nil {
		return fmt.Errorf("mimemsg: create attachment %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Content); err != nil {
		return fmt.Errorf("mimemsg: write attachment %s: %w", att.Filename, err)
	}
	return w.Close()
}
