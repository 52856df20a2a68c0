package mimemsg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Parse reads a raw RFC 5322 message. The first text/plain and text/html
// parts become the bodies; every other leaf part is an attachment. Nested
// multiparts are walked. X- headers are kept in Headers.
func Parse(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("mimemsg: read message: %w", err)
	}
	defer mr.Close()

	out := &Message{}
	readHeader(&mr.Header, out)

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("mimemsg: read part: %w", err)
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("mimemsg: read part body: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, params, _ := h.ContentType()
			switch {
			case (ct == "" || ct == "text/plain") && out.TextBody == "":
				out.TextBody = string(body)
			case ct == "text/html" && out.HTMLBody == "":
				out.HTMLBody = string(body)
			default:
				out.Attachments = append(out.Attachments, Attachment{
					Filename:    params["name"],
					ContentType: ct,
					Content:     body,
					ContentID:   contentID(h.Get("Content-Id")),
					IsInline:    true,
				})
			}
		case *mail.AttachmentHeader:
			ct, params, _ := h.ContentType()
			name, _ := h.Filename()
			if name == "" {
				name = params["name"]
			}
			out.Attachments = append(out.Attachments, Attachment{
				Filename:    name,
				ContentType: ct,
				Content:     body,
				ContentID:   contentID(h.Get("Content-Id")),
				IsInline:    isInlineDisposition(h.Get("Content-Disposition")),
			})
		}
	}
}

func readHeader(h *mail.Header, out *Message) {
	out.Subject, _ = h.Subject()
	out.MessageID, _ = h.MessageID()
	out.Date, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			out.To = append(out.To, a.Address)
		}
	}
	if rt, err := h.AddressList("Reply-To"); err == nil && len(rt) > 0 {
		out.ReplyTo = rt[0].Address
	}

	fields := h.Fields()
	for fields.Next() {
		key := fields.Key()
		if strings.EqualFold(key, "DKIM-Signature") {
			out.DKIMSigned = true
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(key), "X-") {
			continue
		}
		if out.Headers == nil {
			out.Headers = make(map[string]string)
		}
		out.Headers[key] = fields.Value()
	}
}

func contentID(raw string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "<"), ">")
}

func isInlineDisposition(raw string) bool {
	disp, _, err := mime.ParseMediaType(raw)
	return err == nil && strings.EqualFold(disp, "inline")
}
