package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/cermont/notifier/internal/dkim"
	"github.com/cermont/notifier/internal/mimemsg"
)

// SMTP relays messages through an SMTP submission server. One connection
// is opened per Send.
type SMTP struct {
	addr      string
	host      string
	username  string
	password  string
	secure    bool
	startTLS  string
	localName string
	timeout   time.Duration
	tlsConfig *tls.Config
	signer    *dkim.Signer
}

// NewSMTP creates an SMTP transport. signer may be nil.
func NewSMTP(cfg ProviderConfig, signer *dkim.Signer) *SMTP {
	localName := cfg.LocalName
	if localName == "" {
		localName = "localhost"
	}
	return &SMTP{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:      cfg.Host,
		username:  cfg.Username,
		password:  cfg.Password,
		secure:    cfg.Secure,
		startTLS:  cfg.StartTLS,
		localName: localName,
		timeout:   cfg.Timeout,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		signer:    signer,
	}
}

func (s *SMTP) GetName() string { return "smtp" }

// Send composes msg, signs it when DKIM is configured, and submits it.
// Recipients refused with an SMTP reply are reported in Rejected; the call
// fails only when every recipient is refused.
func (s *SMTP) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	from, err := envelopeAddress(msg.From)
	if err != nil {
		return nil, &TransportError{Provider: s.GetName(), Message: "invalid sender: " + err.Error(), Permanent: true, Err: err}
	}

	messageID := msg.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	raw, err := s.compose(msg, messageID)
	if err != nil {
		return nil, &TransportError{Provider: s.GetName(), Message: "compose: " + err.Error(), Permanent: true, Err: err}
	}

	c, err := s.dial(ctx)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, ClassifySMTPError(s.GetName(), "connect", err)
	}
	defer c.Close()
	// Unblocks any in-flight command when the caller gives up.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if err := s.handshake(c); err != nil {
		return nil, err
	}

	if err := c.Mail(from, nil); err != nil {
		return nil, ClassifySMTPError(s.GetName(), "mail from", err)
	}

	var accepted, rejected []string
	var lastErr error
	for _, rcpt := range msg.To {
		addr, err := envelopeAddress(rcpt)
		if err != nil {
			rejected = append(rejected, rcpt)
			lastErr = err
			continue
		}
		if err := c.Rcpt(addr, nil); err != nil {
			var se *smtp.SMTPError
			if !errors.As(err, &se) {
				return nil, ClassifySMTPError(s.GetName(), "rcpt to", err)
			}
			rejected = append(rejected, rcpt)
			lastErr = err
			continue
		}
		accepted = append(accepted, rcpt)
	}
	if len(accepted) == 0 {
		_ = c.Reset()
		if lastErr == nil {
			lastErr = errors.New("no recipients")
		}
		return nil, ClassifySMTPError(s.GetName(), "rcpt to", lastErr)
	}

	w, err := c.Data()
	if err != nil {
		return nil, ClassifySMTPError(s.GetName(), "data", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, ClassifySMTPError(s.GetName(), "write data", err)
	}
	if err := w.Close(); err != nil {
		return nil, ClassifySMTPError(s.GetName(), "end data", err)
	}
	_ = c.Quit()

	status := StatusSent
	if len(rejected) > 0 {
		status = StatusPartial
	}
	return &DeliveryResult{
		ProviderMessageID: messageID,
		Accepted:          accepted,
		Rejected:          rejected,
		Status:            status,
		Timestamp:         time.Now(),
		Metadata:          map[string]string{"relay": s.addr},
	}, nil
}

// HealthCheck opens a session and greets the server.
func (s *SMTP) HealthCheck(ctx context.Context) error {
	c, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp: health check dial: %w", err)
	}
	defer c.Close()
	if err := s.handshake(c); err != nil {
		return fmt.Errorf("smtp: health check: %w", err)
	}
	return c.Noop()
}

// dial connects, greets the relay and applies the TLS policy. The returned
// client is ready for AUTH.
func (s *SMTP) dial(ctx context.Context) (*smtp.Client, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if s.secure || s.startTLS == StartTLSNone {
		return s.greet(smtp.NewClient(conn))
	}
	if s.startTLS == StartTLSRequired {
		return s.upgrade(conn)
	}

	c, err := s.greet(smtp.NewClient(conn))
	if err != nil {
		return nil, err
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}
	// go-smtp only upgrades a fresh client, so reconnect for the TLS session.
	_ = c.Quit()
	c.Close()
	if conn, err = s.connect(ctx); err != nil {
		return nil, err
	}
	return s.upgrade(conn)
}

func (s *SMTP) connect(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.timeout}
	var (
		conn net.Conn
		err  error
	)
	if s.secure {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: s.tlsConfig}).DialContext(ctx, "tcp", s.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.addr)
	}
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *SMTP) upgrade(conn net.Conn) (*smtp.Client, error) {
	c, err := smtp.NewClientStartTLS(conn, s.tlsConfig)
	if err != nil {
		return nil, ClassifySMTPError(s.GetName(), "starttls", err)
	}
	// The session restarts after the upgrade; introduce ourselves again.
	return s.greet(c)
}

func (s *SMTP) greet(c *smtp.Client) (*smtp.Client, error) {
	if err := c.Hello(s.localName); err != nil {
		c.Close()
		return nil, ClassifySMTPError(s.GetName(), "ehlo", err)
	}
	return c, nil
}

// handshake authenticates when credentials are configured.
func (s *SMTP) handshake(c *smtp.Client) error {
	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return ClassifySMTPError(s.GetName(), "auth", err)
		}
	}
	return nil
}

func (s *SMTP) compose(msg *Message, messageID string) ([]byte, error) {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if msg.Tag != "" {
		headers["X-Tag"] = msg.Tag
	}

	raw, err := mimemsg.Compose(toMIME(msg, messageIDFor(messageID, msg.From), headers))
	if err != nil {
		return nil, err
	}
	return s.signer.Sign(raw, msg.From)
}

// toMIME converts a transport message for composition.
func toMIME(msg *Message, messageID string, headers map[string]string) *mimemsg.Message {
	out := &mimemsg.Message{
		MessageID: messageID,
		From:      msg.From,
		To:        msg.To,
		ReplyTo:   msg.ReplyTo,
		Subject:   msg.Subject,
		Headers:   headers,
		TextBody:  msg.TextBody,
		HTMLBody:  msg.HTMLBody,
	}
	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, mimemsg.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
			ContentID:   att.ContentID,
			IsInline:    att.IsInline,
		})
	}
	return out
}

// messageIDFor builds an RFC 5322 Message-ID from an opaque id and the
// sender's domain.
func messageIDFor(id, from string) string {
	domain := "localhost"
	if addr, err := envelopeAddress(from); err == nil {
		if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
			domain = addr[at+1:]
		}
	}
	return id + "@" + domain
}

// envelopeAddress strips any display name from addr.
func envelopeAddress(addr string) (string, error) {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		return "", err
	}
	return a.Address, nil
}
