// Package worker turns a queued notification into a transport call. The
// same Handler backs queue workers and the synchronous send path.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/metrics"
	"github.com/cermont/notifier/internal/provider"
	"github.com/cermont/notifier/internal/queue"
	"github.com/cermont/notifier/internal/templates"
)

// Headers stamped on every outbound message.
const (
	HeaderJobID   = "X-Notifier-Job"
	HeaderAttempt = "X-Notifier-Attempt"
)

// Renderer renders a template key. *templates.Renderer implements it.
type Renderer interface {
	Render(key templates.Key, data map[string]any) (templates.Rendered, error)
}

// Defaults are applied to messages that leave the field empty.
type Defaults struct {
	From    string
	ReplyTo string
}

// Handler implements queue.JobHandler.
type Handler struct {
	renderer  Renderer
	transport provider.Provider
	defaults  Defaults
	log       zerolog.Logger
}

// NewHandler creates a Handler that renders with r and sends through t.
func NewHandler(r Renderer, t provider.Provider, defaults Defaults, log zerolog.Logger) *Handler {
	return &Handler{
		renderer:  r,
		transport: t,
		defaults:  defaults,
		log:       log,
	}
}

// HandleJob performs one attempt for job: render when the message carries
// only a template, then send. Render and transport errors are returned
// unchanged in kind so the queue can count the attempt.
func (h *Handler) HandleJob(ctx context.Context, job *queue.Job) error {
	msg, err := h.Prepare(job.ID, job.Message)
	if err != nil {
		h.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Int("attempts_made", job.AttemptsMade).
			Str("template", string(job.Message.Template)).
			Msg("failed to prepare message")
		return err
	}
	msg.Headers[HeaderAttempt] = strconv.Itoa(job.AttemptsMade + 1)

	_, err = h.Deliver(ctx, msg)
	return err
}

// Prepare renders m when needed and converts it into a transport message
// identified by id. A message that already has a body is sent as-is.
func (h *Handler) Prepare(id string, m email.Message) (*provider.Message, error) {
	html, text := m.HTML, m.Text

	if m.NeedsRender() {
		rendered, err := h.renderer.Render(m.Template, m.TemplateData)
		if err != nil {
			metrics.TemplateRendersTotal.WithLabelValues(string(m.Template), "error").Inc()
			return nil, fmt.Errorf("render template %s: %w", m.Template, err)
		}
		metrics.TemplateRendersTotal.WithLabelValues(string(m.Template), "ok").Inc()
		html, text = rendered.HTML, rendered.Text
	} else if text == "" && html != "" {
		text = templates.HTMLToText(html)
	}

	from := m.From
	if from == "" {
		from = h.defaults.From
	}
	replyTo := m.ReplyTo
	if replyTo == "" {
		replyTo = h.defaults.ReplyTo
	}

	out := &provider.Message{
		ID:       id,
		From:     from,
		ReplyTo:  replyTo,
		To:       append([]string(nil), m.To...),
		Subject:  m.Subject,
		Headers:  map[string]string{HeaderJobID: id},
		TextBody: text,
		HTMLBody: html,
		Tag:      m.Tag,
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, provider.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	return out, nil
}

// Deliver sends msg through the transport once, recording metrics and a
// log line for the outcome. Errors are returned as the transport produced
// them.
func (h *Handler) Deliver(ctx context.Context, msg *provider.Message) (*provider.DeliveryResult, error) {
	name := h.transport.GetName()

	start := time.Now()
	result, err := h.transport.Send(ctx, msg)
	elapsed := time.Since(start)
	metrics.TransportSendDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		metrics.TransportSendsTotal.WithLabelValues(name, "error").Inc()
		h.log.Error().
			Err(err).
			Str("provider", name).
			Str("job_id", msg.ID).
			Strs("to", msg.To).
			Str("subject", msg.Subject).
			Bool("permanent", provider.IsPermanent(err)).
			Msg("transport send failed")
		return nil, err
	}

	metrics.TransportSendsTotal.WithLabelValues(name, string(result.Status)).Inc()
	h.log.Info().
		Str("provider", name).
		Str("job_id", msg.ID).
		Str("provider_message_id", result.ProviderMessageID).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Int("rejected", len(result.Rejected)).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("email sent")
	return result, nil
}
