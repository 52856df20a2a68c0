package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mrz1836/postmark"
)

// Postmark API error codes that will not succeed on retry.
var postmarkPermanentCodes = map[int64]bool{
	10:  true, // bad or missing server token
	300: true, // invalid email request
	400: true, // sender signature not found
	406: true, // inactive recipient
	412: true, // account pending approval
}

// Postmark sends through the Postmark transactional API.
type Postmark struct {
	client *postmark.Client
}

// NewPostmark creates a Postmark transport. When httpClient exposes its
// *http.Client, the SDK shares it so timeouts stay uniform.
func NewPostmark(cfg ProviderConfig, httpClient HTTPClient) *Postmark {
	client := postmark.NewClient(cfg.APIKey, cfg.AccountToken)
	if cfg.Endpoint != "" {
		client.BaseURL = cfg.Endpoint
	}
	if hc, ok := httpClient.(interface{ HTTPClient() *http.Client }); ok {
		client.HTTPClient = hc.HTTPClient()
	}
	return &Postmark{client: client}
}

func (p *Postmark) GetName() string { return "postmark" }

// Send delivers msg with one SendEmail call.
func (p *Postmark) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	resp, err := p.client.SendEmail(ctx, p.buildEmail(msg))
	if resp.ErrorCode != 0 {
		return nil, &TransportError{
			Provider:   p.GetName(),
			StatusCode: int(resp.ErrorCode),
			Message:    resp.Message,
			Permanent:  postmarkPermanentCodes[resp.ErrorCode],
			Err:        err,
		}
	}
	if err != nil {
		return nil, NetworkError(p.GetName(), "send email", err)
	}

	return sentResult(resp.MessageID, msg.To, map[string]string{
		"error_code": strconv.FormatInt(resp.ErrorCode, 10),
		"message":    resp.Message,
	}), nil
}

// HealthCheck fetches the server bound to the token.
func (p *Postmark) HealthCheck(ctx context.Context) error {
	if _, err := p.client.GetCurrentServer(ctx); err != nil {
		return fmt.Errorf("postmark: health check: %w", err)
	}
	return nil
}

func (p *Postmark) buildEmail(msg *Message) postmark.Email {
	email := postmark.Email{
		From:       msg.From,
		To:         strings.Join(msg.To, ", "),
		ReplyTo:    msg.ReplyTo,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: msg.HTMLBody != "",
	}
	for name, value := range msg.Headers {
		email.Headers = append(email.Headers, postmark.Header{Name: name, Value: value})
	}
	for _, att := range msg.Attachments {
		email.Attachments = append(email.Attachments, postmark.Attachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		})
	}
	return email
}
