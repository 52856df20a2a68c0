package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
)

const (
	sendgridDefaultEndpoint = "https://api.sendgrid.com"
	sendgridSendPath        = "/v3/mail/send"
	sendgridScopesPath      = "/v3/scopes"
)

// SendGrid sends through the SendGrid v3 Mail Send API.
type SendGrid struct {
	apiKey   string
	endpoint string
	client   HTTPClient
}

// NewSendGrid creates a SendGrid provider from the given configuration.
func NewSendGrid(cfg ProviderConfig, client HTTPClient) *SendGrid {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = sendgridDefaultEndpoint
	}
	return &SendGrid{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		client:   client,
	}
}

func (s *SendGrid) GetName() string { return "sendgrid" }

// Send delivers a message via the SendGrid v3 Mail Send API.
func (s *SendGrid) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	body, err := json.Marshal(s.buildPayload(msg))
	if err != nil {
		return nil, &TransportError{Provider: s.GetName(), Message: "marshal request: " + err.Error(), Permanent: true, Err: err}
	}

	resp, err := s.client.Do(ctx, &HTTPRequest{
		Method: http.MethodPost,
		URL:    s.endpoint + sendgridSendPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, NetworkError(s.GetName(), "send request", err)
	}

	if te := ClassifyHTTPError(s.GetName(), resp.StatusCode, string(resp.Body)); te != nil {
		return nil, te
	}
	return sentResult(resp.Headers["X-Message-Id"], msg.To, map[string]string{
		"status_code": strconv.Itoa(resp.StatusCode),
	}), nil
}

// HealthCheck verifies SendGrid API connectivity by calling the scopes endpoint.
func (s *SendGrid) HealthCheck(ctx context.Context) error {
	resp, err := s.client.Do(ctx, &HTTPRequest{
		Method: http.MethodGet,
		URL:    s.endpoint + sendgridScopesPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.apiKey,
		},
	})
	if err != nil {
		return fmt.Errorf("sendgrid: health check request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendgrid: health check returned status %d", resp.StatusCode)
	}
	return nil
}

// sendgridPayload matches the SendGrid v3 mail/send JSON schema.
type sendgridPayload struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridEmail             `json:"from"`
	ReplyTo          *sendgridEmail            `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
	Headers          map[string]string         `json:"headers,omitempty"`
	Categories       []string                  `json:"categories,omitempty"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
	Attachments      []sendgridAttachment      `json:"attachments,omitempty"`
}

type sendgridPersonalization struct {
	To []sendgridEmail `json:"to"`
}

type sendgridEmail struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// sendgridAddress splits "Name <addr>" because SendGrid rejects display
// names inside the email field. Unparsable input is passed through and
// left for the API to reject.
func sendgridAddress(raw string) sendgridEmail {
	a, err := mail.ParseAddress(raw)
	if err != nil {
		return sendgridEmail{Email: raw}
	}
	return sendgridEmail{Email: a.Address, Name: a.Name}
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridAttachment struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition"`
	ContentID   string `json:"content_id,omitempty"`
}

func (s *SendGrid) buildPayload(msg *Message) sendgridPayload {
	tos := make([]sendgridEmail, len(msg.To))
	for i, addr := range msg.To {
		tos[i] = sendgridAddress(addr)
	}

	// SendGrid requires text/plain before text/html.
	var content []sendgridContent
	if msg.TextBody != "" {
		content = append(content, sendgridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		content = append(content, sendgridContent{Type: "text/html", Value: msg.HTMLBody})
	}

	payload := sendgridPayload{
		Personalizations: []sendgridPersonalization{{To: tos}},
		From:             sendgridAddress(msg.From),
		Subject:          msg.Subject,
		Content:          content,
		Headers:          msg.Headers,
	}
	if msg.ReplyTo != "" {
		rt := sendgridAddress(msg.ReplyTo)
		payload.ReplyTo = &rt
	}
	// custom_args come back on event webhooks, tying events to the job.
	if msg.ID != "" {
		payload.CustomArgs = map[string]string{"job_id": msg.ID}
	}
	if msg.Tag != "" {
		payload.Categories = []string{msg.Tag}
	}

	for _, att := range msg.Attachments {
		disposition := "attachment"
		if att.IsInline {
			disposition = "inline"
		}
		payload.Attachments = append(payload.Attachments, sendgridAttachment{
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			Type:        att.ContentType,
			Filename:    att.Filename,
			Disposition: disposition,
			ContentID:   att.ContentID,
		})
	}

	return payload
}
