package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const mailgunDefaultEndpoint = "https://api.mailgun.net"

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	apiKey   string
	domain   string
	endpoint string
	client   HTTPClient
}

// NewMailgun creates a Mailgun provider from the given configuration.
func NewMailgun(cfg ProviderConfig, client HTTPClient) *Mailgun {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = mailgunDefaultEndpoint
	}
	return &Mailgun{
		apiKey:   cfg.APIKey,
		domain:   cfg.Domain,
		endpoint: endpoint,
		client:   client,
	}
}

func (m *Mailgun) GetName() string { return "mailgun" }

// Send delivers a message via the Mailgun messages API. Messages with
// attachments are posted as multipart/form-data.
func (m *Mailgun) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	form := m.buildForm(msg)

	body := []byte(form.Encode())
	contentType := "application/x-www-form-urlencoded"
	if len(msg.Attachments) > 0 {
		var err error
		body, contentType, err = multipartBody(form, msg.Attachments)
		if err != nil {
			return nil, &TransportError{Provider: m.GetName(), Message: "encode attachments: " + err.Error(), Permanent: true, Err: err}
		}
	}

	resp, err := m.client.Do(ctx, &HTTPRequest{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/v3/%s/messages", m.endpoint, m.domain),
		Headers: map[string]string{
			"Authorization": "Basic " + basicAuth("api", m.apiKey),
			"Content-Type":  contentType,
		},
		Body: body,
	})
	if err != nil {
		return nil, NetworkError(m.GetName(), "send request", err)
	}

	if te := ClassifyHTTPError(m.GetName(), resp.StatusCode, string(resp.Body)); te != nil {
		return nil, te
	}

	var mgResp mailgunResponse
	_ = json.Unmarshal(resp.Body, &mgResp)
	return sentResult(mgResp.ID, msg.To, map[string]string{
		"message":     mgResp.Message,
		"status_code": strconv.Itoa(resp.StatusCode),
	}), nil
}

// HealthCheck verifies Mailgun API connectivity by requesting domain info.
func (m *Mailgun) HealthCheck(ctx context.Context) error {
	resp, err := m.client.Do(ctx, &HTTPRequest{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/v3/domains/%s", m.endpoint, m.domain),
		Headers: map[string]string{
			"Authorization": "Basic " + basicAuth("api", m.apiKey),
		},
	})
	if err != nil {
		return fmt.Errorf("mailgun: health check request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailgun: health check returned status %d", resp.StatusCode)
	}
	return nil
}

type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (m *Mailgun) buildForm(msg *Message) url.Values {
	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", strings.Join(msg.To, ","))
	form.Set("subject", msg.Subject)
	if msg.TextBody != "" {
		form.Set("text", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		form.Set("html", msg.HTMLBody)
	}
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", msg.ReplyTo)
	}
	if msg.Tag != "" {
		form.Set("o:tag", msg.Tag)
	}
	for key, value := range msg.Headers {
		form.Set("h:"+key, value)
	}
	return form
}

func multipartBody(form url.Values, atts []Attachment) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, values := range form {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", err
			}
		}
	}
	for _, att := range atts {
		field := "attachment"
		if att.IsInline {
			field = "inline"
		}
		part, err := w.CreateFormFile(field, att.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(att.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// basicAuth encodes credentials as base64 for HTTP Basic Authentication.
func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
