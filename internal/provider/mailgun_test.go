package provider

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestMailgun_buildForm(t *testing.T) {
	mg := &Mailgun{}
	form := mg.buildForm(&Message{
		From:     "noreply@cermont.com",
		ReplyTo:  "soporte@cermont.com",
		To:       []string{"a@cermont.com", "b@cermont.com"},
		Subject:  "Restablecer contraseña",
		Tag:      "password-reset",
		TextBody: "texto",
		HTMLBody: "<p>html</p>",
		Headers:  map[string]string{"X-Notifier-Job": "job-1"},
	})

	want := map[string]string{
		"from":             "noreply@cermont.com",
		"to":               "a@cermont.com,b@cermont.com",
		"subject":          "Restablecer contraseña",
		"text":             "texto",
		"html":             "<p>html</p>",
		"h:Reply-To":       "soporte@cermont.com",
		"o:tag":            "password-reset",
		"h:X-Notifier-Job": "job-1",
	}
	for key, value := range want {
		if got := form.Get(key); got != value {
			t.Errorf("form[%s] = %q, want %q", key, got, value)
		}
	}
}

func TestMailgun_buildForm_OmitsEmptyBodies(t *testing.T) {
	form := (&Mailgun{}).buildForm(&Message{From: "a@b.com", To: []string{"c@d.com"}, HTMLBody: "<p>x</p>"})
	if _, ok := form["text"]; ok {
		t.Error("text should be omitted when empty")
	}
	if _, ok := form["h:Reply-To"]; ok {
		t.Error("h:Reply-To should be omitted when empty")
	}
}

func TestMailgun_Send(t *testing.T) {
	tests := []struct {
		name            string
		attachments     []Attachment
		wantContentType string
	}{
		{"url encoded without attachments", nil, "application/x-www-form-urlencoded"},
		{"multipart with attachments", []Attachment{{Filename: "a.txt", Content: []byte("data")}}, "multipart/form-data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeHTTPClient{resp: &HTTPResponse{
				StatusCode: 200,
				Body:       []byte(`{"id":"<msg@mg>","message":"Queued. Thank you."}`),
			}}
			mg := NewMailgun(ProviderConfig{APIKey: "key-test", Domain: "mg.cermont.com"}, client)

			result, err := mg.Send(context.Background(), &Message{
				From: "noreply@cermont.com", To: []string{"a@cermont.com"}, Subject: "x", TextBody: "hola",
				Attachments: tt.attachments,
			})
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if result.ProviderMessageID != "<msg@mg>" {
				t.Errorf("ProviderMessageID = %q", result.ProviderMessageID)
			}

			req := client.last()
			if !strings.HasPrefix(req.Headers["Content-Type"], tt.wantContentType) {
				t.Errorf("Content-Type = %s, want prefix %s", req.Headers["Content-Type"], tt.wantContentType)
			}
			if req.URL != "https://api.mailgun.net/v3/mg.cermont.com/messages" {
				t.Errorf("URL = %s", req.URL)
			}
			if tt.attachments == nil {
				form, err := url.ParseQuery(string(req.Body))
				if err != nil {
					t.Fatalf("parse body: %v", err)
				}
				if form.Get("text") != "hola" {
					t.Errorf("text = %q", form.Get("text"))
				}
			} else if !strings.Contains(string(req.Body), `filename="a.txt"`) {
				t.Error("multipart body missing attachment")
			}
		})
	}
}

func TestMailgun_Send_BadRequest(t *testing.T) {
	client := &fakeHTTPClient{resp: &HTTPResponse{StatusCode: 400, Body: []byte(`{"message":"invalid recipient"}`)}}
	mg := NewMailgun(ProviderConfig{APIKey: "k", Domain: "d"}, client)

	_, err := mg.Send(context.Background(), &Message{From: "a@b.com", To: []string{"c@d.com"}, TextBody: "x"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Send() error = %v, want *TransportError", err)
	}
	if !te.Permanent || te.StatusCode != 400 {
		t.Errorf("TransportError = %+v", te)
	}
}
