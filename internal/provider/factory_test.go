package provider

import (
	"errors"
	"strings"
	"testing"

	"github.com/cermont/notifier/internal/msgstore"
)

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry()
	if len(r.List()) != 0 || len(r.All()) != 0 {
		t.Fatal("new registry should be empty")
	}

	r.Register(&fakeProvider{name: "smtp"})
	r.Register(&fakeProvider{name: "file"})

	p, err := r.Get("smtp")
	if err != nil {
		t.Fatalf("Get(smtp) error = %v", err)
	}
	if p.GetName() != "smtp" {
		t.Errorf("Get(smtp).GetName() = %q", p.GetName())
	}

	if got := strings.Join(r.List(), ","); got != "file,smtp" {
		t.Errorf("List() = %s, want file,smtp", got)
	}
	if len(r.All()) != 2 {
		t.Errorf("All() len = %d, want 2", len(r.All()))
	}

	if _, err := r.Get("sendgrid"); err == nil {
		t.Error("Get(unknown) error = nil, want error")
	}
}

func TestRegistry_RegisterOverwrite(t *testing.T) {
	r := NewRegistry()
	first := &fakeProvider{name: "smtp"}
	second := &fakeProvider{name: "smtp"}
	r.Register(first)
	r.Register(second)

	p, _ := r.Get("smtp")
	if p != second {
		t.Error("expected the second registration to win")
	}
	if len(r.List()) != 1 {
		t.Errorf("List() len = %d, want 1", len(r.List()))
	}
}

func TestNewProvider(t *testing.T) {
	store, err := msgstore.NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}
	deps := Deps{HTTP: &fakeHTTPClient{}, Store: store}

	tests := []struct {
		cfg      ProviderConfig
		wantType string
	}{
		{ProviderConfig{Type: "smtp", Host: "smtp.gmail.com"}, "*provider.SMTP"},
		{ProviderConfig{Type: "sendgrid", APIKey: "k"}, "*provider.SendGrid"},
		{ProviderConfig{Type: "mailgun", APIKey: "k", Domain: "d"}, "*provider.Mailgun"},
		{ProviderConfig{Type: "postmark", APIKey: "k"}, "*provider.Postmark"},
		{ProviderConfig{Type: "stdout"}, "*provider.Stdout"},
		{ProviderConfig{Type: "file"}, "*provider.File"},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			p, err := NewProvider(tt.cfg, deps)
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if got := typeName(p); got != tt.wantType {
				t.Errorf("NewProvider() type = %s, want %s", got, tt.wantType)
			}
			if p.GetName() != tt.cfg.Type {
				t.Errorf("GetName() = %q, want %q", p.GetName(), tt.cfg.Type)
			}
		})
	}
}

func TestNewProvider_Errors(t *testing.T) {
	if _, err := NewProvider(ProviderConfig{Type: "sendgrid"}, Deps{}); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := NewProvider(ProviderConfig{Type: "ses"}, Deps{}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := NewProvider(ProviderConfig{Type: "file"}, Deps{}); !errors.Is(err, ErrMissingStore) {
		t.Errorf("file without store error = %v, want ErrMissingStore", err)
	}
}

func typeName(p Provider) string {
	switch p.(type) {
	case *SMTP:
		return "*provider.SMTP"
	case *SendGrid:
		return "*provider.SendGrid"
	case *Mailgun:
		return "*provider.Mailgun"
	case *Postmark:
		return "*provider.Postmark"
	case *Stdout:
		return "*provider.Stdout"
	case *File:
		return "*provider.File"
	default:
		return "unknown"
	}
}
