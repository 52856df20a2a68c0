package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cermont/notifier/internal/mimemsg"
	"github.com/cermont/notifier/internal/msgstore"
)

// memStore is an in-memory MessageStore.
type memStore struct {
	objects map[string][]byte
	putErr  error
	listErr error
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, name string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	if err := msgstore.ValidateName(name); err != nil {
		return err
	}
	m.objects[name] = data
	return nil
}

func (m *memStore) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, msgstore.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	delete(m.objects, name)
	return nil
}

func (m *memStore) List(_ context.Context, _ int) ([]msgstore.Entry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []msgstore.Entry
	for name, data := range m.objects {
		out = append(out, msgstore.Entry{Name: name, Size: int64(len(data))})
	}
	return out, nil
}

func TestFile_Send(t *testing.T) {
	store := newMemStore()
	p := NewFile(store, nil)
	p.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	msg := &Message{
		ID:       "job-456",
		From:     "CERMONT <noreply@cermont.com>",
		To:       []string{"tecnico@cermont.com"},
		Subject:  "Nueva orden asignada: OT-7",
		Headers:  map[string]string{"X-Notifier-Job": "job-456"},
		TextBody: "Orden OT-7",
		HTMLBody: "<p>Orden <b>OT-7</b></p>",
		Attachments: []Attachment{
			{Filename: "orden.pdf", ContentType: "application/pdf", Content: []byte("%PDF")},
		},
	}

	result, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.ProviderMessageID != "file-job-456" {
		t.Errorf("ProviderMessageID = %s, want file-job-456", result.ProviderMessageID)
	}

	const wantName = "20240506T070809.000-job-456.eml"
	if result.Metadata["name"] != wantName {
		t.Errorf("name = %q, want %q", result.Metadata["name"], wantName)
	}
	raw, ok := store.objects[wantName]
	if !ok {
		t.Fatalf("message not stored; have %v", store.objects)
	}

	parsed, err := mimemsg.Parse(raw)
	if err != nil {
		t.Fatalf("stored message does not parse: %v", err)
	}
	if parsed.Subject != msg.Subject {
		t.Errorf("Subject = %q", parsed.Subject)
	}
	if parsed.MessageID != "job-456@cermont.com" {
		t.Errorf("MessageID = %q", parsed.MessageID)
	}
	if parsed.TextBody != msg.TextBody || parsed.HTMLBody != msg.HTMLBody {
		t.Errorf("bodies = %q / %q", parsed.TextBody, parsed.HTMLBody)
	}
	if len(parsed.Attachments) != 1 || parsed.Attachments[0].Filename != "orden.pdf" {
		t.Errorf("attachments = %+v", parsed.Attachments)
	}
	if parsed.DKIMSigned {
		t.Error("message signed without a signer")
	}
}

func TestFile_Send_Signed(t *testing.T) {
	store := newMemStore()
	p := NewFile(store, testSigner(t))

	result, err := p.Send(context.Background(), welcomeMessage("ana@cermont.com"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	parsed, err := mimemsg.Parse(store.objects[result.Metadata["name"]])
	if err != nil {
		t.Fatalf("stored message does not parse: %v", err)
	}
	if !parsed.DKIMSigned {
		t.Error("stored message has no DKIM-Signature")
	}
}

func TestFile_Send_UnsafeID(t *testing.T) {
	store := newMemStore()
	p := NewFile(store, nil)

	result, err := p.Send(context.Background(), &Message{
		ID:       "../../etc/passwd",
		From:     "noreply@cermont.com",
		To:       []string{"a@cermont.com"},
		TextBody: "x",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	name := result.Metadata["name"]
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		t.Errorf("unsafe name %q", name)
	}
}

func TestFile_Send_Errors(t *testing.T) {
	t.Run("compose failure is permanent", func(t *testing.T) {
		p := NewFile(newMemStore(), nil)
		_, err := p.Send(context.Background(), &Message{ID: "1", From: "noreply@cermont.com", TextBody: "x"})
		if !IsPermanent(err) {
			t.Errorf("Send() error = %v, want permanent TransportError", err)
		}
	})

	t.Run("store failure is transient", func(t *testing.T) {
		store := newMemStore()
		store.putErr = errors.New("disk full")
		p := NewFile(store, nil)
		_, err := p.Send(context.Background(), &Message{ID: "1", From: "noreply@cermont.com", To: []string{"a@b.com"}, TextBody: "x"})
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("Send() error = %v, want *TransportError", err)
		}
		if te.Permanent {
			t.Error("store failure should not be permanent")
		}
	})
}

func TestFile_HealthCheck(t *testing.T) {
	store := newMemStore()
	p := NewFile(store, nil)
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	store.listErr = errors.New("bucket missing")
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil, want error")
	}
}
