package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/msgstore"
	"github.com/cermont/notifier/internal/provider"
	"github.com/cermont/notifier/internal/queue"
	"github.com/cermont/notifier/internal/templates"
)

const testSecret = "api-test-secret-key-of-32-bytes!!"

type fakeNotifier struct {
	sendErr    error
	enqueueErr error
	readyErr   error
	mode       queue.Mode
	dlq        queue.DeadLetterQueue
	outbox     msgstore.MessageStore

	sent     []email.Message
	enqueued []email.Message
}

func (f *fakeNotifier) SendEmail(_ context.Context, msg email.Message) (*provider.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, msg)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &provider.DeliveryResult{
		ProviderMessageID: "pm-1",
		Accepted:          msg.To,
		Status:            provider.StatusSent,
		Timestamp:         time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeNotifier) Enqueue(_ context.Context, msg email.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.enqueued = append(f.enqueued, msg)
	return "job-" + msg.Subject, nil
}

func (f *fakeNotifier) EnqueueBatch(ctx context.Context, msgs []email.Message) ([]string, error) {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	var ids []string
	for _, m := range msgs {
		id, err := f.Enqueue(ctx, m)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeNotifier) RenderTemplate(key templates.Key, data map[string]any) (templates.Rendered, error) {
	if !key.Valid() {
		return templates.Rendered{}, templates.ErrTemplateNotFound
	}
	name, _ := data["nombre"].(string)
	return templates.Rendered{HTML: "<p>Hola " + name + "</p>", Text: "Hola " + name}, nil
}

func (f *fakeNotifier) Mode() queue.Mode {
	if f.mode == "" {
		return queue.ModeDurable
	}
	return f.mode
}

func (f *fakeNotifier) Broker() string {
	if f.Mode() == queue.ModeDegraded {
		return "inline"
	}
	return "redis"
}

func (f *fakeNotifier) DeadLetters() queue.DeadLetterQueue { return f.dlq }

func (f *fakeNotifier) Outbox() msgstore.MessageStore { return f.outbox }

func (f *fakeNotifier) TransportStatuses() map[string]provider.HealthStatus {
	return map[string]provider.HealthStatus{"smtp": {Healthy: f.readyErr == nil}}
}

func (f *fakeNotifier) Ready(context.Context) error { return f.readyErr }

// fakeDLQ is a browsable dead-letter channel.
type fakeDLQ struct {
	letters      []queue.DeadLetter
	reprocessed  []string
	reprocessErr error
}

func (d *fakeDLQ) MoveToDLQ(context.Context, *queue.Job, string) error { return nil }

func (d *fakeDLQ) Reprocess(_ context.Context, ids []string) (int, error) {
	if d.reprocessErr != nil {
		return 0, d.reprocessErr
	}
	d.reprocessed = append(d.reprocessed, ids...)
	return len(ids), nil
}

func (d *fakeDLQ) List(_ context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit > 0 && limit < len(d.letters) {
		return d.letters[:limit], nil
	}
	return d.letters, nil
}

// opaqueDLQ cannot be listed, like the SQS channel.
type opaqueDLQ struct{}

func (opaqueDLQ) MoveToDLQ(context.Context, *queue.Job, string) error { return nil }

func (opaqueDLQ) Reprocess(context.Context, []string) (int, error) {
	return 0, errors.New("unused")
}

func newTestRouter(n Notifier) http.Handler {
	return NewRouter(Deps{
		Notifier: n,
		JWT:      auth.NewJWTService(auth.JWTConfig{SigningKey: testSecret, Issuer: "cermont"}),
		Log:      zerolog.Nop(),
	})
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.NewJWTService(auth.JWTConfig{SigningKey: testSecret, Issuer: "cermont"}).
		GenerateToken("tester", "cermont", role)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, h http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", bearer(t, role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
