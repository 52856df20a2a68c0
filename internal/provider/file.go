package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cermont/notifier/internal/dkim"
	"github.com/cermont/notifier/internal/mimemsg"
	"github.com/cermont/notifier/internal/msgstore"
)

// File composes each message as an .eml object and puts it into a message
// store instead of delivering it. The store may be a local outbox
// directory or an S3 prefix.
type File struct {
	store  msgstore.MessageStore
	signer *dkim.Signer
	now    func() time.Time
}

// NewFile creates a File transport writing into store. A non-nil signer
// adds a DKIM-Signature so stored messages match what SMTP would send.
func NewFile(store msgstore.MessageStore, signer *dkim.Signer) *File {
	return &File{store: store, signer: signer, now: time.Now}
}

func (f *File) GetName() string { return "file" }

// Send stores the message as <timestamp>-<id>.eml.
func (f *File) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}

	raw, err := mimemsg.Compose(toMIME(msg, messageIDFor(id, msg.From), msg.Headers))
	if err != nil {
		return nil, &TransportError{Provider: f.GetName(), Message: "compose: " + err.Error(), Permanent: true, Err: err}
	}
	if raw, err = f.signer.Sign(raw, msg.From); err != nil {
		return nil, &TransportError{Provider: f.GetName(), Message: "dkim: " + err.Error(), Permanent: true, Err: err}
	}

	name := fmt.Sprintf("%s-%s.eml", f.now().UTC().Format("20060102T150405.000"), safeName(id))
	if err := f.store.Put(ctx, name, raw); err != nil {
		return nil, NetworkError(f.GetName(), "store", err)
	}

	return sentResult("file-"+id, msg.To, map[string]string{"name": name}), nil
}

// HealthCheck lists the store, which fails when it is unreachable.
func (f *File) HealthCheck(ctx context.Context) error {
	if _, err := f.store.List(ctx, 1); err != nil {
		return fmt.Errorf("file: store not reachable: %w", err)
	}
	return nil
}

// safeName keeps letters, digits, '-' and '_' so the id is a valid store name.
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
