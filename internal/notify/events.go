package notify

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/templates"
)

// ErrMissingField is returned by the domain-event helpers when a required
// field is empty.
var ErrMissingField = errors.New("notify: required field missing")

const dateLayout = "02/01/2006"

// User is the recipient of a domain-event e-mail.
type User struct {
	Name  string
	Email string
	Role  string
}

// Order is the work order referenced by order e-mails.
type Order struct {
	ID          string
	Number      string
	ClientName  string
	Description string
	Priority    string
	Technician  string
	StartDate   time.Time
	EndDate     time.Time
}

// SendWelcome queues the welcome e-mail for a new account.
func (s *Service) SendWelcome(ctx context.Context, u User) error {
	if u.Name == "" || u.Email == "" {
		return missing("user name and email")
	}
	return s.EnqueueEmail(ctx, email.Message{
		To:       []string{u.Email},
		Subject:  "Bienvenido a CERMONT ATG",
		Template: templates.Welcome,
		Tag:      "welcome",
		TemplateData: map[string]any{
			"nombre":   u.Name,
			"email":    u.Email,
			"rol":      orDefault(u.Role, "Usuario"),
			"loginUrl": s.link("/login"),
		},
	})
}

// SendPasswordReset queues a reset link carrying token.
func (s *Service) SendPasswordReset(ctx context.Context, to, token string) error {
	if to == "" || token == "" {
		return missing("email and token")
	}
	return s.EnqueueEmail(ctx, email.Message{
		To:       []string{to},
		Subject:  "Restablecimiento de contraseña - CERMONT ATG",
		Template: templates.PasswordReset,
		Tag:      "password-reset",
		TemplateData: map[string]any{
			"resetUrl":  s.link("/reset-password?token=" + url.QueryEscape(token)),
			"expiresIn": "1 hora",
		},
	})
}

// NotifyOrderAssigned queues the assignment e-mail for the technician.
func (s *Service) NotifyOrderAssigned(ctx context.Context, tech User, o Order) error {
	if tech.Email == "" || o.Number == "" || o.ClientName == "" {
		return missing("technician email, order number and client")
	}
	return s.EnqueueEmail(ctx, email.Message{
		To:       []string{tech.Email},
		Subject:  "Nueva orden asignada: " + o.Number,
		Template: templates.OrderAssigned,
		Tag:      "order-assigned",
		TemplateData: map[string]any{
			"nombre":        tech.Name,
			"numeroOrden":   o.Number,
			"clienteNombre": o.ClientName,
			"descripcion":   orDefault(o.Description, "N/A"),
			"fechaInicio":   formatDate(o.StartDate),
			"prioridad":     orDefault(o.Priority, "Normal"),
			"orderUrl":      s.orderLink(o),
		},
	})
}

// NotifyOrderCompleted queues one completion e-mail per recipient, in
// order.
func (s *Service) NotifyOrderCompleted(ctx context.Context, recipients []User, o Order) error {
	if len(recipients) == 0 || o.Number == "" {
		return missing("recipients and order number")
	}

	msgs := make([]email.Message, 0, len(recipients))
	for _, u := range recipients {
		if u.Email == "" {
			return missing("recipient email")
		}
		msgs = append(msgs, email.Message{
			To:       []string{u.Email},
			Subject:  "Orden completada: " + o.Number,
			Template: templates.OrderCompleted,
			Tag:      "order-completed",
			TemplateData: map[string]any{
				"nombre":        u.Name,
				"numeroOrden":   o.Number,
				"clienteNombre": o.ClientName,
				"tecnico":       orDefault(o.Technician, "N/A"),
				"fechaFin":      formatDate(o.EndDate),
				"orderUrl":      s.orderLink(o),
			},
		})
	}
	return s.EnqueueEmailBatch(ctx, msgs)
}

func (s *Service) link(path string) string {
	return strings.TrimRight(s.opts.FrontendURL, "/") + path
}

func (s *Service) orderLink(o Order) string {
	if o.ID == "" {
		return ""
	}
	return s.link("/orders/" + url.PathEscape(o.ID))
}

func missing(what string) error {
	return errors.Join(ErrMissingField, errors.New(what))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(dateLayout)
}
