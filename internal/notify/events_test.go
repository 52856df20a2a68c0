package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cermont/notifier/internal/templates"
)

func TestSendWelcome(t *testing.T) {
	svc, q := newRecordingService(t)

	require.NoError(t, svc.SendWelcome(context.Background(), User{Name: "Ana", Email: "ana@cermont.com"}))
	require.Len(t, q.jobs, 1)

	msg := q.jobs[0].Message
	assert.Equal(t, []string{"ana@cermont.com"}, msg.To)
	assert.Equal(t, "Bienvenido a CERMONT ATG", msg.Subject)
	assert.Equal(t, templates.Welcome, msg.Template)
	assert.Equal(t, "Usuario", msg.TemplateData["rol"])
	assert.Equal(t, "https://app.cermont.com/login", msg.TemplateData["loginUrl"])
}

func TestSendWelcome_MissingFields(t *testing.T) {
	svc, q := newRecordingService(t)

	err := svc.SendWelcome(context.Background(), User{Name: "Ana"})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Empty(t, q.jobs)
}

func TestSendPasswordReset_EscapesToken(t *testing.T) {
	svc, q := newRecordingService(t)

	require.NoError(t, svc.SendPasswordReset(context.Background(), "ana@cermont.com", "a+b/c=="))
	msg := q.jobs[0].Message
	assert.Equal(t, templates.PasswordReset, msg.Template)
	assert.Equal(t, "https://app.cermont.com/reset-password?token=a%2Bb%2Fc%3D%3D", msg.TemplateData["resetUrl"])
}

func TestNotifyOrderAssigned_Defaults(t *testing.T) {
	svc, q := newRecordingService(t)

	err := svc.NotifyOrderAssigned(context.Background(),
		User{Name: "Luis", Email: "luis@cermont.com"},
		Order{ID: "42", Number: "OT-0042", ClientName: "Ecopetrol"})
	require.NoError(t, err)

	msg := q.jobs[0].Message
	assert.Equal(t, "Nueva orden asignada: OT-0042", msg.Subject)
	assert.Equal(t, "N/A", msg.TemplateData["descripcion"])
	assert.Equal(t, "N/A", msg.TemplateData["fechaInicio"])
	assert.Equal(t, "Normal", msg.TemplateData["prioridad"])
	assert.Equal(t, "https://app.cermont.com/orders/42", msg.TemplateData["orderUrl"])
}

func TestNotifyOrderAssigned_FormatsStartDate(t *testing.T) {
	svc, q := newRecordingService(t)

	err := svc.NotifyOrderAssigned(context.Background(),
		User{Email: "luis@cermont.com"},
		Order{Number: "OT-1", ClientName: "X", Priority: "Alta", StartDate: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	data := q.jobs[0].Message.TemplateData
	assert.Equal(t, "09/03/2026", data["fechaInicio"])
	assert.Equal(t, "Alta", data["prioridad"])
	assert.Equal(t, "", data["orderUrl"])
}

func TestNotifyOrderCompleted_OneJobPerRecipient(t *testing.T) {
	svc, q := newRecordingService(t)

	err := svc.NotifyOrderCompleted(context.Background(),
		[]User{{Name: "A", Email: "a@cermont.com"}, {Name: "B", Email: "b@cermont.com"}},
		Order{ID: "7", Number: "OT-7", Technician: "Luis"})
	require.NoError(t, err)
	require.Len(t, q.jobs, 2)
	assert.Equal(t, []string{"a@cermont.com"}, q.jobs[0].Message.To)
	assert.Equal(t, []string{"b@cermont.com"}, q.jobs[1].Message.To)
	assert.Equal(t, "Luis", q.jobs[1].Message.TemplateData["tecnico"])
	assert.Equal(t, templates.OrderCompleted, q.jobs[0].Message.Template)
}

func TestNotifyOrderCompleted_RejectsEmptyRecipient(t *testing.T) {
	svc, q := newRecordingService(t)

	err := svc.NotifyOrderCompleted(context.Background(), []User{{Email: "a@cermont.com"}, {}}, Order{Number: "OT-7"})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Empty(t, q.jobs)
}
