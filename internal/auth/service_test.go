package auth

import (
	"strings"
	"testing"

	"github.com/planhub/backend/internal/mail"
)

// renderingMailer records the outgoing message and renders it through the
// real mail templates so an unknown template name fails the test.
type renderingMailer struct {
	template string
	body     string
	err      error
}

func (m *renderingMailer) Send(to []string, subject, templateName string, data map[string]interface{}) error {
	m.template = templateName
	m.body, m.err = mail.Render(templateName, data)
	return m.err
}

func TestSendConfirmation_RendersMailTemplate(t *testing.T) {
	rec := &renderingMailer{}
	svc := NewService(nil, nil, rec, "test-secret", "http://localhost:8080")

	svc.sendConfirmation(&User{ID: 5, Email: "user@example.com"})

	if rec.err != nil {
		t.Fatalf("confirmation mail failed to render: %v", rec.err)
	}
	if rec.template != "confirmation" {
		t.Errorf("expected the confirmation template, got %q", rec.template)
	}
	if !strings.Contains(rec.body, "http://localhost:8080/api/auth/confirm?token=") {
		t.Error("rendered body missing the confirmation link")
	}
}
