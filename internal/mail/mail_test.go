package mail

import (
	"strings"
	"testing"
)

func TestRenderTemplates(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{name: "confirmation", data: map[string]interface{}{"ConfirmURL": "https://example.com/confirm?token=abc"}, want: "Confirm email"},
		{name: "deadline_reminder", data: map[string]interface{}{"TaskTitle": "Book venue", "EventTitle": "Offsite", "DueAt": "tomorrow"}, want: "Book venue"},
		{name: "poll_closed", data: map[string]interface{}{"Question": "Where?", "EventTitle": "Offsite"}, want: "Voting has ended"},
		{name: "daily_digest", data: map[string]interface{}{"OpenTasks": 3, "EventCount": 2}, want: "3 open tasks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := Render(tt.name, tt.data)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("rendered body missing %q", tt.want)
			}
			if !strings.Contains(body, "</html>") {
				t.Error("rendered body missing the layout")
			}
		})
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	body, err := Render("deadline_reminder", map[string]interface{}{
		"TaskTitle":  "<script>alert(1)</script>",
		"EventTitle": "Offsite",
		"DueAt":      "tomorrow",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Error("user content must be escaped")
	}
}

func TestNewRequiresHostAndPort(t *testing.T) {
	if _, err := New(Config{Host: "smtp.example.com"}); err == nil {
		t.Error("expected an error without a port")
	}
	if _, err := New(Config{Port: "587"}); err == nil {
		t.Error("expected an error without a host")
	}
	if _, err := New(Config{Host: "smtp.example.com", Port: "587"}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
