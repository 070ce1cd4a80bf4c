// Package mail sends templated HTML email over SMTP.
package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
)

// Config holds the SMTP settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Pass     string
	From     string
	FromName string
}

// Sender delivers templated messages to a list of addresses.
type Sender interface {
	Send(to []string, subject, templateName string, data map[string]interface{}) error
}

// SMTPSender renders one of the named templates and delivers it via
// net/smtp.
type SMTPSender struct {
	config Config
}

// New returns an SMTPSender, or an error when the host or port is missing.
func New(config Config) (*SMTPSender, error) {
	if config.Host == "" || config.Port == "" {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	return &SMTPSender{config: config}, nil
}

func (s *SMTPSender) Send(to []string, subject, templateName string, data map[string]interface{}) error {
	body, err := Render(templateName, data)
	if err != nil {
		return fmt.Errorf("render template %s: %w", templateName, err)
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var auth smtp.Auth
	if s.config.User != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Pass, s.config.Host)
	}
	addr := s.config.Host + ":" + s.config.Port

	for _, rcpt := range to {
		msg := "From: " + from + "\r\n" +
			"To: " + rcpt + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
			"\r\n" + body
		if err := smtp.SendMail(addr, auth, s.config.From, []string{rcpt}, []byte(msg)); err != nil {
			return fmt.Errorf("send to %s: %w", rcpt, err)
		}
	}
	return nil
}

// LogSender logs instead of sending; used when SMTP is not configured so
// dev environments still show what would go out.
type LogSender struct{}

func (LogSender) Send(to []string, subject, templateName string, data map[string]interface{}) error {
	log.Printf("mail: (dry run) %q to %v via template %s", subject, to, templateName)
	return nil
}

var templates = template.Must(template.New("mail").Parse(`
{{define "layout_top"}}<!DOCTYPE html>
<html>
<head><style>
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
.card { background: #fff; border-radius: 8px; padding: 24px; max-width: 600px; margin: 0 auto; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
.title { font-size: 18px; font-weight: 600; margin-bottom: 8px; }
.body { color: #555; line-height: 1.6; }
a.button { display: inline-block; margin-top: 16px; padding: 10px 18px; background: #3b82f6; color: #fff; border-radius: 6px; text-decoration: none; }
</style></head>
<body><div class="card">{{end}}
{{define "layout_bottom"}}</div></body></html>{{end}}

{{define "confirmation"}}{{template "layout_top"}}
<div class="title">Confirm your email</div>
<div class="body">Welcome! Click the button below to activate your account. The link is valid for 48 hours.</div>
<a class="button" href="{{.ConfirmURL}}">Confirm email</a>
{{template "layout_bottom"}}{{end}}

{{define "deadline_reminder"}}{{template "layout_top"}}
<div class="title">Task deadline approaching</div>
<div class="body">The task <b>{{.TaskTitle}}</b> in <b>{{.EventTitle}}</b> is due {{.DueAt}}.</div>
{{template "layout_bottom"}}{{end}}

{{define "poll_closed"}}{{template "layout_top"}}
<div class="title">Voting has ended</div>
<div class="body">Voting for <b>{{.Question}}</b> in <b>{{.EventTitle}}</b> is closed. Check the results in the app.</div>
{{template "layout_bottom"}}{{end}}

{{define "daily_digest"}}{{template "layout_top"}}
<div class="title">Your daily summary</div>
<div class="body">You have {{.OpenTasks}} open tasks across {{.EventCount}} events.</div>
{{template "layout_bottom"}}{{end}}
`))

// Render executes one of the named mail templates against data.
func Render(name string, data map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
