package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/arborhq/arbor/internal/model"
)

// ConfigSource supplies runtime email settings. Keys are the EMAIL_* and
// BASE_URL configuration keys; missing keys return an error.
type ConfigSource interface {
	ConfigGet(ctx context.Context, key string) (string, error)
	ConfigGetAll(ctx context.Context) (map[string]string, error)
}

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPSender sends mail through the SMTP server described by the
// EMAIL_* configuration keys. Settings are read per send so that
// configuration changes apply without a restart.
type SMTPSender struct {
	config ConfigSource
}

func NewSMTPSender(config ConfigSource) *SMTPSender {
	return &SMTPSender{config: config}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, body string) error {
	cfg, err := s.config.ConfigGetAll(ctx)
	if err != nil {
		return fmt.Errorf("read email config: %w", err)
	}
	host := cfg[model.ConfigEmailHost]
	if host == "" {
		return errors.New("EMAIL_HOST is not configured")
	}
	port := cfg[model.ConfigEmailPort]
	if port == "" {
		port = "25"
	}
	from := cfg[model.ConfigDefaultFromEmail]
	if from == "" {
		from = "noreply@" + host
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if user := cfg[model.ConfigEmailHostUser]; user != "" {
		auth = smtp.PlainAuth("", user, cfg[model.ConfigEmailHostPassword], host)
	}
	if err := smtp.SendMail(host+":"+port, auth, from, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogSender logs messages instead of delivering them. It is the fallback
// when no SMTP host is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to []string, subject, _ string) error {
	slog.Info("email suppressed, no SMTP host configured", "to", to, "subject", subject)
	return nil
}

var (
	confirmTmpl = template.Must(template.New("confirm").Parse(
		`Hello {{.Username}},

please confirm your email address by opening the link below:

{{.BaseURL}}/api/users/-/confirmation/?jwt={{.Token}}

The link is valid for one hour.
`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`Hello {{.Username}},

a password reset was requested for your account. Open the link below to
choose a new password:

{{.BaseURL}}/api/users/-/password/reset/?jwt={{.Token}}

The link is valid for one hour and can be used once. If you did not
request a reset, you can ignore this message.
`))

	newUserTmpl = template.Must(template.New("newuser").Parse(
		`A new user registered and is waiting for approval:

  username:  {{.Username}}
  full name: {{.FullName}}
  email:     {{.Email}}
{{if .Tree}}  tree:      {{.Tree}}
{{end}}
Assign them a role to activate the account.
`))
)

// Service composes and sends the application's mail.
type Service struct {
	config ConfigSource
	sender Sender
}

func NewService(config ConfigSource, sender Sender) *Service {
	if sender == nil {
		sender = LogSender{}
	}
	return &Service{config: config, sender: sender}
}

func (s *Service) baseURL(ctx context.Context) string {
	base, err := s.config.ConfigGet(ctx, model.ConfigBaseURL)
	if err != nil || base == "" {
		return "http://localhost:5555"
	}
	return strings.TrimRight(base, "/")
}

func (s *Service) render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// SendConfirm mails an email confirmation link.
func (s *Service) SendConfirm(ctx context.Context, username, to, token string) error {
	body, err := s.render(confirmTmpl, struct {
		Username, BaseURL, Token string
	}{username, s.baseURL(ctx), token})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, []string{to}, "Confirm your email address", body)
}

// SendReset mails a password reset link.
func (s *Service) SendReset(ctx context.Context, username, to, token string) error {
	body, err := s.render(resetTmpl, struct {
		Username, BaseURL, Token string
	}{username, s.baseURL(ctx), token})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, []string{to}, "Reset your password", body)
}

// SendNewUserNotice notifies tree owners about a pending registration.
func (s *Service) SendNewUserNotice(ctx context.Context, owners []string, username, fullname, email, tree string) error {
	if len(owners) == 0 {
		return nil
	}
	body, err := s.render(newUserTmpl, struct {
		Username, FullName, Email, Tree string
	}{username, fullname, email, tree})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, owners, "New registered user", body)
}
