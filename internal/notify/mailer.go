// Package notify mails batch reports to the operators.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"routine-desk/internal/config"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("routine-desk/internal/notify")

type Message struct {
	Subject string
	Text    string
	Html    string
}

type Mailer struct {
	config config.Mail
}

// NewMailer fails when the mail config cannot send anything.
func NewMailer(cfg config.Mail) (Mailer, error) {
	if cfg.Host == "" {
		return Mailer{}, fmt.Errorf("mail.host is not configured")
	}
	if cfg.From == "" {
		return Mailer{}, fmt.Errorf("mail.from is not configured")
	}
	if len(cfg.To) == 0 {
		return Mailer{}, fmt.Errorf("mail.to is empty")
	}
	return Mailer{config: cfg}, nil
}

func (m Mailer) Send(ctx context.Context, msg Message) error {
	_, span := tracer.Start(ctx, "mailer.send")
	defer span.End()
	span.SetAttributes(attribute.Int("recipients", len(m.config.To)))

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Routine Desk <%s>", m.config.From)
	mail.To = m.config.To
	mail.Subject = msg.Subject
	mail.Text = []byte(msg.Text)
	if msg.Html != "" {
		mail.HTML = []byte(msg.Html)
	}

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	err := mail.Send(addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
