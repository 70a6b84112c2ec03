package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r *strings.Reader) error

// EmailNotifier delivers messages over SMTP with PLAIN authentication.
type EmailNotifier struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailNotifier builds a notifier for cfg.
func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg: cfg,
		sendMail: func(addr string, a sasl.Client, from string, to []string, r *strings.Reader) error {
			return smtp.SendMail(addr, a, from, to, r)
		},
		now: time.Now,
	}
}

// Send writes a plain-text email to message.Destination.
func (n *EmailNotifier) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if message.Destination == "" {
		return fmt.Errorf("email recipient is required")
	}
	var auth sasl.Client
	if n.cfg.Username != "" {
		auth = sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
	}
	return n.sendMail(n.cfg.Addr, auth, n.cfg.From, []string{message.Destination}, strings.NewReader(n.compose(message)))
}

func (n *EmailNotifier) compose(message Message) string {
	subject := message.Subject
	if subject == "" {
		subject = "AfriTokeni notification"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", message.Destination)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(message.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}
