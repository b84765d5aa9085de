package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/wneessen/go-mail"
)

// EmailConfig holds the SMTP transport and sender identity.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailSender delivers reminders over SMTP. A fresh client is dialled per
// message so concurrent sends never share a connection.
type EmailSender struct {
	cfg EmailConfig
}

// NewEmailSender validates cfg and returns a sender.
func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is not configured")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail sender address is not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailSender{cfg: cfg}, nil
}

func (s *EmailSender) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

// Send renders n and transmits it to n.Email.
func (s *EmailSender) Send(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.Email) == "" {
		return &apperr.DeliveryError{Provider: "smtp", Detail: "recipient email address missing"}
	}

	rendered, err := Render(n)
	if err != nil {
		return &apperr.DeliveryError{Provider: "smtp", Detail: err.Error(), Err: err}
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return &apperr.DeliveryError{Provider: "smtp", Detail: "invalid sender address", Err: err}
	}
	if err := msg.To(n.Email); err != nil {
		return &apperr.DeliveryError{Provider: "smtp", Detail: "invalid recipient address", Err: err}
	}
	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)

	client, err := s.client()
	if err != nil {
		return &apperr.DeliveryError{Provider: "smtp", Detail: err.Error(), Err: err}
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return &apperr.DeliveryError{Provider: "smtp", Detail: err.Error(), Err: err}
	}
	return nil
}
